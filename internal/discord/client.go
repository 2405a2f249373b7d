// Package discord adapts a discordgo session to the calls the crawlers make:
// gateway readiness, guild and channel state, paginated history reads and
// channel topology callbacks.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/retry"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/discord-event-crawler/internal/policy/ratelimit"
)

// closeAuthenticationFailed is the gateway close code for a rejected token.
const closeAuthenticationFailed = 4004

// Intents requested on identify.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildMessageReactions

// Config controls the Discord session.
type Config struct {
	Token  string
	Guilds []string
	// OpenAttempts bounds how often the gateway connection is retried.
	OpenAttempts uint
	// RequestsPerSecond paces history reads per channel and audit log reads
	// per guild. Zero leaves pacing to discordgo's bucket handling.
	RequestsPerSecond float64
	RequestBurst      int
}

// Client wraps a discordgo session restricted to a set of tracked guilds.
type Client struct {
	session *discordgo.Session
	guilds  map[string]struct{}
	logger  *zap.Logger
	cfg     Config
	limiter *ratelimit.Limiter

	mu        sync.Mutex
	pending   map[string]struct{}
	ready     chan struct{}
	readyOnce sync.Once
}

// New builds a client. The gateway is not contacted until Open.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord.token is required")
	}
	if len(cfg.Guilds) == 0 {
		return nil, errors.New("discord.guilds must list at least one guild")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = Intents

	guilds := make(map[string]struct{}, len(cfg.Guilds))
	for _, id := range cfg.Guilds {
		guilds[strings.TrimSpace(id)] = struct{}{}
	}
	c := &Client{
		session: session,
		guilds:  guilds,
		logger:  logger.Named("discord"),
		cfg:     cfg,
		limiter: ratelimit.New(ratelimit.Config{RPS: cfg.RequestsPerSecond, Burst: cfg.RequestBurst}),
		ready:   make(chan struct{}),
	}
	session.AddHandler(c.onReady)
	session.AddHandler(c.onGuildCreate)
	return c, nil
}

// Session exposes the underlying discordgo session.
func (c *Client) Session() *discordgo.Session {
	return c.session
}

// Open connects to the gateway, retrying transient failures. A rejected token
// fails immediately.
func (c *Client) Open(ctx context.Context) error {
	attempts := c.cfg.OpenAttempts
	if attempts == 0 {
		attempts = 5
	}
	err := retry.Do(
		func() error {
			err := c.session.Open()
			if err == nil {
				return nil
			}
			if errors.Is(err, discordgo.ErrWSAlreadyOpen) || isAuthFailure(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Gateway connection failed, retrying", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	return c.session.Close()
}

// WaitUntilReady blocks until the gateway has delivered every tracked guild.
func (c *Client) WaitUntilReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports readiness without blocking.
func (c *Client) Ready() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// Tracked reports whether guildID is configured for crawling.
func (c *Client) Tracked(guildID string) bool {
	_, ok := c.guilds[guildID]
	return ok
}

// Guilds returns the configured guild IDs that are present in the gateway
// state.
func (c *Client) Guilds() []string {
	out := make([]string, 0, len(c.guilds))
	for _, id := range c.cfg.Guilds {
		id = strings.TrimSpace(id)
		if c.HasGuild(id) {
			out = append(out, id)
		}
	}
	return out
}

// HasGuild reports whether guildID is tracked and known to the gateway state.
func (c *Client) HasGuild(guildID string) bool {
	if !c.Tracked(guildID) {
		return false
	}
	_, err := c.session.State.Guild(guildID)
	return err == nil
}

// Guild returns the cached state of a tracked guild.
func (c *Client) Guild(guildID string) (*discordgo.Guild, error) {
	if !c.Tracked(guildID) {
		return nil, fmt.Errorf("guild %s is not tracked", guildID)
	}
	guild, err := c.session.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("lookup guild %s: %w", guildID, err)
	}
	return guild, nil
}

// TextChannels lists the text and announcement channels of a guild.
func (c *Client) TextChannels(guildID string) ([]*discordgo.Channel, error) {
	guild, err := c.session.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("lookup guild %s: %w", guildID, err)
	}
	c.session.State.RLock()
	defer c.session.State.RUnlock()
	out := make([]*discordgo.Channel, 0, len(guild.Channels))
	for _, ch := range guild.Channels {
		if IsTextChannel(ch) {
			out = append(out, ch)
		}
	}
	return out, nil
}

// IsTextChannel reports whether ch carries a readable message history.
func IsTextChannel(ch *discordgo.Channel) bool {
	if ch == nil {
		return false
	}
	return ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews
}

// CanReadHistory reports whether the bot may view ch and read its history.
func (c *Client) CanReadHistory(ch *discordgo.Channel) bool {
	if !IsTextChannel(ch) {
		return false
	}
	user := c.session.State.User
	if user == nil {
		return false
	}
	perms, err := c.session.State.UserChannelPermissions(user.ID, ch.ID)
	if err != nil {
		c.logger.Debug("Cannot resolve channel permissions", zap.String("channel", ch.ID), zap.Error(err))
		return false
	}
	const want = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory
	return perms&want == want
}

// OnChannelCreate registers fn for channel creation events.
func (c *Client) OnChannelCreate(fn func(ch *discordgo.Channel)) {
	c.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelCreate) {
		fn(e.Channel)
	})
}

// OnChannelDelete registers fn for channel deletion events.
func (c *Client) OnChannelDelete(fn func(ch *discordgo.Channel)) {
	c.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelDelete) {
		fn(e.Channel)
	})
}

// OnChannelUpdate registers fn for channel updates. before is nil when the
// channel was not cached.
func (c *Client) OnChannelUpdate(fn func(before, after *discordgo.Channel)) {
	c.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelUpdate) {
		fn(e.BeforeUpdate, e.Channel)
	})
}

func (c *Client) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.mu.Lock()
	seen := make(map[string]struct{}, len(r.Guilds))
	c.pending = make(map[string]struct{})
	for _, g := range r.Guilds {
		seen[g.ID] = struct{}{}
		if c.Tracked(g.ID) {
			c.pending[g.ID] = struct{}{}
		}
	}
	c.mu.Unlock()

	name := ""
	if r.User != nil {
		name = r.User.Username
	}
	c.logger.Info("Gateway session ready", zap.String("user", name), zap.Int("guilds", len(r.Guilds)))
	for id := range c.guilds {
		if _, ok := seen[id]; !ok {
			c.logger.Warn("Configured guild is not visible to the bot", zap.String("guild", id))
		}
	}
	c.checkReady()
}

func (c *Client) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil {
		return
	}
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, g.ID)
	}
	c.mu.Unlock()
	c.checkReady()
}

func (c *Client) checkReady() {
	c.mu.Lock()
	done := c.pending != nil && len(c.pending) == 0
	c.mu.Unlock()
	if done {
		c.readyOnce.Do(func() {
			c.logger.Info("All tracked guilds loaded")
			close(c.ready)
		})
	}
}

func isAuthFailure(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == closeAuthenticationFailed {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusUnauthorized
	}
	return false
}
