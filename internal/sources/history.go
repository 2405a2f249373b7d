package sources

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/JakeFAU/discord-event-crawler/internal/crawler"
	"github.com/JakeFAU/discord-event-crawler/internal/history"
	"github.com/JakeFAU/discord-event-crawler/internal/snowflake"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

// History crawls the message history of every readable text channel in the
// tracked guilds. Sources are channel IDs.
type History struct {
	remote    ChannelRemote
	store     store.Store
	batchSize int
	logger    *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	progress *crawler.Progress[string]
	channels map[string]*discordgo.Channel
}

var _ crawler.Hooks[string, Message] = (*History)(nil)

// NewHistory constructs the channel history hooks.
func NewHistory(remote ChannelRemote, st store.Store, cfg Config, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{
		remote:    remote,
		store:     st,
		batchSize: cfg.batchSize(),
		logger:    logger.Named("history"),
		channels:  make(map[string]*discordgo.Channel),
	}
}

type channelSeed struct {
	channel *discordgo.Channel
	id      uint64
	cursor  uint64
	history *history.History
}

// Init seeds progress with every eligible channel, creating cursor and
// coverage rows for channels seen for the first time, then subscribes to
// channel topology changes.
func (h *History) Init(ctx context.Context, progress *crawler.Progress[string]) error {
	h.mu.Lock()
	h.ctx = ctx
	h.progress = progress
	h.mu.Unlock()

	var channels []*discordgo.Channel
	for _, guildID := range h.remote.Guilds() {
		chs, err := h.remote.TextChannels(guildID)
		if err != nil {
			return fmt.Errorf("list channels of guild %s: %w", guildID, err)
		}
		for _, ch := range chs {
			if !h.remote.CanReadHistory(ch) {
				h.logger.Debug("Skipping unreadable channel", zap.String("channel", ch.ID), zap.String("name", ch.Name))
				continue
			}
			channels = append(channels, ch)
		}
	}

	var seeds []channelSeed
	err := h.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seeds = seeds[:0]
		for _, ch := range channels {
			id, err := snowflake.Parse(ch.ID)
			if err != nil {
				return fmt.Errorf("channel id: %w", err)
			}
			cursor, err := lookupOrInsertCursor(ctx, tx, store.ChannelCrawl, id)
			if err != nil {
				return err
			}
			hist, err := tx.LookupHistory(ctx, id)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("lookup history of %s: %w", ch.ID, err)
			}
			seeds = append(seeds, channelSeed{channel: ch, id: id, cursor: cursor, history: hist})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed channel cursors: %w", err)
	}

	var fresh []channelSeed
	for i := range seeds {
		if seeds[i].history == nil {
			seeds[i].history = h.probeHistory(ctx, seeds[i].channel.ID)
			fresh = append(fresh, seeds[i])
		}
	}
	if len(fresh) > 0 {
		err := h.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			for _, s := range fresh {
				if err := tx.SaveHistory(ctx, s.id, s.history); err != nil {
					return fmt.Errorf("save history of %s: %w", s.channel.ID, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("create channel histories: %w", err)
		}
	}

	for _, s := range seeds {
		h.remember(s.channel)
		progress.Set(s.channel.ID, s.cursor)
		if resume, ok := s.history.FindFirstHole(s.cursor); ok {
			h.logger.Info("Channel history has a gap",
				zap.String("channel", s.channel.ID),
				zap.String("history", s.history.String()),
				zap.Uint64("resume", resume),
			)
		}
	}

	h.remote.OnChannelCreate(h.onChannelCreate)
	h.remote.OnChannelDelete(h.onChannelDelete)
	h.remote.OnChannelUpdate(h.onChannelUpdate)
	h.logger.Info("Tracking channels", zap.Int("channels", len(seeds)))
	return nil
}

// Read fetches the next messages of a channel, oldest first.
func (h *History) Read(ctx context.Context, channelID string, cursor uint64) ([]Message, error) {
	h.logger.Debug("Reading channel",
		zap.String("channel", channelID),
		zap.Uint64("cursor", cursor),
		zap.Time("after", snowflake.Time(cursor)),
	)
	msgs, err := h.remote.MessagesAfter(ctx, channelID, cursor, h.batchSize)
	if err != nil {
		return nil, err
	}
	guildID := h.guild(channelID)
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		msg, err := NewMessage(m)
		if err != nil {
			return nil, err
		}
		if msg.GuildID == "" {
			msg.GuildID = guildID
		}
		if msg.ChannelID == "" {
			msg.ChannelID = channelID
		}
		out = append(out, msg)
	}
	if len(out) > 0 {
		h.logger.Debug("Queued messages", zap.String("channel", channelID), zap.Int("messages", len(out)))
	}
	return out, nil
}

// Write stores each message with its mentions and the current users of each
// of its reactions. The guild, channel and user rows a message refers to are
// refreshed once per batch.
func (h *History) Write(ctx context.Context, tx store.Tx, messages []Message) error {
	seen := make(lookups)
	for _, m := range messages {
		rec, err := messageRecord(m)
		if err != nil {
			return err
		}
		if err := h.writeLookups(ctx, tx, m, rec, seen); err != nil {
			return err
		}
		if err := tx.InsertMessage(ctx, rec); err != nil {
			return err
		}
		mentions, err := mentionRecords(m, rec)
		if err != nil {
			return err
		}
		for _, mention := range mentions {
			if err := tx.InsertMention(ctx, mention); err != nil {
				return err
			}
		}
		for _, reaction := range m.Reactions {
			if reaction == nil || reaction.Emoji == nil {
				continue
			}
			if err := h.writeReaction(ctx, tx, m, rec, reaction.Emoji, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// lookups remembers which guild, channel and user rows a batch already wrote.
type lookups map[string]bool

func (l lookups) first(kind, id string) bool {
	key := kind + "/" + id
	if l[key] {
		return false
	}
	l[key] = true
	return true
}

func (h *History) writeLookups(ctx context.Context, tx store.Tx, m Message, rec store.Message, seen lookups) error {
	if rec.GuildID != 0 && seen.first("guild", m.GuildID) {
		g, err := h.remote.Guild(m.GuildID)
		if err != nil {
			h.logger.Debug("Guild missing from state", zap.String("guild", m.GuildID), zap.Error(err))
		} else {
			row, err := guildRecord(g)
			if err != nil {
				return err
			}
			if err := tx.UpsertGuild(ctx, row); err != nil {
				return err
			}
		}
	}
	if ch := h.channel(m.ChannelID); ch != nil && seen.first("channel", ch.ID) {
		row, err := channelRecord(ch, rec.GuildID)
		if err != nil {
			return err
		}
		if err := tx.UpsertChannel(ctx, row); err != nil {
			return err
		}
	}
	if err := writeUser(ctx, tx, m.Author, seen); err != nil {
		return err
	}
	for _, u := range m.Mentions {
		if err := writeUser(ctx, tx, u, seen); err != nil {
			return err
		}
	}
	return nil
}

func writeUser(ctx context.Context, tx store.Tx, u *discordgo.User, seen lookups) error {
	if u == nil || u.ID == "" || !seen.first("user", u.ID) {
		return nil
	}
	row, err := userRecord(u)
	if err != nil {
		return err
	}
	return tx.UpsertUser(ctx, row)
}

func (h *History) writeReaction(ctx context.Context, tx store.Tx, m Message, rec store.Message, e *discordgo.Emoji, seen lookups) error {
	users, err := h.remote.ReactionUsers(ctx, m.ChannelID, m.ID, e)
	if err != nil {
		return err
	}
	emoji, err := emojiRecord(e, rec.GuildID)
	if err != nil {
		return err
	}
	if err := tx.UpsertEmoji(ctx, emoji); err != nil {
		return err
	}
	for _, u := range users {
		if u == nil {
			continue
		}
		if err := writeUser(ctx, tx, u, seen); err != nil {
			return err
		}
		r, err := reactionRecord(rec, emoji, u)
		if err != nil {
			return err
		}
		if err := tx.InsertReaction(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Update advances the channel cursor and records [previous, cursor] as
// covered.
func (h *History) Update(ctx context.Context, tx store.Tx, channelID string, cursor uint64) error {
	id, err := snowflake.Parse(channelID)
	if err != nil {
		return err
	}
	prev, err := tx.LookupCursor(ctx, store.ChannelCrawl, id)
	if err != nil {
		return fmt.Errorf("lookup cursor of %s: %w", channelID, err)
	}
	if err := tx.UpdateCursor(ctx, store.ChannelCrawl, id, cursor); err != nil {
		return fmt.Errorf("update cursor of %s: %w", channelID, err)
	}
	if cursor <= prev {
		return nil
	}

	hist, err := tx.LookupHistory(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		hist = history.New(nil)
	case err != nil:
		return fmt.Errorf("lookup history of %s: %w", channelID, err)
	}
	hist.Insert(history.Range{Start: prev, End: cursor})
	if err := tx.SaveHistory(ctx, id, hist); err != nil {
		return fmt.Errorf("save history of %s: %w", channelID, err)
	}
	return nil
}

func (h *History) eligible(ch *discordgo.Channel) bool {
	return ch != nil && h.remote.Tracked(ch.GuildID) && h.remote.CanReadHistory(ch)
}

func (h *History) onChannelCreate(ch *discordgo.Channel) {
	if !h.eligible(ch) || h.progress.Contains(ch.ID) {
		return
	}
	h.logger.Info("Adding channel to tracked channels", zap.String("channel", ch.ID), zap.String("name", ch.Name))
	h.track(ch)
}

func (h *History) onChannelDelete(ch *discordgo.Channel) {
	if ch == nil || !h.remote.Tracked(ch.GuildID) {
		return
	}
	h.logger.Info("Removing channel from tracked channels", zap.String("channel", ch.ID), zap.String("name", ch.Name))
	h.untrack(ch)
}

func (h *History) onChannelUpdate(_, after *discordgo.Channel) {
	if after == nil {
		return
	}
	ok := h.eligible(after)
	tracked := h.progress.Contains(after.ID)
	switch {
	case ok && !tracked:
		h.logger.Info("Channel became readable, adding", zap.String("channel", after.ID), zap.String("name", after.Name))
		h.track(after)
	case !ok && tracked:
		h.logger.Info("Channel no longer readable, removing", zap.String("channel", after.ID), zap.String("name", after.Name))
		h.untrack(after)
	case ok:
		h.remember(after)
	}
}

func (h *History) track(ch *discordgo.Channel) {
	ctx, cancel := h.hookContext()
	defer cancel()

	id, err := snowflake.Parse(ch.ID)
	if err != nil {
		h.logger.Warn("Ignoring channel with invalid id", zap.String("channel", ch.ID), zap.Error(err))
		return
	}
	probed := h.probeHistory(ctx, ch.ID)

	var cursor uint64
	err = h.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if cursor, err = lookupOrInsertCursor(ctx, tx, store.ChannelCrawl, id); err != nil {
			return err
		}
		_, err = tx.LookupHistory(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return tx.SaveHistory(ctx, id, probed)
		}
		return err
	})
	if err != nil {
		h.logger.Error("Failed to track channel", zap.String("channel", ch.ID), zap.Error(err))
		return
	}
	h.remember(ch)
	h.progress.Add(ch.ID, cursor)
}

func (h *History) untrack(ch *discordgo.Channel) {
	h.progress.Delete(ch.ID)
	h.forget(ch.ID)

	id, err := snowflake.Parse(ch.ID)
	if err != nil {
		return
	}
	ctx, cancel := h.hookContext()
	defer cancel()
	err = h.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.DeleteCursor(ctx, store.ChannelCrawl, id); err != nil {
			return err
		}
		return tx.DeleteHistory(ctx, id)
	})
	if err != nil {
		h.logger.Error("Failed to delete channel progress", zap.String("channel", ch.ID), zap.Error(err))
	}
}

// probeHistory returns an empty coverage record whose origin is the oldest
// message of the channel, when one can be found.
func (h *History) probeHistory(ctx context.Context, channelID string) *history.History {
	msg, err := h.remote.OldestMessage(ctx, channelID)
	if err != nil {
		h.logger.Warn("Cannot probe channel origin", zap.String("channel", channelID), zap.Error(err))
		return history.New(nil)
	}
	if msg == nil {
		return history.New(nil)
	}
	first, err := snowflake.Parse(msg.ID)
	if err != nil {
		return history.New(nil)
	}
	return history.New(&first)
}

func (h *History) hookContext() (context.Context, context.CancelFunc) {
	h.mu.Lock()
	base := h.ctx
	h.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, hookTimeout)
}

func (h *History) remember(ch *discordgo.Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[ch.ID] = ch
}

func (h *History) forget(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, channelID)
}

func (h *History) channel(channelID string) *discordgo.Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[channelID]
}

func (h *History) guild(channelID string) string {
	if ch := h.channel(channelID); ch != nil {
		return ch.GuildID
	}
	return ""
}

func lookupOrInsertCursor(ctx context.Context, tx store.Tx, table store.CursorTable, source uint64) (uint64, error) {
	cursor, err := tx.LookupCursor(ctx, table, source)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := tx.InsertCursor(ctx, table, source, 0); err != nil {
			return 0, fmt.Errorf("insert %s cursor for %d: %w", table, source, err)
		}
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("lookup %s cursor for %d: %w", table, source, err)
	}
	return cursor, nil
}
