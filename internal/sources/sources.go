// Package sources implements the crawler hooks for Discord: message history
// per text channel and audit log entries per guild.
package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/JakeFAU/discord-event-crawler/internal/snowflake"
)

// Crawler names, as they appear in logs, metrics and the status API.
const (
	HistoryName  = "Channels"
	AuditLogName = "Audit Log"
)

// DefaultBatchSize is used when Config.BatchSize is unset.
const DefaultBatchSize = 100

// hookTimeout bounds the store work done by a topology callback.
const hookTimeout = 30 * time.Second

// Config tunes the source hooks.
type Config struct {
	// BatchSize is the most events a single Read returns.
	BatchSize int
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}

// Guilds is the view of the configured guilds shared by both crawlers.
type Guilds interface {
	// Guilds lists configured guilds present in the gateway state.
	Guilds() []string
	Tracked(guildID string) bool
	HasGuild(guildID string) bool
}

// ChannelRemote is what the history crawler needs from Discord.
type ChannelRemote interface {
	Guilds
	Guild(guildID string) (*discordgo.Guild, error)
	TextChannels(guildID string) ([]*discordgo.Channel, error)
	CanReadHistory(ch *discordgo.Channel) bool
	MessagesAfter(ctx context.Context, channelID string, after uint64, limit int) ([]*discordgo.Message, error)
	OldestMessage(ctx context.Context, channelID string) (*discordgo.Message, error)
	ReactionUsers(ctx context.Context, channelID, messageID string, emoji *discordgo.Emoji) ([]*discordgo.User, error)
	OnChannelCreate(fn func(ch *discordgo.Channel))
	OnChannelDelete(fn func(ch *discordgo.Channel))
	OnChannelUpdate(fn func(before, after *discordgo.Channel))
}

// AuditLogRemote is what the audit log crawler needs from Discord.
type AuditLogRemote interface {
	Guilds
	AuditLogAfter(ctx context.Context, guildID string, after uint64, limit int) ([]*discordgo.AuditLogEntry, error)
}

// Message is a crawled chat message.
type Message struct {
	*discordgo.Message
	id uint64
}

// NewMessage wraps m, validating its ID.
func NewMessage(m *discordgo.Message) (Message, error) {
	if m == nil {
		return Message{}, fmt.Errorf("nil message")
	}
	id, err := snowflake.Parse(m.ID)
	if err != nil {
		return Message{}, fmt.Errorf("message id: %w", err)
	}
	return Message{Message: m, id: id}, nil
}

// EventID returns the message snowflake.
func (m Message) EventID() uint64 { return m.id }

// AuditLogEntry is a crawled audit log entry of GuildID.
type AuditLogEntry struct {
	*discordgo.AuditLogEntry
	GuildID string
	id      uint64
}

// NewAuditLogEntry wraps e, validating its ID.
func NewAuditLogEntry(guildID string, e *discordgo.AuditLogEntry) (AuditLogEntry, error) {
	if e == nil {
		return AuditLogEntry{}, fmt.Errorf("nil audit log entry")
	}
	id, err := snowflake.Parse(e.ID)
	if err != nil {
		return AuditLogEntry{}, fmt.Errorf("audit log entry id: %w", err)
	}
	return AuditLogEntry{AuditLogEntry: e, GuildID: guildID, id: id}, nil
}

// EventID returns the entry snowflake.
func (e AuditLogEntry) EventID() uint64 { return e.id }
