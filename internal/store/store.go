package store

import (
	"context"
	"errors"

	"github.com/JakeFAU/discord-event-crawler/internal/history"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// CursorTable names a resume-cursor table. Each maps one source ID to the last
// event ID persisted for it.
type CursorTable string

// Cursor tables known to every store.
const (
	ChannelCrawl  CursorTable = "channel_crawl"
	AuditLogCrawl CursorTable = "audit_log_crawl"
)

// Columns returns the source and cursor column names of the table.
func (t CursorTable) Columns() (source, cursor string, err error) {
	switch t {
	case ChannelCrawl:
		return "channel_id", "last_message_id", nil
	case AuditLogCrawl:
		return "guild_id", "last_audit_entry_id", nil
	default:
		return "", "", errors.New("unknown cursor table: " + string(t))
	}
}

// Tx is the set of statements a crawler may run inside one transaction.
// Inserts of events are idempotent so a replayed item is harmless.
type Tx interface {
	// LookupCursor returns ErrNotFound when the source has no row.
	LookupCursor(ctx context.Context, table CursorTable, source uint64) (uint64, error)
	// InsertCursor creates the row if absent and leaves an existing row alone.
	InsertCursor(ctx context.Context, table CursorTable, source, cursor uint64) error
	// UpdateCursor never moves a cursor backwards. It returns ErrNotFound when
	// the source has no row.
	UpdateCursor(ctx context.Context, table CursorTable, source, cursor uint64) error
	DeleteCursor(ctx context.Context, table CursorTable, source uint64) error

	InsertMessage(ctx context.Context, msg Message) error
	InsertMention(ctx context.Context, mention Mention) error
	// UpsertGuild, UpsertChannel and UpsertUser overwrite the lookup row with
	// the latest values seen.
	UpsertGuild(ctx context.Context, guild Guild) error
	UpsertChannel(ctx context.Context, channel Channel) error
	UpsertUser(ctx context.Context, user User) error
	UpsertEmoji(ctx context.Context, emoji Emoji) error
	InsertReaction(ctx context.Context, reaction Reaction) error
	InsertAuditLogEntry(ctx context.Context, entry AuditLogEntry) error

	// LookupHistory returns ErrNotFound when the channel has no history row.
	LookupHistory(ctx context.Context, channelID uint64) (*history.History, error)
	// SaveHistory replaces the persisted coverage of the channel.
	SaveHistory(ctx context.Context, channelID uint64, h *history.History) error
	DeleteHistory(ctx context.Context, channelID uint64) error
}

// TxFunc is the body of a transaction. Returning an error rolls it back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store opens transactions.
type Store interface {
	// WithTx commits when fn returns nil and rolls back when it returns an
	// error or panics.
	WithTx(ctx context.Context, fn TxFunc) error
	Close() error
}
