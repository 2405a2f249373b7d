package sources

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/discord-event-crawler/internal/crawler"
	"github.com/JakeFAU/discord-event-crawler/internal/snowflake"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

// AuditLog crawls the audit log of every tracked guild. Sources are guild IDs.
type AuditLog struct {
	remote    AuditLogRemote
	store     store.Store
	batchSize int
	logger    *zap.Logger
}

var _ crawler.Hooks[string, AuditLogEntry] = (*AuditLog)(nil)

// NewAuditLog constructs the audit log hooks.
func NewAuditLog(remote AuditLogRemote, st store.Store, cfg Config, logger *zap.Logger) *AuditLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLog{
		remote:    remote,
		store:     st,
		batchSize: cfg.batchSize(),
		logger:    logger.Named("audit_log"),
	}
}

// Init seeds progress with every tracked guild present in the gateway state.
func (a *AuditLog) Init(ctx context.Context, progress *crawler.Progress[string]) error {
	guilds := a.remote.Guilds()
	cursors := make([]uint64, len(guilds))
	err := a.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for i, guildID := range guilds {
			id, err := snowflake.Parse(guildID)
			if err != nil {
				return fmt.Errorf("guild id: %w", err)
			}
			if cursors[i], err = lookupOrInsertCursor(ctx, tx, store.AuditLogCrawl, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed audit log cursors: %w", err)
	}
	for i, guildID := range guilds {
		progress.Set(guildID, cursors[i])
	}
	a.logger.Info("Tracking guild audit logs", zap.Int("guilds", len(guilds)))
	return nil
}

// Read fetches the next audit log entries of a guild, oldest first.
func (a *AuditLog) Read(ctx context.Context, guildID string, cursor uint64) ([]AuditLogEntry, error) {
	a.logger.Debug("Reading audit log",
		zap.String("guild", guildID),
		zap.Uint64("cursor", cursor),
		zap.Time("after", snowflake.Time(cursor)),
	)
	entries, err := a.remote.AuditLogAfter(ctx, guildID, cursor, a.batchSize)
	if err != nil {
		return nil, err
	}
	out := make([]AuditLogEntry, 0, len(entries))
	for _, e := range entries {
		entry, err := NewAuditLogEntry(guildID, e)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Write stores each entry.
func (a *AuditLog) Write(ctx context.Context, tx store.Tx, entries []AuditLogEntry) error {
	for _, e := range entries {
		rec, err := auditLogRecord(e)
		if err != nil {
			return err
		}
		if err := tx.InsertAuditLogEntry(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Update advances the guild cursor.
func (a *AuditLog) Update(ctx context.Context, tx store.Tx, guildID string, cursor uint64) error {
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return err
	}
	if err := tx.UpdateCursor(ctx, store.AuditLogCrawl, id, cursor); err != nil {
		return fmt.Errorf("update audit log cursor of %s: %w", guildID, err)
	}
	return nil
}
