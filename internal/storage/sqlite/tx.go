package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/discord-event-crawler/internal/history"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

type tx struct {
	tx *sql.Tx
}

func (t *tx) LookupCursor(ctx context.Context, table store.CursorTable, source uint64) (uint64, error) {
	srcCol, curCol, err := table.Columns()
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, curCol, table, srcCol)
	var cursor int64
	if err := t.tx.QueryRowContext(ctx, query, int64(source)).Scan(&cursor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("lookup cursor: %w", err)
	}
	return uint64(cursor), nil
}

func (t *tx) InsertCursor(ctx context.Context, table store.CursorTable, source, cursor uint64) error {
	srcCol, curCol, err := table.Columns()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES (?, ?) ON CONFLICT (%s) DO NOTHING`,
		table, srcCol, curCol, srcCol)
	if _, err := t.tx.ExecContext(ctx, query, int64(source), int64(cursor)); err != nil {
		return fmt.Errorf("insert cursor: %w", err)
	}
	return nil
}

func (t *tx) UpdateCursor(ctx context.Context, table store.CursorTable, source, cursor uint64) error {
	srcCol, curCol, err := table.Columns()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = MAX(%s, ?) WHERE %s = ?`, table, curCol, curCol, srcCol)
	res, err := t.tx.ExecContext(ctx, query, int64(cursor), int64(source))
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) DeleteCursor(ctx context.Context, table store.CursorTable, source uint64) error {
	srcCol, _, err := table.Columns()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, srcCol)
	if _, err := t.tx.ExecContext(ctx, query, int64(source)); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return nil
}

func (t *tx) InsertMessage(ctx context.Context, msg store.Message) error {
	const query = `
INSERT INTO messages (
	message_id, channel_id, guild_id, author_id, message_type, content, embeds,
	attachments, webhook_id, referenced_message_id, mentions, created_at, edited_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (message_id) DO NOTHING`

	if _, err := t.tx.ExecContext(ctx, query,
		int64(msg.ID),
		int64(msg.ChannelID),
		int64(msg.GuildID),
		int64(msg.AuthorID),
		msg.Type,
		msg.Content,
		textOrNil(msg.Embeds),
		msg.Attachments,
		nullableID(msg.WebhookID),
		nullableID(msg.ReferencedID),
		msg.MentionsCount,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(msg.EditedAt),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (t *tx) InsertMention(ctx context.Context, m store.Mention) error {
	const query = `
INSERT INTO mentions (mentioned_id, mention_type, message_id, channel_id, guild_id)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (mentioned_id, mention_type, message_id) DO NOTHING`

	if _, err := t.tx.ExecContext(ctx, query,
		int64(m.MentionedID),
		int(m.Type),
		int64(m.MessageID),
		int64(m.ChannelID),
		int64(m.GuildID),
	); err != nil {
		return fmt.Errorf("insert mention: %w", err)
	}
	return nil
}

func (t *tx) UpsertGuild(ctx context.Context, g store.Guild) error {
	const query = `
INSERT INTO guilds (guild_id, name, icon, owner_id)
VALUES (?, ?, ?, ?)
ON CONFLICT (guild_id) DO UPDATE SET
	name = excluded.name,
	icon = excluded.icon,
	owner_id = excluded.owner_id`

	if _, err := t.tx.ExecContext(ctx, query, int64(g.ID), g.Name, g.Icon, int64(g.OwnerID)); err != nil {
		return fmt.Errorf("upsert guild: %w", err)
	}
	return nil
}

func (t *tx) UpsertChannel(ctx context.Context, c store.Channel) error {
	const query = `
INSERT INTO channels (channel_id, guild_id, name, topic, position, is_nsfw, parent_id)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (channel_id) DO UPDATE SET
	guild_id = excluded.guild_id,
	name = excluded.name,
	topic = excluded.topic,
	position = excluded.position,
	is_nsfw = excluded.is_nsfw,
	parent_id = excluded.parent_id`

	if _, err := t.tx.ExecContext(ctx, query,
		int64(c.ID),
		int64(c.GuildID),
		c.Name,
		c.Topic,
		c.Position,
		c.NSFW,
		nullableID(c.ParentID),
	); err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

func (t *tx) UpsertUser(ctx context.Context, u store.User) error {
	const query = `
INSERT INTO users (user_id, name, discriminator, avatar, is_bot)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
	name = excluded.name,
	discriminator = excluded.discriminator,
	avatar = excluded.avatar,
	is_bot = excluded.is_bot`

	if _, err := t.tx.ExecContext(ctx, query, int64(u.ID), u.Name, u.Discriminator, u.Avatar, u.Bot); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (t *tx) UpsertEmoji(ctx context.Context, emoji store.Emoji) error {
	const query = `
INSERT INTO emojis (
	emoji_id, emoji_unicode, name, is_custom, is_managed, is_animated, guild_id, roles
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (emoji_id, emoji_unicode) DO UPDATE SET
	name = excluded.name,
	is_managed = excluded.is_managed,
	is_animated = excluded.is_animated,
	roles = excluded.roles`

	roles := emoji.Roles
	if roles == nil {
		roles = []uint64{}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("marshal emoji roles: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, query,
		int64(emoji.ID),
		emoji.Unicode,
		emoji.Name,
		emoji.Custom,
		emoji.Managed,
		emoji.Animated,
		nullableID(emoji.GuildID),
		string(rolesJSON),
	); err != nil {
		return fmt.Errorf("upsert emoji: %w", err)
	}
	return nil
}

func (t *tx) InsertReaction(ctx context.Context, r store.Reaction) error {
	const query = `
INSERT INTO reactions (message_id, emoji_id, emoji_unicode, user_id, channel_id, guild_id)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (message_id, emoji_id, emoji_unicode, user_id) DO NOTHING`

	if _, err := t.tx.ExecContext(ctx, query,
		int64(r.MessageID),
		int64(r.EmojiID),
		r.EmojiUnicode,
		int64(r.UserID),
		int64(r.ChannelID),
		int64(r.GuildID),
	); err != nil {
		return fmt.Errorf("insert reaction: %w", err)
	}
	return nil
}

func (t *tx) InsertAuditLogEntry(ctx context.Context, entry store.AuditLogEntry) error {
	const query = `
INSERT INTO audit_log (audit_entry_id, guild_id, action, user_id, target_id, reason, changes, options)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (audit_entry_id) DO NOTHING`

	if _, err := t.tx.ExecContext(ctx, query,
		int64(entry.ID),
		int64(entry.GuildID),
		entry.Action,
		int64(entry.UserID),
		int64(entry.TargetID),
		entry.Reason,
		textOrNil(entry.Changes),
		textOrNil(entry.Options),
	); err != nil {
		return fmt.Errorf("insert audit log entry: %w", err)
	}
	return nil
}

func (t *tx) LookupHistory(ctx context.Context, channelID uint64) (*history.History, error) {
	var first sql.NullInt64
	err := t.tx.QueryRowContext(ctx,
		`SELECT first_message_id FROM channel_history WHERE channel_id = ?`, int64(channelID),
	).Scan(&first)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("lookup history: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT start_message_id, end_message_id FROM channel_history_ranges WHERE channel_id = ? ORDER BY start_message_id`,
		int64(channelID),
	)
	if err != nil {
		return nil, fmt.Errorf("lookup history ranges: %w", err)
	}
	defer rows.Close()

	var starts, ends []uint64
	for rows.Next() {
		var start, end int64
		if err := rows.Scan(&start, &end); err != nil {
			return nil, fmt.Errorf("scan history range: %w", err)
		}
		starts = append(starts, uint64(start))
		ends = append(ends, uint64(end))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history ranges: %w", err)
	}

	var origin *uint64
	if first.Valid {
		v := uint64(first.Int64)
		origin = &v
	}
	return history.FromRanges(origin, starts, ends)
}

func (t *tx) SaveHistory(ctx context.Context, channelID uint64, h *history.History) error {
	var first any
	if h.First != nil {
		first = int64(*h.First)
	}
	if _, err := t.tx.ExecContext(ctx, `
INSERT INTO channel_history (channel_id, first_message_id) VALUES (?, ?)
ON CONFLICT (channel_id) DO UPDATE SET first_message_id = excluded.first_message_id`,
		int64(channelID), first,
	); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM channel_history_ranges WHERE channel_id = ?`, int64(channelID),
	); err != nil {
		return fmt.Errorf("clear history ranges: %w", err)
	}
	for _, r := range h.Ranges() {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO channel_history_ranges (channel_id, start_message_id, end_message_id) VALUES (?, ?, ?)`,
			int64(channelID), int64(r.Start), int64(r.End),
		); err != nil {
			return fmt.Errorf("save history range %s: %w", r, err)
		}
	}
	return nil
}

func (t *tx) DeleteHistory(ctx context.Context, channelID uint64) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM channel_history_ranges WHERE channel_id = ?`, int64(channelID),
	); err != nil {
		return fmt.Errorf("delete history ranges: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM channel_history WHERE channel_id = ?`, int64(channelID),
	); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func nullableID(id *uint64) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func textOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
