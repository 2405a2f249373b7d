package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/discord-event-crawler/internal/history"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

// tx adapts a pgx transaction to store.Tx. Snowflakes fit in 63 bits, so they
// are stored as BIGINT.
type tx struct {
	tx pgx.Tx
}

func (t *tx) LookupCursor(ctx context.Context, table store.CursorTable, source uint64) (uint64, error) {
	srcCol, curCol, err := table.Columns()
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, curCol, table, srcCol)
	var cursor int64
	if err := t.tx.QueryRow(ctx, query, int64(source)).Scan(&cursor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT (%s) DO NOTHING`,
		table, srcCol, curCol, srcCol)
	if _, err := t.tx.Exec(ctx, query, int64(source), int64(cursor)); err != nil {
		return fmt.Errorf("insert cursor: %w", err)
	}
	return nil
}

func (t *tx) UpdateCursor(ctx context.Context, table store.CursorTable, source, cursor uint64) error {
	srcCol, curCol, err := table.Columns()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = GREATEST(%s, $2) WHERE %s = $1`, table, curCol, curCol, srcCol)
	res, err := t.tx.Exec(ctx, query, int64(source), int64(cursor))
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) DeleteCursor(ctx context.Context, table store.CursorTable, source uint64) error {
	srcCol, _, err := table.Columns()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, srcCol)
	if _, err := t.tx.Exec(ctx, query, int64(source)); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return nil
}

func (t *tx) InsertMessage(ctx context.Context, msg store.Message) error {
	const query = `
INSERT INTO messages (
	message_id,
	channel_id,
	guild_id,
	author_id,
	message_type,
	content,
	embeds,
	attachments,
	webhook_id,
	referenced_message_id,
	mentions,
	created_at,
	edited_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
) ON CONFLICT (message_id) DO NOTHING`

	args := []any{
		int64(msg.ID),
		int64(msg.ChannelID),
		int64(msg.GuildID),
		int64(msg.AuthorID),
		msg.Type,
		msg.Content,
		jsonOrNil(msg.Embeds),
		msg.Attachments,
		nullableID(msg.WebhookID),
		nullableID(msg.ReferencedID),
		msg.MentionsCount,
		msg.CreatedAt,
		msg.EditedAt,
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (t *tx) InsertMention(ctx context.Context, m store.Mention) error {
	const query = `
INSERT INTO mentions (
	mentioned_id,
	mention_type,
	message_id,
	channel_id,
	guild_id
) VALUES (
	$1,$2,$3,$4,$5
) ON CONFLICT (mentioned_id, mention_type, message_id) DO NOTHING`

	args := []any{
		int64(m.MentionedID),
		int16(m.Type),
		int64(m.MessageID),
		int64(m.ChannelID),
		int64(m.GuildID),
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert mention: %w", err)
	}
	return nil
}

func (t *tx) UpsertGuild(ctx context.Context, g store.Guild) error {
	const query = `
INSERT INTO guilds (
	guild_id,
	name,
	icon,
	owner_id
) VALUES (
	$1,$2,$3,$4
) ON CONFLICT (guild_id) DO UPDATE SET
	name = EXCLUDED.name,
	icon = EXCLUDED.icon,
	owner_id = EXCLUDED.owner_id`

	if _, err := t.tx.Exec(ctx, query, int64(g.ID), g.Name, g.Icon, int64(g.OwnerID)); err != nil {
		return fmt.Errorf("upsert guild: %w", err)
	}
	return nil
}

func (t *tx) UpsertChannel(ctx context.Context, c store.Channel) error {
	const query = `
INSERT INTO channels (
	channel_id,
	guild_id,
	name,
	topic,
	position,
	is_nsfw,
	parent_id
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
) ON CONFLICT (channel_id) DO UPDATE SET
	guild_id = EXCLUDED.guild_id,
	name = EXCLUDED.name,
	topic = EXCLUDED.topic,
	position = EXCLUDED.position,
	is_nsfw = EXCLUDED.is_nsfw,
	parent_id = EXCLUDED.parent_id`

	args := []any{
		int64(c.ID),
		int64(c.GuildID),
		c.Name,
		c.Topic,
		int32(c.Position),
		c.NSFW,
		nullableID(c.ParentID),
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

func (t *tx) UpsertUser(ctx context.Context, u store.User) error {
	const query = `
INSERT INTO users (
	user_id,
	name,
	discriminator,
	avatar,
	is_bot
) VALUES (
	$1,$2,$3,$4,$5
) ON CONFLICT (user_id) DO UPDATE SET
	name = EXCLUDED.name,
	discriminator = EXCLUDED.discriminator,
	avatar = EXCLUDED.avatar,
	is_bot = EXCLUDED.is_bot`

	if _, err := t.tx.Exec(ctx, query, int64(u.ID), u.Name, u.Discriminator, u.Avatar, u.Bot); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (t *tx) UpsertEmoji(ctx context.Context, emoji store.Emoji) error {
	const query = `
INSERT INTO emojis (
	emoji_id,
	emoji_unicode,
	name,
	is_custom,
	is_managed,
	is_animated,
	guild_id,
	roles
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (emoji_id, emoji_unicode) DO UPDATE SET
	name = EXCLUDED.name,
	is_managed = EXCLUDED.is_managed,
	is_animated = EXCLUDED.is_animated,
	roles = EXCLUDED.roles`

	roles := make([]int64, len(emoji.Roles))
	for i, r := range emoji.Roles {
		roles[i] = int64(r)
	}
	args := []any{
		int64(emoji.ID),
		emoji.Unicode,
		emoji.Name,
		emoji.Custom,
		emoji.Managed,
		emoji.Animated,
		nullableID(emoji.GuildID),
		roles,
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert emoji: %w", err)
	}
	return nil
}

func (t *tx) InsertReaction(ctx context.Context, r store.Reaction) error {
	const query = `
INSERT INTO reactions (
	message_id,
	emoji_id,
	emoji_unicode,
	user_id,
	channel_id,
	guild_id
) VALUES (
	$1,$2,$3,$4,$5,$6
) ON CONFLICT (message_id, emoji_id, emoji_unicode, user_id) DO NOTHING`

	args := []any{
		int64(r.MessageID),
		int64(r.EmojiID),
		r.EmojiUnicode,
		int64(r.UserID),
		int64(r.ChannelID),
		int64(r.GuildID),
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert reaction: %w", err)
	}
	return nil
}

func (t *tx) InsertAuditLogEntry(ctx context.Context, entry store.AuditLogEntry) error {
	const query = `
INSERT INTO audit_log (
	audit_entry_id,
	guild_id,
	action,
	user_id,
	target_id,
	reason,
	changes,
	options
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (audit_entry_id) DO NOTHING`

	args := []any{
		int64(entry.ID),
		int64(entry.GuildID),
		entry.Action,
		int64(entry.UserID),
		int64(entry.TargetID),
		entry.Reason,
		jsonOrNil(entry.Changes),
		jsonOrNil(entry.Options),
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit log entry: %w", err)
	}
	return nil
}

func (t *tx) LookupHistory(ctx context.Context, channelID uint64) (*history.History, error) {
	var first *int64
	err := t.tx.QueryRow(ctx,
		`SELECT first_message_id FROM channel_history WHERE channel_id = $1`,
		int64(channelID),
	).Scan(&first)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("lookup history: %w", err)
	}

	rows, err := t.tx.Query(ctx,
		`SELECT start_message_id, end_message_id FROM channel_history_ranges WHERE channel_id = $1 ORDER BY start_message_id`,
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
	if first != nil {
		v := uint64(*first)
		origin = &v
	}
	return history.FromRanges(origin, starts, ends)
}

func (t *tx) SaveHistory(ctx context.Context, channelID uint64, h *history.History) error {
	var first *int64
	if h.First != nil {
		v := int64(*h.First)
		first = &v
	}
	if _, err := t.tx.Exec(ctx, `
INSERT INTO channel_history (channel_id, first_message_id) VALUES ($1, $2)
ON CONFLICT (channel_id) DO UPDATE SET first_message_id = EXCLUDED.first_message_id`,
		int64(channelID), first,
	); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM channel_history_ranges WHERE channel_id = $1`, int64(channelID),
	); err != nil {
		return fmt.Errorf("clear history ranges: %w", err)
	}
	if h.Len() == 0 {
		return nil
	}

	starts, ends := h.ToRanges()
	if _, err := t.tx.Exec(ctx, `
INSERT INTO channel_history_ranges (channel_id, start_message_id, end_message_id)
SELECT $1, unnest($2::bigint[]), unnest($3::bigint[])`,
		int64(channelID), toInt64s(starts), toInt64s(ends),
	); err != nil {
		return fmt.Errorf("save history ranges: %w", err)
	}
	return nil
}

func (t *tx) DeleteHistory(ctx context.Context, channelID uint64) error {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM channel_history_ranges WHERE channel_id = $1`, int64(channelID),
	); err != nil {
		return fmt.Errorf("delete history ranges: %w", err)
	}
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM channel_history WHERE channel_id = $1`, int64(channelID),
	); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func nullableID(id *uint64) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

func jsonOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func toInt64s(in []uint64) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
