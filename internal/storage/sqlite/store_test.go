package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discord-event-crawler/internal/history"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "crawler.db")
	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "  ", nil)
	require.EqualError(t, err, "store.dsn is required")
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version string
	require.NoError(t, s.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version))
	require.Equal(t, "2", version)
}

func TestMigrateUpgradesOlderVersion(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, err := s.db.Exec("UPDATE metadata SET value = '1' WHERE key = 'schema_version'")
	require.NoError(t, err)
	_, err = s.db.Exec("DROP TABLE mentions")
	require.NoError(t, err)

	require.NoError(t, s.Migrate(context.Background()))

	var version string
	require.NoError(t, s.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version))
	require.Equal(t, "2", version)
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM mentions").Scan(&n))
	require.Zero(t, n)
}

func TestPragmasSurviveConnectionRecycling(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	// Drop idle connections so every query below dials a new one.
	s.db.SetMaxIdleConns(0)

	for i := 0; i < 2; i++ {
		var foreignKeys, busyTimeout int
		require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		require.NoError(t, s.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		require.Equal(t, 1, foreignKeys)
		require.Equal(t, 5000, busyTimeout)
	}
}

func TestHistoryRangesCascadeOnFreshConnection(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	s.db.SetMaxIdleConns(0)
	ctx := context.Background()
	first := uint64(5)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveHistory(ctx, 1, history.New(&first, history.Range{Start: 10, End: 20}))
	}))
	_, err := s.db.Exec("DELETE FROM channel_history WHERE channel_id = 1")
	require.NoError(t, err)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM channel_history_ranges").Scan(&n))
	require.Zero(t, n)
}

func TestCursorLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LookupCursor(ctx, store.ChannelCrawl, 1)
		require.ErrorIs(t, err, store.ErrNotFound)
		require.NoError(t, tx.InsertCursor(ctx, store.ChannelCrawl, 1, 0))
		require.NoError(t, tx.UpdateCursor(ctx, store.ChannelCrawl, 1, 500))
		// Older cursors never win.
		require.NoError(t, tx.UpdateCursor(ctx, store.ChannelCrawl, 1, 200))
		// Re-inserting leaves the row alone.
		return tx.InsertCursor(ctx, store.ChannelCrawl, 1, 0)
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.LookupCursor(ctx, store.ChannelCrawl, 1)
		require.NoError(t, err)
		require.Equal(t, uint64(500), got)

		require.ErrorIs(t, tx.UpdateCursor(ctx, store.AuditLogCrawl, 1, 1), store.ErrNotFound)
		return tx.DeleteCursor(ctx, store.ChannelCrawl, 1)
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LookupCursor(ctx, store.ChannelCrawl, 1)
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestRollbackDiscardsEvents(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertMessage(ctx, store.Message{ID: 10, CreatedAt: time.Now()}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n))
	require.Zero(t, n)
}

func TestEventInsertsAreIdempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	edited := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	webhook := uint64(77)
	guild := uint64(2)

	write := func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertMessage(ctx, store.Message{
			ID:          10,
			ChannelID:   1,
			GuildID:     2,
			AuthorID:    3,
			Content:     "hi",
			Embeds:      []byte(`[{"title":"x"}]`),
			Attachments: 1,
			WebhookID:   &webhook,
			CreatedAt:   edited.Add(-time.Hour),
			EditedAt:    &edited,
		}))
		require.NoError(t, tx.UpsertEmoji(ctx, store.Emoji{ID: 55, Name: "blob", Custom: true, GuildID: &guild}))
		require.NoError(t, tx.UpsertEmoji(ctx, store.Emoji{Unicode: "👍", Name: "👍"}))
		require.NoError(t, tx.InsertReaction(ctx, store.Reaction{MessageID: 10, EmojiID: 55, UserID: 3, ChannelID: 1, GuildID: 2}))
		require.NoError(t, tx.InsertReaction(ctx, store.Reaction{MessageID: 10, EmojiUnicode: "👍", UserID: 3, ChannelID: 1, GuildID: 2}))
		require.NoError(t, tx.InsertMention(ctx, store.Mention{MessageID: 10, MentionedID: 3, Type: store.MentionUser, ChannelID: 1, GuildID: 2}))
		require.NoError(t, tx.InsertMention(ctx, store.Mention{MessageID: 10, MentionedID: 3, Type: store.MentionRole, ChannelID: 1, GuildID: 2}))
		require.NoError(t, tx.UpsertGuild(ctx, store.Guild{ID: 2, Name: "guild", OwnerID: 3}))
		require.NoError(t, tx.UpsertChannel(ctx, store.Channel{ID: 1, GuildID: 2, Name: "general", ParentID: &webhook}))
		require.NoError(t, tx.UpsertUser(ctx, store.User{ID: 3, Name: "alice", Discriminator: "0001"}))
		return tx.InsertAuditLogEntry(ctx, store.AuditLogEntry{ID: 900, GuildID: 2, Action: 1, Changes: []byte(`[]`)})
	}
	require.NoError(t, s.WithTx(ctx, write))
	require.NoError(t, s.WithTx(ctx, write))

	counts := map[string]int{
		"messages": 1, "emojis": 2, "reactions": 2, "audit_log": 1,
		"mentions": 2, "guilds": 1, "channels": 1, "users": 1,
	}
	for table, want := range counts {
		var n int
		require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		require.Equal(t, want, n, table)
	}
}

func TestLookupRowsTakeLatestValues(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.UpsertUser(ctx, store.User{ID: 3, Name: "alice"}))
		require.NoError(t, tx.UpsertChannel(ctx, store.Channel{ID: 1, GuildID: 2, Name: "general"}))
		return tx.UpsertGuild(ctx, store.Guild{ID: 2, Name: "old"})
	}))
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.UpsertUser(ctx, store.User{ID: 3, Name: "alice2", Bot: true}))
		require.NoError(t, tx.UpsertChannel(ctx, store.Channel{ID: 1, GuildID: 2, Name: "renamed", NSFW: true}))
		return tx.UpsertGuild(ctx, store.Guild{ID: 2, Name: "new"})
	}))

	var (
		userName, channelName, guildName string
		bot, nsfw                        bool
	)
	require.NoError(t, s.db.QueryRow("SELECT name, is_bot FROM users WHERE user_id = 3").Scan(&userName, &bot))
	require.NoError(t, s.db.QueryRow("SELECT name, is_nsfw FROM channels WHERE channel_id = 1").Scan(&channelName, &nsfw))
	require.NoError(t, s.db.QueryRow("SELECT name FROM guilds WHERE guild_id = 2").Scan(&guildName))
	require.Equal(t, "alice2", userName)
	require.True(t, bot)
	require.Equal(t, "renamed", channelName)
	require.True(t, nsfw)
	require.Equal(t, "new", guildName)
}

func TestHistoryRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	first := uint64(5)
	want := history.New(&first, history.Range{Start: 10, End: 20}, history.Range{Start: 30, End: 40})

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LookupHistory(ctx, 1)
		require.ErrorIs(t, err, store.ErrNotFound)
		require.NoError(t, tx.SaveHistory(ctx, 1, history.New(nil)))
		return tx.SaveHistory(ctx, 1, want)
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.LookupHistory(ctx, 1)
		require.NoError(t, err)
		require.True(t, want.Equal(got), "got %s", got)
		return tx.DeleteHistory(ctx, 1)
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LookupHistory(ctx, 1)
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}
