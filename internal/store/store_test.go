package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorTableColumns(t *testing.T) {
	t.Parallel()

	src, cur, err := ChannelCrawl.Columns()
	require.NoError(t, err)
	require.Equal(t, "channel_id", src)
	require.Equal(t, "last_message_id", cur)

	src, cur, err = AuditLogCrawl.Columns()
	require.NoError(t, err)
	require.Equal(t, "guild_id", src)
	require.Equal(t, "last_audit_entry_id", cur)

	_, _, err = CursorTable("bogus").Columns()
	require.ErrorContains(t, err, "unknown cursor table: bogus")
}
