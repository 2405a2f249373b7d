package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discord-event-crawler/internal/snowflake"
)

func TestClockNow(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "got %v", got)
	require.Zero(t, got.Nanosecond()%int(time.Millisecond))
}

func TestClockRoundTripsThroughSnowflake(t *testing.T) {
	t.Parallel()

	now := New().Now()
	require.True(t, now.Equal(snowflake.Time(snowflake.FromTime(now))))
}
