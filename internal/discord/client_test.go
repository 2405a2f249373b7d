package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discord-event-crawler/internal/metrics"
	"github.com/JakeFAU/discord-event-crawler/internal/policy/ratelimit"
)

// rewriteTransport sends every request to a local test server.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	metrics.Init()
	c, err := New(Config{Token: "secret", Guilds: []string{"1"}}, nil)
	require.NoError(t, err)
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		target, err := url.Parse(srv.URL)
		require.NoError(t, err)
		c.session.Client = &http.Client{Transport: rewriteTransport{target: target}}
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func messagesDesc(from, to int) []map[string]any {
	out := make([]map[string]any, 0, to-from+1)
	for id := to; id >= from; id-- {
		out = append(out, map[string]any{"id": strconv.Itoa(id), "channel_id": "10", "content": fmt.Sprintf("m%d", id)})
	}
	return out
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Guilds: []string{"1"}}, nil)
	require.EqualError(t, err, "discord.token is required")

	_, err = New(Config{Token: "x"}, nil)
	require.EqualError(t, err, "discord.guilds must list at least one guild")

	c, err := New(Config{Token: "x", Guilds: []string{" 1 "}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bot x", c.Session().Token)
	assert.Equal(t, Intents, c.Session().Identify.Intents)
	assert.True(t, c.Tracked("1"))
	assert.False(t, c.Tracked("2"))
}

func TestMessagesAfterPagesAndSorts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/channels/10/messages"), r.URL.Path)
		q := r.URL.Query()
		switch calls.Add(1) {
		case 1:
			assert.Equal(t, "5", q.Get("after"))
			assert.Equal(t, "100", q.Get("limit"))
			writeJSON(t, w, messagesDesc(6, 105))
		case 2:
			assert.Equal(t, "105", q.Get("after"))
			assert.Equal(t, "50", q.Get("limit"))
			writeJSON(t, w, messagesDesc(106, 115))
		default:
			t.Errorf("unexpected request %s", r.URL)
		}
	})

	msgs, err := c.MessagesAfter(context.Background(), "10", 5, 150)
	require.NoError(t, err)
	require.Len(t, msgs, 110)
	require.Equal(t, "6", msgs[0].ID)
	require.Equal(t, "115", msgs[len(msgs)-1].ID)
	require.EqualValues(t, 2, calls.Load())
}

func TestMessagesAfterPacedPerChannel(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []any{})
	})
	c.limiter = ratelimit.New(ratelimit.Config{RPS: 10, Burst: 1})

	ctx := context.Background()
	_, err := c.MessagesAfter(ctx, "10", 0, 100)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.MessagesAfter(ctx, "10", 0, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.MessagesAfter(canceled, "11", 0, 100)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMessagesAfterEmpty(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []any{})
	})

	msgs, err := c.MessagesAfter(context.Background(), "10", 0, 100)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestOldestMessage(t *testing.T) {
	t.Parallel()

	var empty atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("after"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		if empty.Load() {
			writeJSON(t, w, []any{})
			return
		}
		writeJSON(t, w, messagesDesc(42, 42))
	})

	msg, err := c.OldestMessage(context.Background(), "10")
	require.NoError(t, err)
	require.Equal(t, "42", msg.ID)

	empty.Store(true)
	msg, err = c.OldestMessage(context.Background(), "10")
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestReactionUsersPaginates(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/channels/10/messages/20/reactions/")
		users := []map[string]any{}
		switch calls.Add(1) {
		case 1:
			assert.Empty(t, r.URL.Query().Get("after"))
			for i := 1; i <= MaxPageSize; i++ {
				users = append(users, map[string]any{"id": strconv.Itoa(i)})
			}
		case 2:
			assert.Equal(t, strconv.Itoa(MaxPageSize), r.URL.Query().Get("after"))
			users = append(users, map[string]any{"id": "500"})
		}
		writeJSON(t, w, users)
	})

	users, err := c.ReactionUsers(context.Background(), "10", "20", &discordgo.Emoji{ID: "55", Name: "blob"})
	require.NoError(t, err)
	require.Len(t, users, MaxPageSize+1)
	require.Equal(t, "500", users[MaxPageSize].ID)

	_, err = c.ReactionUsers(context.Background(), "10", "20", nil)
	require.ErrorContains(t, err, "has no emoji")
}

func TestAuditLogAfter(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/guilds/1/audit-logs"), r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("after"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		writeJSON(t, w, map[string]any{
			"audit_log_entries": []map[string]any{
				{"id": "30", "user_id": "3", "target_id": "4", "action_type": 22, "reason": "spam"},
				{"id": "20", "user_id": "3", "action_type": 1},
			},
		})
	})

	entries, err := c.AuditLogAfter(context.Background(), "1", 10, 50)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "20", entries[0].ID)
	require.Equal(t, "30", entries[1].ID)
	require.Equal(t, "spam", entries[1].Reason)
	require.NotNil(t, entries[1].ActionType)
	require.Equal(t, discordgo.AuditLogActionMemberBanAdd, *entries[1].ActionType)
}

func TestRESTErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Missing Access","code":50001}`))
	})

	_, err := c.MessagesAfter(context.Background(), "10", 0, 10)
	require.ErrorContains(t, err, "fetch messages of 10 after 0")
	var restErr *discordgo.RESTError
	require.ErrorAs(t, err, &restErr)
	require.Equal(t, http.StatusForbidden, restErr.Response.StatusCode)

	_, err = c.AuditLogAfter(context.Background(), "1", 0, 10)
	require.ErrorAs(t, err, &restErr)
}

func TestReadinessWaitsForTrackedGuilds(t *testing.T) {
	t.Parallel()

	c, err := New(Config{Token: "x", Guilds: []string{"1", "2", "9"}}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.WaitUntilReady(ctx), context.Canceled)

	// Guild 9 is configured but the bot is not a member; it must not block.
	c.onReady(nil, &discordgo.Ready{
		User:   &discordgo.User{ID: "bot", Username: "crawler"},
		Guilds: []*discordgo.Guild{{ID: "1"}, {ID: "2"}, {ID: "3"}},
	})
	require.False(t, c.Ready())

	c.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "1"}})
	c.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "3"}})
	require.False(t, c.Ready())

	c.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "2"}})
	require.True(t, c.Ready())
	require.NoError(t, c.WaitUntilReady(context.Background()))

	// Readiness stays latched.
	c.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "2"}})
	require.True(t, c.Ready())
}

func newStateClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{Token: "x", Guilds: []string{"1"}}, nil)
	require.NoError(t, err)

	const read = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory
	state := c.session.State
	state.User = &discordgo.User{ID: "bot"}
	guild := &discordgo.Guild{
		ID:      "1",
		OwnerID: "owner",
		Roles:   []*discordgo.Role{{ID: "1", Permissions: read}},
		Channels: []*discordgo.Channel{
			{ID: "10", GuildID: "1", Type: discordgo.ChannelTypeGuildText},
			{ID: "11", GuildID: "1", Type: discordgo.ChannelTypeGuildNews},
			{ID: "12", GuildID: "1", Type: discordgo.ChannelTypeGuildVoice},
			{
				ID: "13", GuildID: "1", Type: discordgo.ChannelTypeGuildText,
				PermissionOverwrites: []*discordgo.PermissionOverwrite{{
					ID:   "1",
					Type: discordgo.PermissionOverwriteTypeRole,
					Deny: discordgo.PermissionReadMessageHistory,
				}},
			},
		},
	}
	require.NoError(t, state.GuildAdd(guild))
	require.NoError(t, state.MemberAdd(&discordgo.Member{GuildID: "1", User: &discordgo.User{ID: "bot"}}))
	return c
}

func TestTextChannelsAndPermissions(t *testing.T) {
	t.Parallel()

	c := newStateClient(t)

	require.True(t, c.HasGuild("1"))
	require.False(t, c.HasGuild("2"))
	require.Equal(t, []string{"1"}, c.Guilds())

	channels, err := c.TextChannels("1")
	require.NoError(t, err)
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}
	require.Equal(t, []string{"10", "11", "13"}, ids)

	_, err = c.TextChannels("2")
	require.Error(t, err)

	byID := func(id string) *discordgo.Channel {
		ch, err := c.session.State.Channel(id)
		require.NoError(t, err)
		return ch
	}
	assert.True(t, c.CanReadHistory(byID("10")))
	assert.True(t, c.CanReadHistory(byID("11")))
	assert.False(t, c.CanReadHistory(byID("12")))
	assert.False(t, c.CanReadHistory(byID("13")))
	assert.False(t, c.CanReadHistory(&discordgo.Channel{ID: "99", GuildID: "1", Type: discordgo.ChannelTypeGuildText}))
	assert.False(t, c.CanReadHistory(nil))
}

func TestGuildFromState(t *testing.T) {
	t.Parallel()

	c := newStateClient(t)

	g, err := c.Guild("1")
	require.NoError(t, err)
	assert.Equal(t, "owner", g.OwnerID)

	_, err = c.Guild("2")
	require.ErrorContains(t, err, "not tracked")
}

func TestIsAuthFailure(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "rejected token", err: &websocket.CloseError{Code: closeAuthenticationFailed}, want: true},
		{name: "normal close", err: &websocket.CloseError{Code: websocket.CloseNormalClosure}},
		{
			name: "unauthorized gateway lookup",
			err:  fmt.Errorf("gateway: %w", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusUnauthorized}}),
			want: true,
		},
		{name: "server error", err: &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway}}},
		{name: "plain", err: errors.New("dial tcp: timeout")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, isAuthFailure(tc.err))
		})
	}
}
