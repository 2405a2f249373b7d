package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/discord-event-crawler/internal/config"
	"github.com/JakeFAU/discord-event-crawler/internal/crawler"
	"github.com/JakeFAU/discord-event-crawler/internal/storage/memory"
)

// MockGateway mocks the connection lifecycle and serves an empty guild.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Open(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockGateway) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockGateway) WaitUntilReady(context.Context) error { return nil }

func (m *MockGateway) Ready() bool { return true }

func (m *MockGateway) Guilds() []string { return nil }

func (m *MockGateway) Tracked(string) bool { return false }

func (m *MockGateway) HasGuild(string) bool { return false }

func (m *MockGateway) Guild(string) (*discordgo.Guild, error) {
	return nil, errors.New("guild not found")
}

func (m *MockGateway) TextChannels(string) ([]*discordgo.Channel, error) { return nil, nil }

func (m *MockGateway) CanReadHistory(*discordgo.Channel) bool { return false }

func (m *MockGateway) MessagesAfter(context.Context, string, uint64, int) ([]*discordgo.Message, error) {
	return nil, nil
}

func (m *MockGateway) OldestMessage(context.Context, string) (*discordgo.Message, error) {
	return nil, nil
}

func (m *MockGateway) ReactionUsers(context.Context, string, string, *discordgo.Emoji) ([]*discordgo.User, error) {
	return nil, nil
}

func (m *MockGateway) AuditLogAfter(context.Context, string, uint64, int) ([]*discordgo.AuditLogEntry, error) {
	return nil, nil
}

func (m *MockGateway) OnChannelCreate(func(*discordgo.Channel)) {}

func (m *MockGateway) OnChannelDelete(func(*discordgo.Channel)) {}

func (m *MockGateway) OnChannelUpdate(func(before, after *discordgo.Channel)) {}

func testConfig(crawlers ...string) config.Config {
	return config.Config{
		Discord: config.DiscordConfig{Token: "token", Guilds: []string{"1"}},
		Crawler: config.CrawlerConfig{
			QueueSize:        4,
			YieldDelay:       time.Millisecond,
			EmptySourceDelay: time.Millisecond,
			BatchSize:        10,
			Crawlers:         crawlers,
		},
		Server: config.ServerConfig{Enabled: true, Port: 8080},
	}
}

func TestBuildSelectsCrawlers(t *testing.T) {
	t.Parallel()

	a, err := BuildWithGateway(testConfig(CrawlerHistory, CrawlerAuditLog), memory.NewStore(), &MockGateway{}, zap.NewNop())
	require.NoError(t, err)
	require.NotEmpty(t, a.RunID())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawlers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Crawlers []crawler.Status `json:"crawlers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Crawlers, 2)
	require.Equal(t, "Channels", body.Crawlers[0].Name)
	require.Equal(t, "Audit Log", body.Crawlers[1].Name)
	require.False(t, body.Crawlers[0].Running)
	require.Equal(t, 4, body.Crawlers[0].QueueCapacity)

	cfg := testConfig(CrawlerAuditLog)
	cfg.Server.Enabled = false
	a, err = BuildWithGateway(cfg, memory.NewStore(), &MockGateway{}, nil)
	require.NoError(t, err)
	require.Nil(t, a.Handler())
	require.Len(t, a.engines, 1)

	_, err = BuildWithGateway(testConfig(), memory.NewStore(), &MockGateway{}, nil)
	require.EqualError(t, err, "no crawlers enabled")
}

func TestBuildRejectsMissingToken(t *testing.T) {
	t.Parallel()

	cfg := testConfig(CrawlerHistory)
	cfg.Discord.Token = ""
	_, err := Build(cfg, memory.NewStore(), zap.NewNop())
	require.ErrorContains(t, err, "discord client init failed")
}

func TestRunOpenFailure(t *testing.T) {
	t.Parallel()

	gw := &MockGateway{}
	gw.On("Open", mock.Anything).Return(errors.New("open discord gateway: 4004 authentication failed"))

	a, err := BuildWithGateway(testConfig(CrawlerHistory), memory.NewStore(), gw, zap.NewNop())
	require.NoError(t, err)
	require.ErrorContains(t, a.Run(context.Background()), "authentication failed")
	gw.AssertExpectations(t)
	gw.AssertNotCalled(t, "Close")
}

func TestRunUntilCanceled(t *testing.T) {
	t.Parallel()

	gw := &MockGateway{}
	gw.On("Open", mock.Anything).Return(nil).Once()
	gw.On("Close").Return(nil).Once()

	cfg := testConfig(CrawlerHistory, CrawlerAuditLog)
	cfg.Server.Enabled = false
	a, err := BuildWithGateway(cfg, memory.NewStore(), gw, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, e := range a.engines {
			if !e.(crawler.StatusReporter).Status().Running {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	gw.AssertExpectations(t)
}
