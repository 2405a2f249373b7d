package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/discord-event-crawler/internal/config"
	"github.com/JakeFAU/discord-event-crawler/internal/history"
	"github.com/JakeFAU/discord-event-crawler/internal/storage/memory"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

// MockApp mocks the App interface.
type MockApp struct {
	mock.Mock
}

func (m *MockApp) Close() {
	m.Called()
}

func (m *MockApp) Config() config.Config {
	args := m.Called()
	return args.Get(0).(config.Config)
}

func (m *MockApp) Logger() *zap.Logger {
	args := m.Called()
	return args.Get(0).(*zap.Logger)
}

func (m *MockApp) Store() store.Store {
	args := m.Called()
	return args.Get(0).(store.Store)
}

// withApp swaps the application factory for the duration of the test.
func withApp(t *testing.T, factory func(context.Context, string) (App, error)) {
	t.Helper()
	orig := newApp
	newApp = factory
	t.Cleanup(func() { newApp = orig })
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHistoryCommandPrintsCoverage(t *testing.T) {
	st := memory.NewStore()
	first := uint64(5)
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertCursor(ctx, store.ChannelCrawl, 10, 0); err != nil {
			return err
		}
		if err := tx.UpdateCursor(ctx, store.ChannelCrawl, 10, 30); err != nil {
			return err
		}
		return tx.SaveHistory(ctx, 10, history.New(&first,
			history.Range{Start: 10, End: 20},
			history.Range{Start: 25, End: 30},
		))
	}))

	mockApp := &MockApp{}
	mockApp.On("Store").Return(store.Store(st))
	mockApp.On("Close").Return().Once()
	var gotConfig string
	withApp(t, func(_ context.Context, cfgFile string) (App, error) {
		gotConfig = cfgFile
		return mockApp, nil
	})

	out, err := execute("history", "10", "--config", "crawler.yaml")
	require.NoError(t, err)
	assert.Equal(t, "crawler.yaml", gotConfig)
	assert.Contains(t, out, "channel: 10")
	assert.Contains(t, out, "<History first=5 [[10, 20], [25, 30]]>")
	assert.Contains(t, out, "resume backfill at 25")
	mockApp.AssertExpectations(t)
}

func TestHistoryCommandErrors(t *testing.T) {
	mockApp := &MockApp{}
	mockApp.On("Store").Return(store.Store(memory.NewStore()))
	mockApp.On("Close").Return()
	withApp(t, func(context.Context, string) (App, error) { return mockApp, nil })

	_, err := execute("history", "general")
	require.EqualError(t, err, `invalid channel id "general"`)

	_, err = execute("history", "99")
	require.EqualError(t, err, "channel 99 has never been crawled")

	_, err = execute("history")
	require.Error(t, err)
}

func TestAppFactoryFailure(t *testing.T) {
	withApp(t, func(context.Context, string) (App, error) {
		return nil, errors.New("store.dsn is required")
	})

	_, err := execute("history", "10")
	require.ErrorContains(t, err, "failed to initialize application services")
}

func TestCrawlCommandReportsBuildFailure(t *testing.T) {
	mockApp := &MockApp{}
	mockApp.On("Config").Return(config.Config{Discord: config.DiscordConfig{Guilds: []string{"1"}}})
	mockApp.On("Store").Return(store.Store(memory.NewStore()))
	mockApp.On("Logger").Return(zap.NewNop())
	withApp(t, func(context.Context, string) (App, error) { return mockApp, nil })

	_, err := execute("crawl")
	require.ErrorContains(t, err, "build crawlers")
	require.ErrorContains(t, err, "discord.token is required")
}

func TestResolveAppWithoutApp(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.EqualError(t, err, "application services not initialized")
}
