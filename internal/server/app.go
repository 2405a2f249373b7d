// Package server assembles the crawl engines, the Discord client and the
// operator HTTP server into one runnable service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/discord-event-crawler/internal/api"
	"github.com/JakeFAU/discord-event-crawler/internal/clock/system"
	"github.com/JakeFAU/discord-event-crawler/internal/config"
	"github.com/JakeFAU/discord-event-crawler/internal/crawler"
	"github.com/JakeFAU/discord-event-crawler/internal/discord"
	"github.com/JakeFAU/discord-event-crawler/internal/dispatcher"
	"github.com/JakeFAU/discord-event-crawler/internal/id/uuid"
	"github.com/JakeFAU/discord-event-crawler/internal/metrics"
	"github.com/JakeFAU/discord-event-crawler/internal/sources"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
	"github.com/JakeFAU/discord-event-crawler/internal/telemetry"
)

// Crawler names accepted by crawler.crawlers.
const (
	CrawlerHistory  = "history"
	CrawlerAuditLog = "audit_log"
)

const (
	serviceName     = "discord-event-crawler"
	shutdownTimeout = 10 * time.Second
)

// Gateway is the Discord connection the service drives. *discord.Client
// satisfies it.
type Gateway interface {
	sources.ChannelRemote
	sources.AuditLogRemote
	Open(ctx context.Context) error
	Close() error
	WaitUntilReady(ctx context.Context) error
	Ready() bool
}

var _ Gateway = (*discord.Client)(nil)

// App contains the service's runtime dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runID     string
	gateway   Gateway
	engines   []dispatcher.Runner
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
}

// Build creates the engines selected by cfg over the given store, connecting
// to Discord with the configured bot token.
func Build(cfg config.Config, st store.Store, logger *zap.Logger) (*App, error) {
	client, err := discord.New(discord.Config{
		Token:             cfg.Discord.Token,
		Guilds:            cfg.Discord.Guilds,
		OpenAttempts:      cfg.Discord.OpenAttempts,
		RequestsPerSecond: cfg.Discord.RequestsPerSecond,
		RequestBurst:      cfg.Discord.RequestBurst,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("discord client init failed: %w", err)
	}
	return BuildWithGateway(cfg, st, client, logger)
}

// BuildWithGateway is Build over an existing gateway.
func BuildWithGateway(cfg config.Config, st store.Store, gw Gateway, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	idGen := uuid.New()
	runID, err := idGen.NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))

	a := &App{
		cfg:     cfg,
		logger:  logger,
		runID:   runID,
		gateway: gw,
	}

	engineCfg := crawler.Config{
		QueueSize:        cfg.Crawler.QueueSize,
		YieldDelay:       cfg.Crawler.YieldDelay,
		EmptySourceDelay: cfg.Crawler.EmptySourceDelay,
	}
	sourceCfg := sources.Config{BatchSize: cfg.Crawler.BatchSize}
	clock := system.New()

	var reporters []crawler.StatusReporter
	if cfg.Crawler.Enabled(CrawlerHistory) {
		hooks := sources.NewHistory(gw, st, sourceCfg, logger)
		engine := crawler.New[string, sources.Message](
			sources.HistoryName, hooks, gw.WaitUntilReady, st, engineCfg, clock, logger,
		)
		a.engines = append(a.engines, engine)
		reporters = append(reporters, engine)
	}
	if cfg.Crawler.Enabled(CrawlerAuditLog) {
		hooks := sources.NewAuditLog(gw, st, sourceCfg, logger)
		engine := crawler.New[string, sources.AuditLogEntry](
			sources.AuditLogName, hooks, gw.WaitUntilReady, st, engineCfg, clock, logger,
		)
		a.engines = append(a.engines, engine)
		reporters = append(reporters, engine)
	}
	if len(a.engines) == 0 {
		return nil, errors.New("no crawlers enabled")
	}
	a.dispatch = dispatcher.New(a.engines, logger.Named("dispatcher"))

	if cfg.Server.Enabled {
		a.apiServer = api.NewServer(reporters, st, gw.Ready, idGen, cfg, logger.Named("api"))
	}

	names := make([]string, len(a.engines))
	for i, e := range a.engines {
		names[i] = e.Name()
	}
	logger.Info("Application built", zap.Strings("crawlers", names), zap.Strings("guilds", cfg.Discord.Guilds))
	return a, nil
}

// RunID identifies this process in logs.
func (a *App) RunID() string {
	return a.runID
}

// Handler exposes the operator API, or nil when the server is disabled.
func (a *App) Handler() http.Handler {
	if a.apiServer == nil {
		return nil
	}
	return a.apiServer.Handler()
}

// Run connects to Discord, serves the operator API and runs every engine
// until ctx ends. It returns the first startup failure.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if a.cfg.Telemetry.Tracing {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: serviceName,
			RunID:       a.runID,
			SampleRatio: a.cfg.Telemetry.SampleRatio,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	if err := a.gateway.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := a.gateway.Close(); err != nil {
			a.logger.Warn("discord close failed", zap.Error(err))
		}
	}()

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	err := a.dispatch.Run(ctx)
	a.logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Error("server shutdown error", zap.Error(serr))
		}
	}
	a.logger.Info("shutdown complete")
	return err
}
