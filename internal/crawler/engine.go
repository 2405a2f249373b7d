package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/discord-event-crawler/internal/metrics"
	"github.com/JakeFAU/discord-event-crawler/internal/queue/memory"
	"github.com/JakeFAU/discord-event-crawler/internal/snowflake"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

var tracer = otel.Tracer("github.com/JakeFAU/discord-event-crawler/internal/crawler")

// Engine drives one crawler: a producer reading pages from every source and a
// consumer persisting them.
type Engine[S comparable, E Event] struct {
	name     string
	hooks    Hooks[S, E]
	ready    ReadyFunc
	store    store.Store
	cfg      Config
	clock    Clock
	logger   *zap.Logger
	queue    *memory.Queue[WorkItem[S, E]]
	progress *Progress[S]
	running  atomic.Bool
}

// New constructs an Engine. A nil ready func means the remote is always ready.
func New[S comparable, E Event](
	name string,
	hooks Hooks[S, E],
	ready ReadyFunc,
	st store.Store,
	cfg Config,
	clock Clock,
	logger *zap.Logger,
) *Engine[S, E] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	metrics.Init()
	return &Engine[S, E]{
		name:     name,
		hooks:    hooks,
		ready:    ready,
		store:    st,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.With(zap.String("crawler", name)),
		queue:    memory.NewQueue[WorkItem[S, E]](cfg.QueueSize),
		progress: NewProgress[S](),
	}
}

// Name returns the crawler name.
func (e *Engine[S, E]) Name() string {
	return e.name
}

// Progress exposes the live progress mapping.
func (e *Engine[S, E]) Progress() *Progress[S] {
	return e.progress
}

// Run waits for readiness, calls Init, then runs the producer and consumer
// until ctx ends. Only startup failures are returned; per-source and per-item
// failures are logged and the loops carry on.
func (e *Engine[S, E]) Run(ctx context.Context) error {
	if e.ready != nil {
		if err := e.ready(ctx); err != nil {
			return fmt.Errorf("%w: %s: wait for ready: %w", ErrStartup, e.name, err)
		}
	}
	if err := e.hooks.Init(ctx, e.progress); err != nil {
		return fmt.Errorf("%w: %s: init: %w", ErrStartup, e.name, err)
	}
	e.running.Store(true)
	defer e.running.Store(false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.consume(ctx)
	}()
	go func() {
		defer wg.Done()
		e.produce(ctx)
	}()
	e.logger.Info("Crawler started", zap.Int("sources", e.progress.Len()))

	<-ctx.Done()
	wg.Wait()
	e.logger.Info("Crawler stopped")
	return nil
}

// Start runs the engine in the background. The channel yields Run's result.
func (e *Engine[S, E]) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx)
	}()
	return done
}

func (e *Engine[S, E]) produce(ctx context.Context) {
	for {
		exhausted, err := e.round(ctx)
		if err != nil {
			return
		}
		metrics.ObserveRound(e.name, exhausted)

		delay := e.cfg.YieldDelay
		if exhausted {
			e.logger.Debug("All sources are exhausted, sleeping", zap.Duration("delay", e.cfg.EmptySourceDelay))
			delay = e.cfg.EmptySourceDelay
		}
		if err := sleep(ctx, delay); err != nil {
			return
		}
	}
}

// round reads every source in a snapshot once. It reports whether every
// source was exhausted, and fails only when ctx ends.
func (e *Engine[S, E]) round(ctx context.Context) (bool, error) {
	now := snowflake.FromTime(e.clock.Now())
	snapshot := e.progress.Snapshot()
	metrics.SetTrackedSources(e.name, len(snapshot))
	if len(snapshot) == 0 {
		return true, nil
	}

	exhausted := 0
	for _, entry := range snapshot {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		events, err := e.read(ctx, entry)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			rerr := &ReadError{Crawler: e.name, Source: fmt.Sprint(entry.Source), Cursor: entry.Cursor, Err: err}
			e.logger.Error("Failed to read source",
				zap.String("source", rerr.Source),
				zap.Uint64("cursor", entry.Cursor),
				zap.Error(rerr),
			)
			metrics.ObserveRead(e.name, metrics.ReadError)
			continue
		}

		item := WorkItem[S, E]{Source: entry.Source}
		if len(events) == 0 {
			exhausted++
			item.Cursor = max(entry.Cursor, now)
			metrics.ObserveRead(e.name, metrics.ReadExhausted)
		} else {
			item.Events = events
			item.Cursor = max(entry.Cursor, lastID(events))
			metrics.ObserveRead(e.name, metrics.ReadEvents)
			metrics.ObserveEventsRead(e.name, len(events))
		}

		if err := e.queue.Enqueue(ctx, item); err != nil {
			return false, err
		}
		e.progress.Advance(item.Source, item.Cursor)
		metrics.SetQueueDepth(e.name, e.queue.Len())
	}
	return exhausted == len(snapshot), nil
}

func (e *Engine[S, E]) read(ctx context.Context, entry Entry[S]) ([]E, error) {
	ctx, span := tracer.Start(ctx, "crawler.read", trace.WithAttributes(
		attribute.String("crawler", e.name),
		attribute.String("source", fmt.Sprint(entry.Source)),
		attribute.String("cursor", strconv.FormatUint(entry.Cursor, 10)),
	))
	defer span.End()

	events, err := e.hooks.Read(ctx, entry.Source, entry.Cursor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("events", len(events)))
	return events, nil
}

func (e *Engine[S, E]) consume(ctx context.Context) {
	for {
		item, err := e.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			e.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		e.persist(ctx, item)
		e.queue.Done()
		metrics.SetQueueDepth(e.name, e.queue.Len())
	}
}

// persist writes one item and its cursor atomically. Failures drop the item.
func (e *Engine[S, E]) persist(ctx context.Context, item WorkItem[S, E]) {
	ctx, span := tracer.Start(ctx, "crawler.persist", trace.WithAttributes(
		attribute.String("crawler", e.name),
		attribute.String("source", fmt.Sprint(item.Source)),
		attribute.String("cursor", strconv.FormatUint(item.Cursor, 10)),
		attribute.Int("events", len(item.Events)),
	))
	defer span.End()

	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if len(item.Events) > 0 {
			if err := e.hooks.Write(ctx, tx, item.Events); err != nil {
				return fmt.Errorf("write events: %w", err)
			}
		}
		if err := e.hooks.Update(ctx, tx, item.Source, item.Cursor); err != nil {
			return fmt.Errorf("update cursor: %w", err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		perr := &PersistError{
			Crawler: e.name,
			Source:  fmt.Sprint(item.Source),
			Cursor:  item.Cursor,
			Events:  len(item.Events),
			Err:     err,
		}
		e.logger.Error("Dropping work item after failed transaction",
			zap.String("source", perr.Source),
			zap.Uint64("cursor", item.Cursor),
			zap.Int("events", perr.Events),
			zap.Error(perr),
		)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		metrics.ObserveCommit(e.name, metrics.CommitError)
		return
	}
	metrics.ObserveCommit(e.name, metrics.CommitOK)
	e.logger.Debug("Persisted work item",
		zap.String("source", fmt.Sprint(item.Source)),
		zap.Uint64("cursor", item.Cursor),
		zap.Int("events", len(item.Events)),
	)
}

func lastID[E Event](events []E) uint64 {
	var out uint64
	for _, ev := range events {
		out = max(out, ev.EventID())
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
