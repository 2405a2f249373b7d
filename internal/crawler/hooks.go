package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

// Event is a crawled record with a monotonically increasing ID.
type Event interface {
	EventID() uint64
}

// Hooks supply the source-specific half of a crawler.
type Hooks[S comparable, E Event] interface {
	// Init seeds progress from persisted cursors and registers any topology
	// callbacks. It runs once, after the remote is ready.
	Init(ctx context.Context, progress *Progress[S]) error
	// Read returns the next page strictly after cursor. An empty page means
	// the source is exhausted for now.
	Read(ctx context.Context, source S, cursor uint64) ([]E, error)
	// Write persists a page inside tx.
	Write(ctx context.Context, tx store.Tx, events []E) error
	// Update persists the new cursor for source inside tx.
	Update(ctx context.Context, tx store.Tx, source S, cursor uint64) error
}

// ReadyFunc blocks until the remote client can serve reads.
type ReadyFunc func(ctx context.Context) error

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Config tunes one engine.
type Config struct {
	// QueueSize bounds how many read pages may wait for persistence.
	QueueSize int
	// YieldDelay separates rounds in which some source returned events.
	YieldDelay time.Duration
	// EmptySourceDelay separates rounds in which every source was exhausted.
	EmptySourceDelay time.Duration
}

// WorkItem is one page on its way from the producer to the consumer. Events
// is nil when the source was exhausted; Cursor still advances.
type WorkItem[S comparable, E Event] struct {
	Source S
	Events []E
	Cursor uint64
}
