package crawler

import "fmt"

// SourceStatus is one row of an engine's progress mapping.
type SourceStatus struct {
	Source string `json:"source"`
	Cursor uint64 `json:"cursor"`
}

// Status is a point-in-time view of an engine for operators.
type Status struct {
	Name          string         `json:"name"`
	Running       bool           `json:"running"`
	QueueLength   int            `json:"queue_length"`
	QueueCapacity int            `json:"queue_capacity"`
	InFlight      int            `json:"in_flight"`
	Sources       []SourceStatus `json:"sources"`
}

// StatusReporter is implemented by every Engine regardless of its type
// parameters.
type StatusReporter interface {
	Status() Status
}

// Status snapshots the engine.
func (e *Engine[S, E]) Status() Status {
	snapshot := e.progress.Snapshot()
	sources := make([]SourceStatus, len(snapshot))
	for i, entry := range snapshot {
		sources[i] = SourceStatus{Source: fmt.Sprint(entry.Source), Cursor: entry.Cursor}
	}
	return Status{
		Name:          e.name,
		Running:       e.running.Load(),
		QueueLength:   e.queue.Len(),
		QueueCapacity: e.queue.Cap(),
		InFlight:      e.queue.InFlight(),
		Sources:       sources,
	}
}
