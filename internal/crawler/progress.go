package crawler

import "sync"

// Entry is one source and its cursor.
type Entry[S comparable] struct {
	Source S
	Cursor uint64
}

// Progress maps sources to cursors in insertion order. It is shared by the
// producer, Init, and topology callbacks, which may run on other goroutines.
type Progress[S comparable] struct {
	mu      sync.Mutex
	order   []S
	cursors map[S]uint64
}

// NewProgress constructs an empty mapping.
func NewProgress[S comparable]() *Progress[S] {
	return &Progress[S]{cursors: make(map[S]uint64)}
}

// Set records cursor for source, adding the source if needed.
func (p *Progress[S]) Set(source S, cursor uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cursors[source]; !ok {
		p.order = append(p.order, source)
	}
	p.cursors[source] = cursor
}

// Add inserts source only if it is not tracked yet.
func (p *Progress[S]) Add(source S, cursor uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cursors[source]; ok {
		return false
	}
	p.order = append(p.order, source)
	p.cursors[source] = cursor
	return true
}

// Advance moves a tracked source's cursor forward. Untracked sources stay
// untracked, so a source removed mid-round is not revived by the producer.
func (p *Progress[S]) Advance(source S, cursor uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.cursors[source]
	if !ok {
		return false
	}
	p.cursors[source] = max(prev, cursor)
	return true
}

// Delete stops tracking source.
func (p *Progress[S]) Delete(source S) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cursors[source]; !ok {
		return false
	}
	delete(p.cursors, source)
	for i, s := range p.order {
		if s == source {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the cursor of source.
func (p *Progress[S]) Get(source S) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.cursors[source]
	return v, ok
}

// Contains reports whether source is tracked.
func (p *Progress[S]) Contains(source S) bool {
	_, ok := p.Get(source)
	return ok
}

// Len returns the number of tracked sources.
func (p *Progress[S]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Snapshot copies the mapping in insertion order.
func (p *Progress[S]) Snapshot() []Entry[S] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry[S], len(p.order))
	for i, s := range p.order {
		out[i] = Entry[S]{Source: s, Cursor: p.cursors[s]}
	}
	return out
}
