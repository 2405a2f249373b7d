package crawler

import (
	"errors"
	"fmt"
)

// ErrStartup wraps failures that keep an engine from starting.
var ErrStartup = errors.New("crawler startup failed")

// ReadError is a failed remote read. The source keeps its cursor and is read
// again next round.
type ReadError struct {
	Crawler string
	Source  string
	Cursor  uint64
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: read %s after %d: %v", e.Crawler, e.Source, e.Cursor, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// PersistError is a failed write or cursor update. The work item is dropped.
type PersistError struct {
	Crawler string
	Source  string
	Cursor  uint64
	Events  int
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: persist %d events for %s up to %d: %v", e.Crawler, e.Events, e.Source, e.Cursor, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
