// Package system provides the wall clock used by the crawl engines.
package system

import (
	"time"

	"github.com/JakeFAU/discord-event-crawler/internal/crawler"
)

// Clock implements crawler.Clock with millisecond UTC time, the resolution
// snowflakes carry.
type Clock struct{}

var _ crawler.Clock = Clock{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time truncated to milliseconds.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
