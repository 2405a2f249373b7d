// Package history tracks which spans of a snowflake-ordered stream have been
// crawled, so gaps below a known origin can be told apart from "resume here".
package history

import (
	"fmt"
	"sort"
	"strings"
)

// maxListedRanges bounds how many intervals String prints before summarizing.
const maxListedRanges = 4

// Range is an inclusive interval of snowflake IDs.
type Range struct {
	Start uint64
	End   uint64
}

// String renders the range as [start, end].
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

// Set is a sorted collection of disjoint, non-adjacent ranges.
type Set struct {
	ranges []Range
}

// Insert adds r to the set, merging any range it overlaps or touches.
// Start and End may be given in either order.
func (s *Set) Insert(r Range) {
	if r.Start > r.End {
		r.Start, r.End = r.End, r.Start
	}

	idx := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End >= r.Start || s.ranges[i].End+1 >= r.Start
	})

	merged := r
	end := idx
	for end < len(s.ranges) && touches(s.ranges[end], merged) {
		merged.Start = min(merged.Start, s.ranges[end].Start)
		merged.End = max(merged.End, s.ranges[end].End)
		end++
	}

	out := make([]Range, 0, len(s.ranges)-(end-idx)+1)
	out = append(out, s.ranges[:idx]...)
	out = append(out, merged)
	out = append(out, s.ranges[end:]...)
	s.ranges = out
}

// touches reports whether a and b overlap or are adjacent.
func touches(a, b Range) bool {
	if a.Start > b.Start {
		a, b = b, a
	}
	// a starts first; b touches a if it starts no later than one past a's end.
	return a.End == ^uint64(0) || b.Start <= a.End+1
}

// Contains reports whether x falls inside any range.
func (s *Set) Contains(x uint64) bool {
	idx := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End >= x })
	return idx < len(s.ranges) && s.ranges[idx].Start <= x
}

// Ranges returns a copy of the ranges in ascending order.
func (s *Set) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Len returns the number of disjoint ranges.
func (s *Set) Len() int {
	return len(s.ranges)
}

// Min returns the smallest covered ID.
func (s *Set) Min() (uint64, bool) {
	if len(s.ranges) == 0 {
		return 0, false
	}
	return s.ranges[0].Start, true
}

// Max returns the largest covered ID.
func (s *Set) Max() (uint64, bool) {
	if len(s.ranges) == 0 {
		return 0, false
	}
	return s.ranges[len(s.ranges)-1].End, true
}

// History is the crawl coverage of one stream plus the oldest ID known to
// exist in it.
type History struct {
	Set
	First *uint64
}

// New builds a History from an optional origin and any number of ranges.
func New(first *uint64, ranges ...Range) *History {
	h := &History{First: first}
	for _, r := range ranges {
		h.Insert(r)
	}
	return h
}

// FromRanges rebuilds a History from parallel start and end slices as
// returned by ToRanges.
func FromRanges(first *uint64, starts, ends []uint64) (*History, error) {
	if len(starts) != len(ends) {
		return nil, fmt.Errorf("range bounds mismatch: %d starts, %d ends", len(starts), len(ends))
	}
	h := &History{First: first}
	for i := range starts {
		if starts[i] > ends[i] {
			return nil, fmt.Errorf("range %d inverted: start %d > end %d", i, starts[i], ends[i])
		}
		h.Insert(Range{Start: starts[i], End: ends[i]})
	}
	return h, nil
}

// FindFirstHole reports where crawling must resume to close the gap between
// start and the origin. Walking ranges newest first, any range reaching start
// pulls the resume point down to its beginning. No hole exists when the origin
// is unknown or already covered.
func (h *History) FindFirstHole(start uint64) (uint64, bool) {
	current := start
	for i := len(h.ranges) - 1; i >= 0; i-- {
		r := h.ranges[i]
		if start > r.End {
			break
		}
		current = r.Start
	}

	if h.First == nil || *h.First >= current {
		return 0, false
	}
	return min(start, current), true
}

// ToRanges splits the ranges into parallel start and end slices.
func (h *History) ToRanges() (starts, ends []uint64) {
	starts = make([]uint64, len(h.ranges))
	ends = make([]uint64, len(h.ranges))
	for i, r := range h.ranges {
		starts[i] = r.Start
		ends[i] = r.End
	}
	return starts, ends
}

// Equal reports whether both histories share an origin and identical ranges.
func (h *History) Equal(other *History) bool {
	if h == nil || other == nil {
		return h == other
	}
	switch {
	case h.First == nil && other.First != nil, h.First != nil && other.First == nil:
		return false
	case h.First != nil && *h.First != *other.First:
		return false
	}
	if len(h.ranges) != len(other.ranges) {
		return false
	}
	for i := range h.ranges {
		if h.ranges[i] != other.ranges[i] {
			return false
		}
	}
	return true
}

func (h *History) String() string {
	first := "none"
	if h.First != nil {
		first = fmt.Sprintf("%d", *h.First)
	}
	if len(h.ranges) > maxListedRanges {
		return fmt.Sprintf("<History first=%s %d chunks>", first, len(h.ranges))
	}
	parts := make([]string, len(h.ranges))
	for i, r := range h.ranges {
		parts[i] = r.String()
	}
	return fmt.Sprintf("<History first=%s [%s]>", first, strings.Join(parts, ", "))
}
