// Package snowflake converts between Discord snowflake IDs and wall-clock time.
package snowflake

import (
	"fmt"
	"strconv"
	"time"
)

// Epoch is the Discord epoch, the first millisecond of 2015, in Unix ms.
const Epoch = 1420070400000

const timestampShift = 22

// FromTime returns the smallest snowflake that could be minted at t.
// Times before the epoch clamp to zero.
func FromTime(t time.Time) uint64 {
	ms := t.UnixMilli() - Epoch
	if ms <= 0 {
		return 0
	}
	return uint64(ms) << timestampShift
}

// Time returns the creation time encoded in id.
func Time(id uint64) time.Time {
	return time.UnixMilli(int64(id>>timestampShift) + Epoch).UTC()
}

// Parse decodes a decimal snowflake string.
func Parse(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse snowflake %q: %w", s, err)
	}
	return id, nil
}

// Format encodes id as a decimal string, as the REST API expects it.
func Format(id uint64) string {
	return strconv.FormatUint(id, 10)
}
