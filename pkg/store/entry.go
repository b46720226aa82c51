// Package store provides the per-metric cache store with a fixed freshness
// window, backed by in-process memory or Redis.
package store

import (
	"encoding/json"
	"time"
)

// Entry represents one cached metric value.
type Entry struct {
	// Value is the normalized metric payload, marshaled as JSON.
	Value json.RawMessage `json:"value"`

	// WrittenAt is when the entry was last written. It is only ever set
	// together with Value.
	WrittenAt time.Time `json:"written_at"`
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.WrittenAt)
}

// Fresh returns true if the entry was written within the given window.
func (e *Entry) Fresh(now time.Time, window time.Duration) bool {
	return e.Age(now) < window
}
