package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCacheMiss indicates no entry exists for the requested metric.
	ErrCacheMiss = errors.New("cache miss")
)

// DefaultFreshnessWindow is how long a cache write satisfies reads directly.
// One global window shared by every metric.
const DefaultFreshnessWindow = 60 * time.Second

// Store is the per-metric cache contract. Implementations must be safe for
// concurrent use and must write Value and WrittenAt atomically: a reader never
// observes a value paired with another write's timestamp.
//
// Entries are never evicted. A stale entry stays readable so degraded
// resolutions can fall back to it; freshness is judged against WrittenAt,
// not by expiring the entry.
type Store interface {
	// IsFresh reports whether an entry exists for the metric and was
	// written within the freshness window.
	IsFresh(ctx context.Context, metric string) bool

	// Get returns the entry for the metric, fresh or stale.
	// Returns ErrCacheMiss if no entry exists.
	Get(ctx context.Context, metric string) (*Entry, error)

	// Put atomically stores the value with WrittenAt set to now.
	Put(ctx context.Context, metric string, value json.RawMessage) error

	// ClearAll resets every entry to absent.
	ClearAll(ctx context.Context) error

	// LastWrite returns the time of the most recent successful write
	// across all metrics, and false if nothing has been written.
	LastWrite(ctx context.Context) (time.Time, bool)
}

// Memory is the default in-process Store. It holds one entry per metric name
// behind a single RWMutex; the key space is six fixed names, so there is no
// sharding or eviction machinery.
type Memory struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	lastWrite time.Time
	window    time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewMemory creates an in-memory store with the given freshness window.
// A zero window falls back to DefaultFreshnessWindow.
func NewMemory(window time.Duration) *Memory {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Memory{
		entries: make(map[string]Entry),
		window:  window,
		now:     time.Now,
	}
}

// IsFresh reports whether a fresh entry exists for the metric.
func (m *Memory) IsFresh(_ context.Context, metric string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[metric]
	if !ok {
		CacheMisses.WithLabelValues("memory").Inc()
		return false
	}
	if !entry.Fresh(m.now(), m.window) {
		CacheMisses.WithLabelValues("memory").Inc()
		return false
	}
	CacheHits.WithLabelValues("memory").Inc()
	return true
}

// Get returns the entry for the metric, fresh or stale.
func (m *Memory) Get(_ context.Context, metric string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[metric]
	if !ok {
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// Put atomically replaces the entry for the metric.
func (m *Memory) Put(_ context.Context, metric string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.entries[metric] = Entry{Value: value, WrittenAt: now}
	m.lastWrite = now
	CacheWrites.WithLabelValues("memory").Inc()
	return nil
}

// ClearAll resets every entry to absent.
func (m *Memory) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]Entry)
	m.lastWrite = time.Time{}
	return nil
}

// LastWrite returns the most recent write time across all metrics.
func (m *Memory) LastWrite(_ context.Context) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastWrite.IsZero() {
		return time.Time{}, false
	}
	return m.lastWrite, true
}

// SetNowFunc overrides the store clock (for testing).
func (m *Memory) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
