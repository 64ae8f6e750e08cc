package audit

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryLog is a bounded in-process audit trail. Once full, the oldest event is dropped.
type MemoryLog struct {
	capacity int
	now      func() time.Time

	mu     sync.RWMutex
	events []Event
	head   int
	size   int
}

// NewMemoryLog creates a log holding at most capacity events.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryLog{
		capacity: capacity,
		now:      time.Now,
		events:   make([]Event, capacity),
	}
}

// WithClock replaces time.Now. Intended for tests.
func (m *MemoryLog) WithClock(now func() time.Time) *MemoryLog {
	m.now = now
	return m
}

// Record appends e. A zero timestamp is set to now.
func (m *MemoryLog) Record(_ context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}
	e.Details = maps.Clone(e.Details)

	m.mu.Lock()
	idx := (m.head + m.size) % m.capacity
	if m.size == m.capacity {
		m.head = (m.head + 1) % m.capacity
	} else {
		m.size++
	}
	m.events[idx] = e
	m.mu.Unlock()
	return nil
}

// CountByLevel implements Source.
func (m *MemoryLog) CountByLevel(_ context.Context, integration string, window time.Duration) (map[Level]int, error) {
	since := m.now().Add(-window)
	counts := make(map[Level]int)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.size {
		e := m.events[(m.head+i)%m.capacity]
		if e.Integration() != integration || e.Timestamp.Before(since) {
			continue
		}
		counts[e.Level]++
	}
	return counts, nil
}

// Recent returns up to limit of the newest events, newest first.
func (m *MemoryLog) Recent(limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := min(max(limit, 0), m.size)
	out := make([]Event, 0, n)
	for i := range n {
		out = append(out, m.events[(m.head+m.size-1-i)%m.capacity])
	}
	return out
}

// Len returns the number of retained events.
func (m *MemoryLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}
