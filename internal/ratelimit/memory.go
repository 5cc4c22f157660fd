package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryStore is a fixed-window counter per key. It is only correct for a
// single process.
type MemoryStore struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore returns a store that drops expired buckets every
// sweepEvery. A zero sweepEvery disables the sweeper.
func NewMemoryStore(sweepEvery time.Duration) *MemoryStore {
	m := &MemoryStore{
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go m.sweep(sweepEvery)
	}
	return m
}

func (m *MemoryStore) Allow(_ context.Context, rule Rule, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[rule.Key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{resetAt: now.Add(rule.Window)}
		m.buckets[rule.Key] = b
	}
	if b.count >= rule.Limit {
		return Result{OK: false, Remaining: 0, ResetAt: b.resetAt}, nil
	}
	b.count++
	return Result{OK: true, Remaining: rule.Limit - b.count, ResetAt: b.resetAt}, nil
}

// Len returns the number of live buckets.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Stop halts the sweeper.
func (m *MemoryStore) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *MemoryStore) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Sweep drops buckets whose window ended before now.
func (m *MemoryStore) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if now.After(b.resetAt) {
			delete(m.buckets, key)
		}
	}
}
