package cache

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// MEMORY CACHE - In-process implementation with injected clock
// =============================================================================

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Cache. The Clock is injected so expiry can be
// tested with fixed ticks.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	clock Clock
}

// NewMemory creates a memory cache. A nil clock means wall clock.
func NewMemory(clock Clock) *Memory {
	if clock == nil {
		clock = SystemClock()
	}
	return &Memory{
		items: make(map[string]memoryItem),
		clock: clock,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if m.clock.Now().After(item.expiresAt) {
		// Lazy expiry: drop on next write path; report a miss now.
		m.mu.Lock()
		if cur, still := m.items[key]; still && m.clock.Now().After(cur.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}

	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.items[key] = memoryItem{value: stored, expiresAt: m.clock.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}
