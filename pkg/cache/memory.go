package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process LRU cache with per-entry expiry.
type Memory struct {
	lru *expirable.LRU[string, Entry]

	hits   atomic.Uint64
	misses atomic.Uint64
	puts   atomic.Uint64
}

// NewMemory creates a memory cache holding at most size entries, each for
// at most ttl. Non-positive values select DefaultSize and DefaultTTL.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, Entry](size, nil, ttl)}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool) {
	e, ok := m.lru.Get(key)
	if ok {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	return e, ok
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, key string, e Entry) {
	m.lru.Add(key, e)
	m.puts.Add(1)
}

// Clear implements Cache.
func (m *Memory) Clear(context.Context) error {
	m.lru.Purge()
	return nil
}

// Stats implements Cache.
func (m *Memory) Stats() Stats {
	return Stats{
		Backend: BackendMemory,
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Puts:    m.puts.Load(),
		Entries: m.lru.Len(),
	}
}

// Close implements Cache.
func (m *Memory) Close() error { return nil }
