// Package cache memoizes routing decisions by request fingerprint.
//
// Entries record which rule of which table decided a fingerprint, not
// the decision itself; the engine rebuilds the decision from the current
// table. Every backend is safe for concurrent use, and concurrent writers
// for the same key resolve to last-writer-wins. Backend failures degrade
// to misses.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getmockd/mockproxy/pkg/routing"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Defaults for the memory backend.
const (
	DefaultSize = 10000
	DefaultTTL  = 5 * time.Minute
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Entry is a memoized resolution.
type Entry struct {
	// Version is the content version of the table that produced the entry.
	Version string `json:"version"`
	// Epoch is the rule table epoch that produced the entry.
	Epoch uint64 `json:"epoch"`
	// RuleID is the deciding rule, or "" for a no-match.
	RuleID string `json:"rule_id,omitempty"`
	// Kind is the decision variant.
	Kind routing.Kind `json:"kind"`
}

// Stats reports cache activity since creation.
type Stats struct {
	Backend string `json:"backend"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Puts    uint64 `json:"puts"`
	Errors  uint64 `json:"errors"`
	// Entries is the current entry count, or -1 when the backend cannot
	// report it cheaply.
	Entries int `json:"entries"`
}

// Cache is a fingerprint to Entry store.
type Cache interface {
	// Get returns the entry for key. Failures are reported as misses.
	Get(ctx context.Context, key string) (Entry, bool)
	// Put stores an entry. Failures are counted and otherwise ignored.
	Put(ctx context.Context, key string, e Entry)
	// Clear removes every entry.
	Clear(ctx context.Context) error
	// Stats returns activity counters.
	Stats() Stats
	// Close releases backend resources.
	Close() error
}

// Config selects and sizes a backend.
type Config struct {
	Backend string        `mapstructure:"backend" json:"backend"`
	Size    int           `mapstructure:"size" json:"size"`
	TTL     time.Duration `mapstructure:"ttl" json:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis" json:"redis"`
}

// New builds the backend named by cfg.Backend. An empty name selects memory.
func New(cfg Config) (Cache, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemory(cfg.Size, cfg.TTL), nil
	case BackendRedis:
		return NewRedis(cfg.Redis, cfg.TTL)
	case BackendNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
