package proxy

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultBreakerTimeout   = 30 * time.Second
)

// BreakerConfig configures the per-upstream circuit breakers.
type BreakerConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// FailureThreshold is the number of consecutive failures that open the
	// breaker.
	FailureThreshold uint32 `mapstructure:"failure_threshold" json:"failure_threshold"`
	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32 `mapstructure:"max_requests" json:"max_requests"`
	// Interval resets the closed-state counters. Zero never resets them.
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// BreakerState is a snapshot of one upstream breaker.
type BreakerState struct {
	Upstream            string `json:"upstream"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

type breakers struct {
	cfg BreakerConfig
	log *slog.Logger

	mu     sync.Mutex
	byHost map[string]*gobreaker.CircuitBreaker[*http.Response]
}

func newBreakers(cfg BreakerConfig, log *slog.Logger) *breakers {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBreakerTimeout
	}
	return &breakers{
		cfg:    cfg,
		log:    log,
		byHost: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

// get returns the breaker for host, creating it on first use.
func (b *breakers) get(host string) *gobreaker.CircuitBreaker[*http.Response] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.byHost[host]; ok {
		return cb
	}

	threshold := b.cfg.FailureThreshold
	enabled := b.cfg.Enabled
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        host,
		MaxRequests: b.cfg.MaxRequests,
		Interval:    b.cfg.Interval,
		Timeout:     b.cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return enabled && c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn("upstream circuit breaker state changed",
				"upstream", name, "from", from.String(), "to", to.String())
		},
	})
	b.byHost[host] = cb
	return cb
}

func (b *breakers) snapshot() []BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]BreakerState, 0, len(b.byHost))
	for host, cb := range b.byHost {
		c := cb.Counts()
		out = append(out, BreakerState{
			Upstream:            host,
			State:               cb.State().String(),
			Requests:            c.Requests,
			TotalFailures:       c.TotalFailures,
			ConsecutiveFailures: c.ConsecutiveFailures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Upstream < out[j].Upstream })
	return out
}
