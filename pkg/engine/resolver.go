package engine

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/getmockd/mockproxy/internal/matching"
	"github.com/getmockd/mockproxy/pkg/cache"
	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/routing"
	"github.com/getmockd/mockproxy/pkg/rule"
)

// TableSource builds rule tables, typically from configuration files.
type TableSource interface {
	Load(ctx context.Context) (*rule.Table, error)
}

// TableSourceFunc adapts a function to TableSource.
type TableSourceFunc func(ctx context.Context) (*rule.Table, error)

// Load implements TableSource.
func (f TableSourceFunc) Load(ctx context.Context) (*rule.Table, error) { return f(ctx) }

// Resolver maps requests to routing decisions against the active table.
type Resolver struct {
	table atomic.Pointer[rule.Table]
	cache cache.Cache
	obs   Observer
	log   *slog.Logger

	group       singleflight.Group
	evaluations atomic.Uint64

	// publishMu orders publishes so the newest reload always wins.
	publishMu sync.Mutex
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache sets the result cache. The default is an in-memory cache.
func WithCache(c cache.Cache) Option {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithObserver adds an event observer.
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		if o == nil {
			return
		}
		if _, nop := r.obs.(NopObserver); nop {
			r.obs = o
			return
		}
		r.obs = Observers{r.obs, o}
	}
}

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// NewResolver creates a resolver serving t. A nil table is treated as empty.
func NewResolver(t *rule.Table, opts ...Option) *Resolver {
	r := &Resolver{
		cache: cache.NewMemory(cache.DefaultSize, cache.DefaultTTL),
		obs:   NopObserver{},
		log:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if t == nil {
		t = rule.Empty()
	}
	r.table.Store(t)
	return r
}

// Table returns the active table.
func (r *Resolver) Table() *rule.Table {
	return r.table.Load()
}

// Cache returns the result cache.
func (r *Resolver) Cache() cache.Cache {
	return r.cache
}

// Evaluations returns how many rule specs have been evaluated.
func (r *Resolver) Evaluations() uint64 {
	return r.evaluations.Load()
}

// Resolve returns the routing decision for req. It never fails: a request
// that matches no rule resolves to Proxy.
func (r *Resolver) Resolve(req *http.Request) routing.Decision {
	start := time.Now()
	t := r.table.Load()
	ctx := req.Context()

	f := t.Extract(req)
	key := t.Key(f)

	if e, ok := r.cache.Get(ctx, key); ok {
		if d, ok := rebuild(t, e, req); ok {
			r.obs.CacheLookup(true)
			r.obs.Decided(req, d, time.Since(start))
			return d
		}
	}
	r.obs.CacheLookup(false)

	v, _, _ := r.group.Do(key, func() (any, error) {
		winner, complete := r.evaluate(t, f)
		if complete {
			r.cache.Put(context.WithoutCancel(ctx), key, entryFor(t, winner))
		}
		return winner, nil
	})

	winner, _ := v.(*rule.Rule)
	d := decide(winner, req)
	r.obs.Decided(req, d, time.Since(start))
	return d
}

// evaluate runs every rule against f and returns the winner, or nil. The
// second result is false when a pattern timed out, in which case the
// outcome is not cached.
func (r *Resolver) evaluate(t *rule.Table, f *matching.Facets) (*rule.Rule, bool) {
	var best *rule.Rule
	complete := true
	for _, rl := range t.Rules() {
		r.evaluations.Add(1)
		ok, err := rl.Spec.Matches(f)
		if err != nil {
			complete = false
			r.obs.PatternTimeout(rl.ID, err)
			continue
		}
		if !ok {
			continue
		}
		if best == nil || rl.Outranks(best) {
			best = rl
		}
	}
	return best, complete
}

func entryFor(t *rule.Table, winner *rule.Rule) cache.Entry {
	e := cache.Entry{Version: t.Version(), Epoch: t.Epoch(), Kind: routing.KindProxy}
	if winner != nil {
		e.RuleID = winner.ID
		if !winner.Outcome.Passthrough() {
			e.Kind = routing.KindVirtualize
		}
	}
	return e
}

// rebuild turns a cache entry back into a decision for req. It rejects
// entries from another table or naming rules the table does not hold.
func rebuild(t *rule.Table, e cache.Entry, req *http.Request) (routing.Decision, bool) {
	if e.Version != t.Version() || e.Epoch != t.Epoch() {
		return nil, false
	}
	if e.RuleID == "" {
		if e.Kind != routing.KindProxy {
			return nil, false
		}
		return routing.Proxy{Request: req}, true
	}
	rl, ok := t.Rule(e.RuleID)
	if !ok {
		return nil, false
	}
	d := rl.Decide(req)
	if d.Kind() != e.Kind {
		return nil, false
	}
	return d, true
}

func decide(winner *rule.Rule, req *http.Request) routing.Decision {
	if winner == nil {
		return routing.Proxy{Request: req}
	}
	return winner.Decide(req)
}

// Publish makes t the active table and clears the result cache.
func (r *Resolver) Publish(ctx context.Context, t *rule.Table) {
	if t == nil {
		t = rule.Empty()
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.table.Store(t)
	if err := r.cache.Clear(ctx); err != nil {
		// Old entries stay unreachable: keys and entries carry the table scope.
		r.log.Warn("failed to clear result cache", "error", err)
	}
	r.obs.TablePublished(t)
}

// Reload builds a table from src and publishes it. When src fails, the
// active table is kept and the error is returned.
func (r *Resolver) Reload(ctx context.Context, src TableSource) (*rule.Table, error) {
	t, err := src.Load(ctx)
	if err != nil {
		r.obs.ReloadFailed(err)
		return nil, err
	}
	r.Publish(ctx, t)
	return t, nil
}
