package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockproxy/pkg/cache"
	"github.com/getmockd/mockproxy/pkg/routing"
	"github.com/getmockd/mockproxy/pkg/rule"
)

func mustTable(t *testing.T, defs ...rule.Definition) *rule.Table {
	t.Helper()
	tbl, err := rule.NewTable(defs, rule.Options{})
	require.NoError(t, err)
	return tbl
}

func synthetic(id string, status int, body string, facets ...rule.FacetDefinition) rule.Definition {
	return rule.Definition{
		ID:      id,
		Facets:  facets,
		Outcome: rule.OutcomeDefinition{Type: rule.OutcomeSynthetic, Status: status, Body: body},
	}
}

func passthrough(id string, facets ...rule.FacetDefinition) rule.Definition {
	return rule.Definition{
		ID:      id,
		Facets:  facets,
		Outcome: rule.OutcomeDefinition{Type: rule.OutcomePassthrough},
	}
}

func method(v string) rule.FacetDefinition {
	return rule.FacetDefinition{Kind: "method", Value: v}
}

func exactURL(v string) rule.FacetDefinition {
	return rule.FacetDefinition{Kind: "url", Value: v}
}

func patternURL(v string) rule.FacetDefinition {
	return rule.FacetDefinition{Kind: "url", Mode: "pattern", Value: v}
}

func healthTable(t *testing.T) *rule.Table {
	return mustTable(t, synthetic("health", 200, "OK", method("GET"), exactURL("/health")))
}

// recordingObserver counts resolver events.
type recordingObserver struct {
	NopObserver

	mu        sync.Mutex
	hits      int
	misses    int
	timeouts  []string
	published int
	failed    []error
}

func (o *recordingObserver) CacheLookup(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *recordingObserver) PatternTimeout(ruleID string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeouts = append(o.timeouts, ruleID)
}

func (o *recordingObserver) TablePublished(*rule.Table) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.published++
}

func (o *recordingObserver) ReloadFailed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

func TestResolve_HealthScenario(t *testing.T) {
	r := NewResolver(healthTable(t))

	d := r.Resolve(httptest.NewRequest(http.MethodGet, "/health", nil))
	v, ok := d.(routing.Virtualize)
	require.True(t, ok, "expected Virtualize, got %T", d)
	assert.Equal(t, "health", v.RuleID)
	assert.Equal(t, 200, v.Response.Status)
	assert.Equal(t, "OK", string(v.Response.Body))

	d = r.Resolve(httptest.NewRequest(http.MethodPost, "/health", nil))
	p, ok := d.(routing.Proxy)
	require.True(t, ok, "expected Proxy, got %T", d)
	assert.Empty(t, p.RuleID)
	assert.False(t, routing.Matched(d))
}

func TestResolve_EmptyTableProxies(t *testing.T) {
	r := NewResolver(nil)
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)

	d := r.Resolve(req)
	p, ok := d.(routing.Proxy)
	require.True(t, ok)
	assert.Same(t, req, p.Request)
	assert.Nil(t, p.Upstream)
	assert.Zero(t, r.Evaluations())
}

func TestResolve_Deterministic(t *testing.T) {
	tbl := mustTable(t,
		synthetic("a", 200, "a", patternURL("^/v1/")),
		synthetic("b", 201, "b", method("GET"), patternURL("^/v1/")),
	)
	r := NewResolver(tbl, WithCache(cache.None{}))

	for i := 0; i < 20; i++ {
		d := r.Resolve(httptest.NewRequest(http.MethodGet, "/v1/x", nil))
		assert.Equal(t, "b", d.Rule())
	}
}

func TestResolve_SpecificityDominates(t *testing.T) {
	tbl := mustTable(t,
		synthetic("broad", 200, "broad", patternURL("^/api/")),
		synthetic("narrow", 200, "narrow", method("GET"), patternURL("^/api/")),
	)
	r := NewResolver(tbl)

	assert.Equal(t, "narrow", r.Resolve(httptest.NewRequest(http.MethodGet, "/api/x", nil)).Rule())
	assert.Equal(t, "broad", r.Resolve(httptest.NewRequest(http.MethodPost, "/api/x", nil)).Rule())
}

func TestResolve_ExactBeatsPatternAtSameCount(t *testing.T) {
	tbl := mustTable(t,
		synthetic("pattern", 200, "p", patternURL("^/users$")),
		synthetic("exact", 200, "e", exactURL("/users")),
	)
	r := NewResolver(tbl)
	assert.Equal(t, "exact", r.Resolve(httptest.NewRequest(http.MethodGet, "/users", nil)).Rule())
}

func TestResolve_TieGoesToEarliest(t *testing.T) {
	tbl := mustTable(t,
		synthetic("first", 200, "1", patternURL("^/same")),
		synthetic("second", 200, "2", patternURL("^/same")),
	)
	r := NewResolver(tbl)
	assert.Equal(t, "first", r.Resolve(httptest.NewRequest(http.MethodGet, "/same", nil)).Rule())
}

func withPriority(d rule.Definition, p int) rule.Definition {
	d.Priority = p
	return d
}

func TestResolve_PriorityRanksBeforeSpecificity(t *testing.T) {
	tbl := mustTable(t,
		withPriority(synthetic("narrow", 200, "narrow", method("GET"), exactURL("/orders")), 5),
		synthetic("broad", 200, "broad", patternURL("^/orders")),
		withPriority(synthetic("fallback", 404, "none", patternURL("^/")), 10),
	)
	r := NewResolver(tbl)

	assert.Equal(t, "broad", r.Resolve(httptest.NewRequest(http.MethodGet, "/orders", nil)).Rule())
	assert.Equal(t, "fallback", r.Resolve(httptest.NewRequest(http.MethodGet, "/users", nil)).Rule())

	exp := r.Explain(httptest.NewRequest(http.MethodGet, "/orders", nil))
	assert.Equal(t, "broad", exp.Winner)
	assert.Equal(t, 5, exp.Rules[0].Priority)
}

func TestResolve_EqualPriorityFallsBackToSpecificity(t *testing.T) {
	tbl := mustTable(t,
		withPriority(synthetic("broad", 200, "broad", patternURL("^/orders")), 1),
		withPriority(synthetic("narrow", 200, "narrow", method("GET"), exactURL("/orders")), 1),
		withPriority(synthetic("twin", 200, "twin", method("GET"), exactURL("/orders")), 1),
	)
	r := NewResolver(tbl)
	assert.Equal(t, "narrow", r.Resolve(httptest.NewRequest(http.MethodGet, "/orders", nil)).Rule())
}

func TestResolve_PassthroughBeatsLaterSynthetic(t *testing.T) {
	tbl := mustTable(t,
		passthrough("items", patternURL("^/v1/items/")),
		synthetic("v1", 200, "v1", patternURL("^/v1/")),
	)
	r := NewResolver(tbl)

	d := r.Resolve(httptest.NewRequest(http.MethodGet, "/v1/items/7", nil))
	p, ok := d.(routing.Proxy)
	require.True(t, ok, "expected Proxy, got %T", d)
	assert.Equal(t, "items", p.RuleID)
	assert.True(t, routing.Matched(d))

	assert.Equal(t, "v1", r.Resolve(httptest.NewRequest(http.MethodGet, "/v1/orders", nil)).Rule())
}

func TestResolve_HeadersSubset(t *testing.T) {
	tbl := mustTable(t, synthetic("staging", 200, "s",
		rule.FacetDefinition{Kind: "headers", Headers: []rule.HeaderDefinition{{Name: "x-env", Value: "staging"}}},
	))
	r := NewResolver(tbl)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Env", "staging")
	req.Header.Set("X-Other", "ignored")
	assert.Equal(t, "staging", r.Resolve(req).Rule())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Env", "prod")
	assert.False(t, routing.Matched(r.Resolve(req)))

	assert.False(t, routing.Matched(r.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))))
}

func TestResolve_URLPattern(t *testing.T) {
	tbl := mustTable(t, synthetic("user", 200, "u", patternURL(`^/api/users/\d+$`)))
	r := NewResolver(tbl)

	tests := []struct {
		path string
		want bool
	}{
		{"/api/users/42", true},
		{"/api/users/abc", false},
		{"/api/users/42/posts", false},
		{"/api/users/", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d := r.Resolve(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, routing.Matched(d))
		})
	}
}

func TestResolve_CacheHitSkipsEvaluation(t *testing.T) {
	obs := &recordingObserver{}
	r := NewResolver(healthTable(t), WithObserver(obs))

	first := r.Resolve(httptest.NewRequest(http.MethodGet, "/health", nil))
	evals := r.Evaluations()
	assert.Equal(t, uint64(1), evals)

	second := r.Resolve(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, evals, r.Evaluations(), "cache hit must not evaluate rules")
	assert.Equal(t, first.Rule(), second.Rule())
	assert.Equal(t, first.Kind(), second.Kind())
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
}

func TestResolve_CachedNoMatch(t *testing.T) {
	r := NewResolver(healthTable(t))

	r.Resolve(httptest.NewRequest(http.MethodPost, "/health", nil))
	evals := r.Evaluations()

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	d := r.Resolve(req)
	assert.Equal(t, evals, r.Evaluations())
	p, ok := d.(routing.Proxy)
	require.True(t, ok)
	assert.Same(t, req, p.Request, "cached proxy decisions carry the current request")
}

func TestResolve_IgnoresStaleCacheEntry(t *testing.T) {
	tbl := healthTable(t)
	c := cache.NewMemory(10, time.Minute)
	r := NewResolver(tbl, WithCache(c))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	key := tbl.Fingerprint(req)
	c.Put(context.Background(), key, cache.Entry{Version: tbl.Version(), Epoch: tbl.Epoch(), RuleID: "gone", Kind: routing.KindVirtualize})

	d := r.Resolve(req)
	assert.Equal(t, "health", d.Rule())
	assert.Equal(t, uint64(1), r.Evaluations())
}

func TestResolve_SharedRedisKeepsTablesApart(t *testing.T) {
	mr := miniredis.RunT(t)
	shared := func() cache.Cache {
		c, err := cache.NewRedis(cache.RedisConfig{Addr: mr.Addr()}, time.Minute)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	a := NewResolver(healthTable(t), WithCache(shared()))
	b := NewResolver(mustTable(t, synthetic("health", 200, "OK", method("GET"), exactURL("/other"))), WithCache(shared()))

	da := a.Resolve(httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, routing.KindProxy, da.Kind())

	db := b.Resolve(httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, routing.KindVirtualize, db.Kind())
	assert.Equal(t, "health", db.Rule())
	assert.Equal(t, uint64(1), b.Evaluations())
}

func TestResolve_RejectsEntryFromOtherVersion(t *testing.T) {
	tbl := mustTable(t, synthetic("health", 200, "OK", method("GET"), exactURL("/other")))
	c := cache.NewMemory(10, time.Minute)
	r := NewResolver(tbl, WithCache(c))

	req := httptest.NewRequest(http.MethodGet, "/other", nil)
	c.Put(context.Background(), tbl.Fingerprint(req), cache.Entry{Version: "elsewhere", Epoch: tbl.Epoch(), Kind: routing.KindProxy})

	d := r.Resolve(req)
	assert.Equal(t, "health", d.Rule())
	assert.Equal(t, uint64(1), r.Evaluations())
}

func TestPublish_ClearsCache(t *testing.T) {
	obs := &recordingObserver{}
	c := cache.NewMemory(10, time.Minute)
	r := NewResolver(healthTable(t), WithCache(c), WithObserver(obs))

	r.Resolve(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, 1, c.Stats().Entries)

	next := mustTable(t, synthetic("health", 503, "down", method("GET"), exactURL("/health")))
	r.Publish(context.Background(), next)
	assert.Same(t, next, r.Table())
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, 1, obs.published)

	before := r.Evaluations()
	d := r.Resolve(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Greater(t, r.Evaluations(), before, "published table must be evaluated afresh")
	v, ok := d.(routing.Virtualize)
	require.True(t, ok)
	assert.Equal(t, 503, v.Response.Status)
}

func TestReload(t *testing.T) {
	obs := &recordingObserver{}
	old := healthTable(t)
	r := NewResolver(old, WithObserver(obs))

	errBroken := errors.New("broken rules")
	_, err := r.Reload(context.Background(), TableSourceFunc(func(context.Context) (*rule.Table, error) {
		return nil, errBroken
	}))
	require.ErrorIs(t, err, errBroken)
	assert.Same(t, old, r.Table(), "failed reload keeps the previous table")
	assert.Len(t, obs.failed, 1)
	assert.Equal(t, "health", r.Resolve(httptest.NewRequest(http.MethodGet, "/health", nil)).Rule())

	next := mustTable(t)
	got, err := r.Reload(context.Background(), TableSourceFunc(func(context.Context) (*rule.Table, error) {
		return next, nil
	}))
	require.NoError(t, err)
	assert.Same(t, next, got)
	assert.Same(t, next, r.Table())
	assert.False(t, routing.Matched(r.Resolve(httptest.NewRequest(http.MethodGet, "/health", nil))))
}

func TestResolve_PatternTimeoutNotCached(t *testing.T) {
	tbl, err := rule.NewTable([]rule.Definition{
		synthetic("slow", 200, "slow", patternURL(`^/(a+)+$`)),
	}, rule.Options{RegexTimeout: time.Millisecond})
	require.NoError(t, err)

	obs := &recordingObserver{}
	r := NewResolver(tbl, WithObserver(obs))
	path := "/" + strings.Repeat("a", 40) + "!"

	d := r.Resolve(httptest.NewRequest(http.MethodGet, path, nil))
	assert.False(t, routing.Matched(d), "a timed out pattern counts as a non-match")
	r.Resolve(httptest.NewRequest(http.MethodGet, path, nil))

	assert.Equal(t, uint64(2), r.Evaluations(), "timed out evaluations are not cached")
	assert.Equal(t, []string{"slow", "slow"}, obs.timeouts)
	assert.Equal(t, 0, r.Cache().Stats().Entries)
}

func TestResolve_Concurrent(t *testing.T) {
	tbl := mustTable(t,
		synthetic("health", 200, "OK", method("GET"), exactURL("/health")),
		synthetic("v1", 200, "v1", patternURL("^/v1/")),
	)
	r := NewResolver(tbl)

	const workers = 32
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/health"
			if i%2 == 1 {
				path = "/v1/items"
			}
			results[i] = r.Resolve(httptest.NewRequest(http.MethodGet, path, nil)).Rule()
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		want := "health"
		if i%2 == 1 {
			want = "v1"
		}
		assert.Equal(t, want, got)
	}
	assert.LessOrEqual(t, r.Evaluations(), uint64(workers*tbl.Len()))
}

func TestExplain(t *testing.T) {
	tbl := mustTable(t,
		passthrough("items", patternURL("^/v1/items/")),
		synthetic("v1", 200, "v1", patternURL("^/v1/")),
		synthetic("health", 200, "OK", method("GET"), exactURL("/health")),
	)
	r := NewResolver(tbl)

	exp := r.Explain(httptest.NewRequest(http.MethodGet, "/v1/items/1", nil))
	assert.Equal(t, tbl.Epoch(), exp.Epoch)
	assert.Equal(t, tbl.Version(), exp.Version)
	assert.NotEmpty(t, exp.Fingerprint)
	assert.Equal(t, "items", exp.Winner)
	assert.Equal(t, routing.KindProxy, exp.Decision)
	require.Len(t, exp.Rules, 3)
	assert.True(t, exp.Rules[0].Matched)
	assert.True(t, exp.Rules[1].Matched)
	assert.False(t, exp.Rules[2].Matched)
	assert.Equal(t, "url == /health", exp.Rules[2].FailedConstraint)

	assert.Zero(t, r.Evaluations(), "explain does not count as resolution")
	assert.Equal(t, 0, r.Cache().Stats().Entries)

	exp = r.Explain(httptest.NewRequest(http.MethodDelete, "/other", nil))
	assert.Empty(t, exp.Winner)
	assert.Equal(t, routing.KindProxy, exp.Decision)
}
