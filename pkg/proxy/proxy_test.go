package proxy

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockproxy/pkg/routing"
)

func newForwarder(t *testing.T, cfg Config) *Forwarder {
	t.Helper()
	f, err := New(cfg)
	require.NoError(t, err)
	return f
}

func forward(f *Forwarder, p routing.Proxy) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.Forward(rec, p)
	return rec
}

func TestForward_ToConfiguredUpstream(t *testing.T) {
	var got *http.Request
	var body string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("X-Upstream", "yes")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer upstream.Close()

	f := newForwarder(t, Config{URL: upstream.URL + "/base"})

	req := httptest.NewRequest(http.MethodPost, "/v1/items?x=1", strings.NewReader("payload"))
	req.Header.Set("X-Client", "abc")
	req.Header.Set("Proxy-Authorization", "secret")
	rec := forward(f, routing.Proxy{Request: req})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "created", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))
	assert.Empty(t, rec.Header().Get("Connection"))

	require.NotNil(t, got)
	assert.Equal(t, "/base/v1/items", got.URL.Path)
	assert.Equal(t, "x=1", got.URL.RawQuery)
	assert.Equal(t, "payload", body)
	assert.Equal(t, "abc", got.Header.Get("X-Client"))
	assert.Empty(t, got.Header.Get("Proxy-Authorization"), "hop-by-hop headers are not forwarded")
	assert.Equal(t, "192.0.2.1", got.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "example.com", got.Header.Get("X-Forwarded-Host"))
	assert.Equal(t, "http", got.Header.Get("X-Forwarded-Proto"))
}

func TestForward_RuleOverrides(t *testing.T) {
	var hits []string
	defaultUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "default")
	}))
	defer defaultUpstream.Close()

	var tenant string
	override := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "override")
		tenant = r.Header.Get("X-Tenant")
	}))
	defer override.Close()

	f := newForwarder(t, Config{URL: defaultUpstream.URL})
	u, err := url.Parse(override.URL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/items/1", nil)
	req.Header.Set("X-Tenant", "client")
	rec := forward(f, routing.Proxy{
		RuleID:   "items",
		Request:  req,
		Upstream: u,
		Headers:  []routing.Header{{Name: "X-Tenant", Value: "blue"}},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"override"}, hits)
	assert.Equal(t, "blue", tenant)
}

func TestForward_RequestHost(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer upstream.Close()

	f := newForwarder(t, Config{})
	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/direct", nil)
	rec := forward(f, routing.Proxy{Request: req})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/direct", rec.Body.String())
}

func TestForward_RelativeRequestWithoutUpstream(t *testing.T) {
	var hops atomic.Int32
	var f *Forwarder
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops.Add(1)
		f.Forward(w, routing.Proxy{Request: r})
	}))
	defer front.Close()
	f = newForwarder(t, Config{Timeout: time.Second})

	resp, err := http.Get(front.URL + "/unmatched")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(1), hops.Load(), "the proxy must not forward to itself")
}

func TestForward_UnreachableUpstream(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	f := newForwarder(t, Config{URL: deadURL, Timeout: time.Second})
	rec := forward(f, routing.Proxy{Request: httptest.NewRequest(http.MethodGet, "/", nil)})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestForward_BreakerOpens(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	f := newForwarder(t, Config{
		URL:     upstream.URL,
		Breaker: BreakerConfig{Enabled: true, FailureThreshold: 2, Timeout: time.Minute},
	})

	for i := 0; i < 2; i++ {
		rec := forward(f, routing.Proxy{Request: httptest.NewRequest(http.MethodGet, "/", nil)})
		assert.Equal(t, http.StatusInternalServerError, rec.Code, "5xx responses are relayed")
	}

	rec := forward(f, routing.Proxy{Request: httptest.NewRequest(http.MethodGet, "/", nil)})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 2, calls, "open breaker does not contact the upstream")

	states := f.Breakers()
	require.Len(t, states, 1)
	assert.Equal(t, "open", states[0].State)
}

func TestForward_BreakerDisabled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	f := newForwarder(t, Config{URL: upstream.URL, Breaker: BreakerConfig{FailureThreshold: 1}})
	for i := 0; i < 5; i++ {
		rec := forward(f, routing.Proxy{Request: httptest.NewRequest(http.MethodGet, "/", nil)})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	}
	assert.Equal(t, "closed", f.Breakers()[0].State)
}

func TestForward_OutboundProxy(t *testing.T) {
	var auth, target string
	outbound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Proxy-Authorization")
		target = r.URL.String()
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer outbound.Close()

	f := newForwarder(t, Config{
		URL: "http://upstream.invalid",
		Proxy: OutboundConfig{
			UseProxy: true,
			URL:      outbound.URL,
			Username: "user",
			Password: "pass",
		},
	})
	rec := forward(f, routing.Proxy{Request: httptest.NewRequest(http.MethodGet, "/ping", nil)})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "via proxy", rec.Body.String())
	assert.Equal(t, "http://upstream.invalid/ping", target)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")), auth)
}

func TestOutboundConfig_Validate(t *testing.T) {
	assert.NoError(t, OutboundConfig{}.Validate())
	assert.ErrorIs(t, OutboundConfig{UseProxy: true}.Validate(), ErrInvalidProxyConfig)
	assert.Error(t, OutboundConfig{UseProxy: true, URL: "not a url"}.Validate())
	assert.NoError(t, OutboundConfig{UseProxy: true, URL: "http://proxy:3128"}.Validate())

	_, err := New(Config{Proxy: OutboundConfig{UseProxy: true}})
	assert.ErrorIs(t, err, ErrInvalidProxyConfig)
}

func TestNew_InvalidUpstream(t *testing.T) {
	_, err := New(Config{URL: "ftp://files"})
	assert.Error(t, err)
	_, err = New(Config{URL: "/relative"})
	assert.Error(t, err)
}

func TestSingleJoiningSlash(t *testing.T) {
	tests := []struct{ a, b, want string }{
		{"", "/x", "/x"},
		{"/base", "/x", "/base/x"},
		{"/base/", "/x", "/base/x"},
		{"/base", "x", "/base/x"},
		{"", "", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, singleJoiningSlash(tt.a, tt.b), "%q + %q", tt.a, tt.b)
	}
}

func TestRemoveHopByHopHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom, keep-alive")
	h.Set("X-Custom", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("X-Keep", "1")

	removeHopByHopHeaders(h)
	assert.Empty(t, h.Get("Connection"))
	assert.Empty(t, h.Get("X-Custom"))
	assert.Empty(t, h.Get("Keep-Alive"))
	assert.Equal(t, "1", h.Get("X-Keep"))
}
