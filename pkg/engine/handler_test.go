package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockproxy/pkg/routing"
	"github.com/getmockd/mockproxy/pkg/rule"
)

func TestHandler_Synthetic(t *testing.T) {
	tbl := mustTable(t, rule.Definition{
		ID:     "health",
		Facets: []rule.FacetDefinition{method("GET"), exactURL("/health")},
		Outcome: rule.OutcomeDefinition{
			Type:    rule.OutcomeSynthetic,
			Status:  200,
			Headers: []rule.HeaderDefinition{{Name: "Content-Type", Value: "text/plain"}},
			Body:    "OK",
		},
	})
	h := NewHandler(NewResolver(tbl), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "health", rec.Header().Get(RuleHeader))
	assert.Equal(t, "2", rec.Header().Get("Content-Length"))
}

func TestHandler_Template(t *testing.T) {
	tbl := mustTable(t, rule.Definition{
		ID:     "echo",
		Facets: []rule.FacetDefinition{patternURL("^/echo")},
		Outcome: rule.OutcomeDefinition{
			Type:     rule.OutcomeSynthetic,
			Body:     `{{ .Request.Method }} {{ .Request.Path }} {{ .RuleID }}`,
			Template: true,
		},
	})
	h := NewHandler(NewResolver(tbl), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/echo/1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PUT /echo/1 echo", rec.Body.String())
}

func TestHandler_NoBodyStatuses(t *testing.T) {
	tbl := mustTable(t,
		synthetic("empty", http.StatusNoContent, "ignored", exactURL("/empty")),
		synthetic("ok", http.StatusOK, "body", exactURL("/ok")),
	)
	h := NewHandler(NewResolver(tbl), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/empty", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Length"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
}

func TestHandler_Proxy(t *testing.T) {
	tbl := mustTable(t, passthrough("items", patternURL("^/v1/items/")))

	var got routing.Proxy
	fwd := ForwarderFunc(func(w http.ResponseWriter, p routing.Proxy) {
		got = p
		w.WriteHeader(http.StatusAccepted)
	})
	h := NewHandler(NewResolver(tbl), fwd)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/3", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "items", got.RuleID)
	assert.Equal(t, "/v1/items/3", got.Request.URL.Path)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, got.RuleID)
}

func TestHandler_NoForwarder(t *testing.T) {
	h := NewHandler(NewResolver(nil), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(RequestIDHeader)
	}), RequestIDMiddleware)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "fixed")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "fixed", seen)
	assert.Equal(t, "fixed", rec.Header().Get(RequestIDHeader))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("outer"), nil, mw("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestServer_StartStop(t *testing.T) {
	h := NewHandler(NewResolver(healthTable(t)), nil)
	srv := NewServer(ServerConfig{Listen: "127.0.0.1:0"}, h)

	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())
	assert.Error(t, srv.Start(), "second start must fail")

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	require.NoError(t, srv.Stop(context.Background()))
	assert.False(t, srv.IsRunning())
	assert.Zero(t, srv.Uptime())
	require.NoError(t, srv.Stop(context.Background()))
}
