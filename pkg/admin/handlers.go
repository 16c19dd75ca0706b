package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/getmockd/mockproxy/pkg/rule"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	t := a.resolver.Table()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: a.version,
		Uptime:  a.Uptime(),
		Rules:   t.Len(),
		Epoch:   t.Epoch(),
	})
}

func (a *API) handleListRules(w http.ResponseWriter, _ *http.Request) {
	t := a.resolver.Table()
	resp := TableResponse{
		Epoch:   t.Epoch(),
		Version: t.Version(),
		Facets:  t.Facets().String(),
		Headers: t.HeaderNames(),
		Rules:   make([]RuleResponse, 0, t.Len()),
	}
	for _, r := range t.Rules() {
		resp.Rules = append(resp.Rules, ruleResponse(r))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rl, ok := a.resolver.Table().Rule(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "rule not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, ruleResponse(rl))
}

func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	if a.source == nil {
		writeError(w, http.StatusNotImplemented, "reload_unavailable", "no rule source configured")
		return
	}
	t, err := a.resolver.Reload(r.Context(), a.source)
	if err != nil {
		a.log.Warn("admin reload rejected", "error", err)
		resp := ErrorResponse{Error: "reload_failed", Message: err.Error()}
		var verrs rule.ValidationErrors
		if errors.As(err, &verrs) {
			resp.Message = "rule validation failed"
			for _, ve := range verrs {
				resp.Details = append(resp.Details, ErrorDetail{
					RuleID:  ve.RuleID,
					Field:   ve.Field,
					Facet:   ve.Facet,
					Message: ve.Message,
				})
			}
			writeJSON(w, http.StatusUnprocessableEntity, resp)
			return
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, ReloadResponse{Epoch: t.Epoch(), Version: t.Version(), Rules: t.Len()})
}

func (a *API) handleGetCache(w http.ResponseWriter, _ *http.Request) {
	resp := CacheResponse{Cache: a.resolver.Cache().Stats()}
	if a.breakers != nil {
		resp.Breakers = a.breakers.Breakers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := a.resolver.Cache().Clear(r.Context()); err != nil {
		a.log.Error("cache clear failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cache_clear_failed", "failed to clear cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req ExplainRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON in request body")
		return
	}
	sample, err := req.build()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.resolver.Explain(sample))
}

// build turns the description into a request the resolver can evaluate.
func (e ExplainRequest) build() (*http.Request, error) {
	method := strings.TrimSpace(e.Method)
	if method == "" {
		method = http.MethodGet
	}
	target := strings.TrimSpace(e.URL)
	if target == "" {
		return nil, errors.New("url is required")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Host == "" && !strings.HasPrefix(u.Path, "/") {
		return nil, errors.New("url must be absolute or start with /")
	}

	req := &http.Request{
		Method:     strings.ToUpper(method),
		URL:        u,
		Host:       u.Host,
		Header:     make(http.Header, len(e.Headers)),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Body:       http.NoBody,
	}
	for name, values := range e.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if e.Host != "" {
		req.Host = e.Host
	} else if h := req.Header.Get("Host"); h != "" && req.Host == "" {
		req.Host = h
	}
	return req, nil
}

func ruleResponse(r *rule.Rule) RuleResponse {
	matchers := r.Spec.Matchers()
	constraints := make([]string, len(matchers))
	for i, m := range matchers {
		constraints[i] = m.String()
	}
	return RuleResponse{
		ID:          r.ID,
		Index:       r.Index,
		Priority:    r.Priority(),
		Specificity: r.Specificity(),
		Constraints: constraints,
		Definition:  r.Definition,
	}
}
