// HTTP request handler serving routing decisions.

package engine

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/routing"
	"github.com/getmockd/mockproxy/pkg/template"
)

// RuleHeader names the response header carrying the id of the rule that
// produced a synthetic response.
const RuleHeader = "X-Mockproxy-Rule"

// Forwarder relays Proxy decisions to an upstream.
type Forwarder interface {
	Forward(w http.ResponseWriter, p routing.Proxy)
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(w http.ResponseWriter, p routing.Proxy)

// Forward implements Forwarder.
func (f ForwarderFunc) Forward(w http.ResponseWriter, p routing.Proxy) { f(w, p) }

// Handler resolves each request and either writes the synthetic response or
// forwards the request.
type Handler struct {
	resolver  *Resolver
	forwarder Forwarder
	log       *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the operational logger for the handler.
func WithHandlerLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// NewHandler creates a Handler. A nil forwarder answers every Proxy
// decision with 502 Bad Gateway.
func NewHandler(resolver *Resolver, forwarder Forwarder, opts ...HandlerOption) *Handler {
	h := &Handler{
		resolver:  resolver,
		forwarder: forwarder,
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch d := h.resolver.Resolve(r).(type) {
	case routing.Virtualize:
		h.serveSynthetic(w, r, d)
	case routing.Proxy:
		if h.forwarder == nil {
			http.Error(w, "no upstream configured", http.StatusBadGateway)
			return
		}
		h.forwarder.Forward(w, d)
	}
}

func (h *Handler) serveSynthetic(w http.ResponseWriter, r *http.Request, v routing.Virtualize) {
	resp := v.Response
	body := resp.Body

	if resp.Template != nil {
		ctx, err := template.NewContextFromRequest(v.RuleID, r)
		if err == nil {
			body, err = resp.Template.Render(ctx)
		}
		if err != nil {
			h.log.Error("failed to render synthetic response", "rule", v.RuleID, "error", err)
			http.Error(w, "failed to render response", http.StatusInternalServerError)
			return
		}
	}

	header := w.Header()
	for _, hd := range resp.Headers {
		header.Add(hd.Name, hd.Value)
	}
	header.Set(RuleHeader, v.RuleID)
	if bodyAllowed(resp.Status) && header.Get("Content-Length") == "" {
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}

	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead || !bodyAllowed(resp.Status) {
		return
	}
	if _, err := w.Write(body); err != nil {
		h.log.Debug("failed to write synthetic response", "rule", v.RuleID, "error", err)
	}
}

// bodyAllowed reports whether a response with status may carry a body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
