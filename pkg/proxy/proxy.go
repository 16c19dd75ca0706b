// Package proxy forwards requests that no synthetic rule answers to the real
// upstream backend.
//
// Each upstream host has its own circuit breaker. Transport failures and 5xx
// responses count as breaker failures. While a breaker is open the
// forwarder answers 503 without contacting the upstream; other upstream
// failures are answered with 502.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/routing"
	mptls "github.com/getmockd/mockproxy/pkg/tls"
)

// DefaultTimeout bounds a single upstream exchange.
const DefaultTimeout = 30 * time.Second

// ErrNoUpstream is reported when neither the rule, the configuration nor an
// absolute request URI names an upstream host.
var ErrNoUpstream = errors.New("no upstream for request")

// errUpstreamStatus marks 5xx responses as breaker failures. The response
// is still relayed to the client.
var errUpstreamStatus = errors.New("upstream returned server error")

// Config configures upstream forwarding.
type Config struct {
	// URL is the default upstream base URL. When empty, only requests with an
	// absolute URI are forwarded, to the host they name, as a forward proxy
	// would.
	URL     string             `mapstructure:"url" json:"url,omitempty"`
	Timeout time.Duration      `mapstructure:"timeout" json:"timeout"`
	TLS     mptls.ClientConfig `mapstructure:"tls" json:"tls"`
	Proxy   OutboundConfig     `mapstructure:"proxy" json:"proxy"`
	Breaker BreakerConfig      `mapstructure:"breaker" json:"breaker"`
	// PreserveHost forwards the client's Host header instead of the
	// upstream host.
	PreserveHost bool `mapstructure:"preserve_host" json:"preserve_host"`
}

// Forwarder relays requests to the upstream.
type Forwarder struct {
	base         *url.URL
	client       *http.Client
	breakers     *breakers
	preserveHost bool
	log          *slog.Logger
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(f *Forwarder) {
		if log != nil {
			f.log = log
		}
	}
}

// WithTransport replaces the upstream transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) {
		if rt != nil {
			f.client.Transport = rt
		}
	}
}

// New creates a Forwarder for cfg.
func New(cfg Config, opts ...Option) (*Forwarder, error) {
	var base *url.URL
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream url %q: %w", cfg.URL, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("upstream url %q must be an absolute http or https url", cfg.URL)
		}
		base = u
	}

	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	f := &Forwarder{
		base: base,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			// Redirects are relayed to the client, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		preserveHost: cfg.PreserveHost,
		log:          logging.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.breakers = newBreakers(cfg.Breaker, f.log)
	return f, nil
}

// Breakers returns the state of every upstream breaker.
func (f *Forwarder) Breakers() []BreakerState {
	return f.breakers.snapshot()
}

// Forward implements engine.Forwarder.
func (f *Forwarder) Forward(w http.ResponseWriter, p routing.Proxy) {
	r := p.Request
	target, err := f.target(p)
	if err != nil {
		f.log.Warn("cannot forward request", "url", r.URL.String(), "error", err)
		http.Error(w, "Bad Gateway: "+err.Error(), http.StatusBadGateway)
		return
	}

	out := f.outbound(r, target, p.Headers)
	resp, err := f.breakers.get(target.Host).Execute(func() (*http.Response, error) {
		resp, err := f.client.Do(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errUpstreamStatus
		}
		return resp, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		f.log.Warn("upstream circuit open", "upstream", target.Host, "rule", p.RuleID)
		http.Error(w, "Service Unavailable: upstream circuit open", http.StatusServiceUnavailable)
		return
	case resp == nil:
		f.log.Error("upstream request failed", "upstream", target.Host, "rule", p.RuleID, "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(w.Header(), resp.Header)
	removeHopByHopHeaders(w.Header())
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.log.Debug("failed to relay upstream body", "upstream", target.Host, "error", err)
	}
}

// target selects the upstream base: the rule override, then the configured
// URL, then the host of an absolute request URI. A relative request with no
// configured upstream is refused, since its Host header names this proxy.
func (f *Forwarder) target(p routing.Proxy) (*url.URL, error) {
	if p.Upstream != nil {
		return p.Upstream, nil
	}
	if f.base != nil {
		return f.base, nil
	}
	r := p.Request
	if r.URL.IsAbs() && r.URL.Host != "" {
		return &url.URL{Scheme: r.URL.Scheme, Host: r.URL.Host}, nil
	}
	return nil, ErrNoUpstream
}

// outbound builds the upstream request for r.
func (f *Forwarder) outbound(r *http.Request, target *url.URL, extra []routing.Header) *http.Request {
	u := *target
	u.Path = singleJoiningSlash(target.Path, r.URL.Path)
	if target.RawPath != "" || r.URL.RawPath != "" {
		u.RawPath = singleJoiningSlash(target.EscapedPath(), r.URL.EscapedPath())
	}
	u.RawQuery = joinQuery(target.RawQuery, r.URL.RawQuery)

	out := r.Clone(r.Context())
	out.URL = &u
	out.RequestURI = ""
	out.Host = u.Host
	if f.preserveHost {
		out.Host = r.Host
	}
	out.Header = make(http.Header, len(r.Header)+3)
	copyHeaders(out.Header, r.Header)
	removeHopByHopHeaders(out.Header)

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		out.Header.Set("X-Forwarded-For", ip)
	}
	out.Header.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}

	for _, h := range extra {
		out.Header.Set(h.Name, h.Value)
	}

	otel.GetTextMapPropagator().Inject(out.Context(), propagation.HeaderCarrier(out.Header))
	return out
}

func joinQuery(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "&" + b
}

// singleJoiningSlash joins two URL paths with a single slash.
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
