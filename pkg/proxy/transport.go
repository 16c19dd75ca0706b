package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ErrInvalidProxyConfig is returned when use_proxy is set without a proxy URL.
var ErrInvalidProxyConfig = errors.New("use_proxy requires a proxy url")

// OutboundConfig routes upstream traffic through an HTTP proxy.
type OutboundConfig struct {
	UseProxy bool   `mapstructure:"use_proxy" json:"use_proxy"`
	URL      string `mapstructure:"url" json:"url,omitempty"`
	Username string `mapstructure:"username" json:"username,omitempty"`
	Password string `mapstructure:"password" json:"-"`
}

// Validate checks the outbound proxy settings.
func (c OutboundConfig) Validate() error {
	if !c.UseProxy {
		return nil
	}
	if c.URL == "" {
		return ErrInvalidProxyConfig
	}
	if _, err := c.proxyURL(); err != nil {
		return err
	}
	return nil
}

func (c OutboundConfig) proxyURL() (*url.URL, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", c.URL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy url %q has no host", c.URL)
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u, nil
}

// Transport defaults.
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
	defaultDialTimeout         = 30 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
)

// NewTransport builds the upstream transport: TLS settings, the optional
// outbound proxy with basic credentials, and connection pooling.
func NewTransport(cfg Config) (*http.Transport, error) {
	tlsConfig, err := cfg.TLS.Build()
	if err != nil {
		return nil, fmt.Errorf("upstream tls: %w", err)
	}
	if err := cfg.Proxy.Validate(); err != nil {
		return nil, err
	}

	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
	}
	if cfg.Proxy.UseProxy {
		u, _ := cfg.Proxy.proxyURL()
		t.Proxy = http.ProxyURL(u)
	}
	return t, nil
}
