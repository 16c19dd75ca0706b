package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Errors returned when building TLS configurations.
var (
	ErrMissingKeyPair = errors.New("tls requires both cert_file and key_file")
	ErrInvalidCA      = errors.New("no certificates found in CA file")
)

// ServerConfig configures TLS on the proxy listener.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// CertFile and KeyFile name a PEM key pair.
	CertFile string `mapstructure:"cert_file" json:"cert_file,omitempty"`
	KeyFile  string `mapstructure:"key_file" json:"key_file,omitempty"`
	// SelfSigned generates an in-memory certificate when no pair is given,
	// or writes one to CertFile/KeyFile when they do not exist yet.
	SelfSigned bool     `mapstructure:"self_signed" json:"self_signed"`
	Hosts      []string `mapstructure:"hosts" json:"hosts,omitempty"`
	// MinVersion is "1.2" or "1.3".
	MinVersion string `mapstructure:"min_version" json:"min_version,omitempty"`
}

// Build returns the listener TLS configuration, or nil when TLS is disabled.
func (c ServerConfig) Build() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVersion, err := ParseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}

	var cert *Certificate
	hasPair := c.CertFile != "" && c.KeyFile != ""
	switch {
	case c.SelfSigned && hasPair:
		cert, err = EnsureFiles(c.selfSigned(), c.CertFile, c.KeyFile)
	case c.SelfSigned:
		cert, err = GenerateSelfSigned(c.selfSigned())
	case hasPair:
		cert, err = LoadFiles(c.CertFile, c.KeyFile)
	default:
		return nil, ErrMissingKeyPair
	}
	if err != nil {
		return nil, err
	}

	pair, err := cert.TLSCertificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   minVersion,
	}, nil
}

func (c ServerConfig) selfSigned() SelfSignedConfig {
	cfg := DefaultSelfSignedConfig()
	if len(c.Hosts) > 0 {
		cfg.Hosts = c.Hosts
	}
	return cfg
}

// ClientConfig configures TLS towards the upstream.
type ClientConfig struct {
	// CAFile adds PEM roots to the system pool.
	CAFile string `mapstructure:"ca_file" json:"ca_file,omitempty"`
	// CertFile and KeyFile present a client certificate.
	CertFile           string `mapstructure:"cert_file" json:"cert_file,omitempty"`
	KeyFile            string `mapstructure:"key_file" json:"key_file,omitempty"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" json:"insecure_skip_verify"`
	ServerName         string `mapstructure:"server_name" json:"server_name,omitempty"`
}

// Build returns the client TLS configuration.
func (c ClientConfig) Build() (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in for test upstreams
		ServerName:         c.ServerName,
		MinVersion:         tls.VersionTLS12,
	}

	if c.CAFile != "" {
		data, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCA, c.CAFile)
		}
		cfg.RootCAs = pool
	}

	if c.CertFile != "" || c.KeyFile != "" {
		if c.CertFile == "" || c.KeyFile == "" {
			return nil, ErrMissingKeyPair
		}
		pair, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	return cfg, nil
}

// ParseVersion maps "1.2" and "1.3" to TLS version constants. Empty selects 1.2.
func ParseVersion(s string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tls") {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported tls version %q", s)
	}
}
