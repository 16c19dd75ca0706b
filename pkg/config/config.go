package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/getmockd/mockproxy/internal/matching"
	"github.com/getmockd/mockproxy/pkg/cache"
	"github.com/getmockd/mockproxy/pkg/engine"
	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/proxy"
	"github.com/getmockd/mockproxy/pkg/rule"
	mptls "github.com/getmockd/mockproxy/pkg/tls"
	"github.com/getmockd/mockproxy/pkg/tracing"
)

// Config is the complete proxy configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Upstream proxy.Config   `mapstructure:"upstream" json:"upstream"`
	Matching MatchingConfig `mapstructure:"matching" json:"matching"`
	Cache    cache.Config   `mapstructure:"cache" json:"cache"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
	Admin    AdminConfig    `mapstructure:"admin" json:"admin"`
	Tracing  tracing.Config `mapstructure:"tracing" json:"tracing"`
	Rules    RulesConfig    `mapstructure:"rules" json:"rules"`
}

// ServerConfig configures the proxy listener.
type ServerConfig struct {
	Listen          string             `mapstructure:"listen" json:"listen"`
	ReadTimeout     time.Duration      `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration      `mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration      `mapstructure:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration      `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	TLS             mptls.ServerConfig `mapstructure:"tls" json:"tls"`
}

// Engine converts the listener settings for engine.NewServer.
func (s ServerConfig) Engine() engine.ServerConfig {
	return engine.ServerConfig{
		Listen:          s.Listen,
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
		IdleTimeout:     s.IdleTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
	}
}

// MatchingConfig gates facets and strategies.
type MatchingConfig struct {
	// Facets lists the enabled facets. Empty enables all of them.
	Facets []string `mapstructure:"facets" json:"facets"`
	// Strategies lists the enabled strategies. Empty enables both.
	Strategies []string `mapstructure:"strategies" json:"strategies"`
	// PreferExact breaks constraint-count ties in favor of exact constraints.
	PreferExact  bool          `mapstructure:"prefer_exact" json:"prefer_exact"`
	RegexTimeout time.Duration `mapstructure:"regex_timeout" json:"regex_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string             `mapstructure:"level" json:"level"`
	Format    string             `mapstructure:"format" json:"format"`
	AddSource bool               `mapstructure:"add_source" json:"add_source"`
	File      logging.FileConfig `mapstructure:"file" json:"file"`
}

// Logging converts the settings for logging.New.
func (l LogConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(l.Level)
	cfg.Format = logging.ParseFormat(l.Format)
	cfg.AddSource = l.AddSource
	cfg.File = l.File
	return cfg
}

// AdminConfig configures the admin API listener.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Listen  string `mapstructure:"listen" json:"listen"`
}

// RulesConfig locates rule definitions.
type RulesConfig struct {
	// Files are doublestar patterns such as "rules/**/*.toml".
	Files []string `mapstructure:"files" json:"files"`
	// BaseDir resolves relative patterns and body_file paths.
	BaseDir string `mapstructure:"base_dir" json:"base_dir"`
	// Watch reloads the table when a rule file changes.
	Watch    bool          `mapstructure:"watch" json:"watch"`
	Debounce time.Duration `mapstructure:"debounce" json:"debounce"`
	// Inline rules are appended after the file rules.
	Inline []rule.Definition `mapstructure:"inline" json:"inline,omitempty"`
}

// Default configuration values.
const (
	DefaultListen       = ":8080"
	DefaultAdminListen  = "127.0.0.1:9090"
	DefaultDebounce     = 250 * time.Millisecond
	DefaultRegexTimeout = matching.DefaultRegexTimeout
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          DefaultListen,
			ReadTimeout:     engine.DefaultReadTimeout,
			WriteTimeout:    engine.DefaultWriteTimeout,
			IdleTimeout:     engine.DefaultIdleTimeout,
			ShutdownTimeout: engine.DefaultShutdownTimeout,
		},
		Upstream: proxy.Config{
			Timeout: proxy.DefaultTimeout,
			Breaker: proxy.BreakerConfig{
				Enabled:          true,
				FailureThreshold: proxy.DefaultFailureThreshold,
				MaxRequests:      1,
				Timeout:          proxy.DefaultBreakerTimeout,
			},
		},
		Matching: MatchingConfig{
			PreferExact:  true,
			RegexTimeout: DefaultRegexTimeout,
		},
		Cache: cache.Config{
			Backend: cache.BackendMemory,
			Size:    cache.DefaultSize,
			TTL:     cache.DefaultTTL,
			Redis: cache.RedisConfig{
				Addr:   "localhost:6379",
				Prefix: cache.DefaultRedisPrefix,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logging.FormatAuto),
		},
		Admin: AdminConfig{
			Enabled: true,
			Listen:  DefaultAdminListen,
		},
		Tracing: tracing.Config{
			ServiceName: tracing.DefaultServiceName,
			SampleRate:  1.0,
		},
		Rules: RulesConfig{
			Debounce: DefaultDebounce,
		},
	}
}

// RuleOptions converts the matching section into compile options.
func (c *Config) RuleOptions() (rule.Options, error) {
	facets, err := matching.ParseFacetSet(c.Matching.Facets)
	if err != nil {
		return rule.Options{}, err
	}
	strategies, err := matching.ParseStrategySet(c.Matching.Strategies)
	if err != nil {
		return rule.Options{}, err
	}
	return rule.Options{
		Facets:       facets,
		Strategies:   strategies,
		RegexTimeout: c.Matching.RegexTimeout,
		IgnoreExact:  !c.Matching.PreferExact,
		BaseDir:      c.Rules.BaseDir,
	}, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if err := validateAddr(c.Server.Listen); err != nil {
		add("server.listen", "%v", err)
	}
	for field, d := range map[string]time.Duration{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.idle_timeout":     c.Server.IdleTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"upstream.timeout":        c.Upstream.Timeout,
		"cache.ttl":               c.Cache.TTL,
		"matching.regex_timeout":  c.Matching.RegexTimeout,
	} {
		if d < 0 {
			add(field, "must not be negative")
		}
	}
	if c.Server.TLS.Enabled && !c.Server.TLS.SelfSigned && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		add("server.tls", "cert_file and key_file are required unless self_signed is set")
	}
	if _, err := mptls.ParseVersion(c.Server.TLS.MinVersion); err != nil {
		add("server.tls.min_version", "%v", err)
	}

	if err := c.Upstream.Proxy.Validate(); err != nil {
		errs = append(errs, &ValidationError{Field: "upstream.proxy", Message: err.Error(), Err: err})
	}
	if c.Upstream.URL != "" && !strings.HasPrefix(c.Upstream.URL, "http://") && !strings.HasPrefix(c.Upstream.URL, "https://") {
		add("upstream.url", "must be an http or https url")
	}

	if _, err := matching.ParseFacetSet(c.Matching.Facets); err != nil {
		add("matching.facets", "%v", err)
	}
	if _, err := matching.ParseStrategySet(c.Matching.Strategies); err != nil {
		add("matching.strategies", "%v", err)
	}

	switch strings.ToLower(c.Cache.Backend) {
	case "", cache.BackendMemory, cache.BackendNone:
	case cache.BackendRedis:
		if c.Cache.Redis.Addr == "" {
			add("cache.redis.addr", "is required for the redis backend")
		}
	default:
		add("cache.backend", "unknown backend %q", c.Cache.Backend)
	}
	if c.Cache.Size < 0 {
		add("cache.size", "must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", string(logging.FormatText), string(logging.FormatJSON), string(logging.FormatAuto):
	default:
		add("log.format", "unknown format %q", c.Log.Format)
	}

	if c.Admin.Enabled {
		if err := validateAddr(c.Admin.Listen); err != nil {
			add("admin.listen", "%v", err)
		}
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		add("tracing.sample_rate", "must be between 0 and 1")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}
