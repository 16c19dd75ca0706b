package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MOCKPROXY_SERVER_LISTEN.
const EnvPrefix = "MOCKPROXY"

// DefaultFileName is the optional base file read from the config directory.
const DefaultFileName = "default.toml"

// Loader assembles a Config from defaults, files, environment and flags.
type Loader struct {
	v       *viper.Viper
	dir     string
	env     string
	file    string
	flags   map[string]*pflag.Flag
	loaded  []string
	environ bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigDir sets the directory holding default.toml and <env>.toml.
func WithConfigDir(dir string) LoaderOption {
	return func(l *Loader) { l.dir = dir }
}

// WithEnv selects the environment overlay file. Empty falls back to
// MOCKPROXY_ENV.
func WithEnv(env string) LoaderOption {
	return func(l *Loader) { l.env = env }
}

// WithConfigFile adds an explicit configuration file. It must exist.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) { l.file = path }
}

// WithFlag binds a command line flag to a configuration key. The flag only
// overrides the key when it was set on the command line.
func WithFlag(key string, f *pflag.Flag) LoaderOption {
	return func(l *Loader) {
		if f != nil {
			l.flags[key] = f
		}
	}
}

// WithoutEnvironment disables MOCKPROXY_* overrides.
func WithoutEnvironment() LoaderOption {
	return func(l *Loader) { l.environ = false }
}

// NewLoader creates a loader with its own viper instance.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		v:       viper.New(),
		flags:   make(map[string]*pflag.Flag),
		environ: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads every layer and returns the decoded configuration. The result
// is not validated.
func (l *Loader) Load() (*Config, error) {
	setDefaults(l.v, Default())

	if l.dir != "" {
		if err := l.mergeOptional(filepath.Join(l.dir, DefaultFileName)); err != nil {
			return nil, err
		}
		env := l.env
		if env == "" && l.environ {
			env = os.Getenv(EnvPrefix + "_ENV")
		}
		if env != "" {
			if err := l.mergeOptional(filepath.Join(l.dir, env+".toml")); err != nil {
				return nil, err
			}
		}
	}

	if l.file != "" {
		if _, err := os.Stat(l.file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, l.file)
			}
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if err := l.merge(l.file); err != nil {
			return nil, err
		}
	}

	if l.environ {
		l.v.SetEnvPrefix(EnvPrefix)
		l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		l.v.AutomaticEnv()
	}

	for key, f := range l.flags {
		if err := l.v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	}

	cfg := &Config{}
	err := l.v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if cfg.Rules.BaseDir == "" {
		cfg.Rules.BaseDir = l.baseDir()
	}
	return cfg, nil
}

// Files returns the configuration files read by the last Load, in order.
func (l *Loader) Files() []string {
	return append([]string(nil), l.loaded...)
}

func (l *Loader) mergeOptional(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file: %w", err)
	}
	return l.merge(path)
}

func (l *Loader) merge(path string) error {
	l.v.SetConfigFile(path)
	if err := l.v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	l.loaded = append(l.loaded, path)
	return nil
}

// baseDir resolves relative rule paths against the explicit config file,
// then the config directory, then the working directory.
func (l *Loader) baseDir() string {
	switch {
	case l.file != "":
		return filepath.Dir(l.file)
	case l.dir != "":
		return l.dir
	default:
		return "."
	}
}

// setDefaults registers every known key so environment overrides resolve
// even when no file mentions them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.tls.enabled", d.Server.TLS.Enabled)
	v.SetDefault("server.tls.cert_file", d.Server.TLS.CertFile)
	v.SetDefault("server.tls.key_file", d.Server.TLS.KeyFile)
	v.SetDefault("server.tls.self_signed", d.Server.TLS.SelfSigned)
	v.SetDefault("server.tls.hosts", d.Server.TLS.Hosts)
	v.SetDefault("server.tls.min_version", d.Server.TLS.MinVersion)

	v.SetDefault("upstream.url", d.Upstream.URL)
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)
	v.SetDefault("upstream.preserve_host", d.Upstream.PreserveHost)
	v.SetDefault("upstream.tls.ca_file", d.Upstream.TLS.CAFile)
	v.SetDefault("upstream.tls.cert_file", d.Upstream.TLS.CertFile)
	v.SetDefault("upstream.tls.key_file", d.Upstream.TLS.KeyFile)
	v.SetDefault("upstream.tls.insecure_skip_verify", d.Upstream.TLS.InsecureSkipVerify)
	v.SetDefault("upstream.tls.server_name", d.Upstream.TLS.ServerName)
	v.SetDefault("upstream.proxy.use_proxy", d.Upstream.Proxy.UseProxy)
	v.SetDefault("upstream.proxy.url", d.Upstream.Proxy.URL)
	v.SetDefault("upstream.proxy.username", d.Upstream.Proxy.Username)
	v.SetDefault("upstream.proxy.password", d.Upstream.Proxy.Password)
	v.SetDefault("upstream.breaker.enabled", d.Upstream.Breaker.Enabled)
	v.SetDefault("upstream.breaker.failure_threshold", d.Upstream.Breaker.FailureThreshold)
	v.SetDefault("upstream.breaker.max_requests", d.Upstream.Breaker.MaxRequests)
	v.SetDefault("upstream.breaker.interval", d.Upstream.Breaker.Interval)
	v.SetDefault("upstream.breaker.timeout", d.Upstream.Breaker.Timeout)

	v.SetDefault("matching.facets", d.Matching.Facets)
	v.SetDefault("matching.strategies", d.Matching.Strategies)
	v.SetDefault("matching.prefer_exact", d.Matching.PreferExact)
	v.SetDefault("matching.regex_timeout", d.Matching.RegexTimeout)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.redis.addr", d.Cache.Redis.Addr)
	v.SetDefault("cache.redis.password", d.Cache.Redis.Password)
	v.SetDefault("cache.redis.db", d.Cache.Redis.DB)
	v.SetDefault("cache.redis.prefix", d.Cache.Redis.Prefix)
	v.SetDefault("cache.redis.timeout", d.Cache.Redis.Timeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.add_source", d.Log.AddSource)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", d.Log.File.Compress)

	v.SetDefault("admin.enabled", d.Admin.Enabled)
	v.SetDefault("admin.listen", d.Admin.Listen)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)

	v.SetDefault("rules.files", d.Rules.Files)
	v.SetDefault("rules.base_dir", d.Rules.BaseDir)
	v.SetDefault("rules.watch", d.Rules.Watch)
	v.SetDefault("rules.debounce", d.Rules.Debounce)
}
