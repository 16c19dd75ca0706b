package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockproxy/pkg/admin"
	"github.com/getmockd/mockproxy/pkg/cache"
	"github.com/getmockd/mockproxy/pkg/config"
	"github.com/getmockd/mockproxy/pkg/engine"
	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/metrics"
	"github.com/getmockd/mockproxy/pkg/proxy"
	"github.com/getmockd/mockproxy/pkg/tracing"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

func newServeCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy (foreground)",
		Long: `Run the proxy listener and, when enabled, the admin API.

Rules are compiled at startup; an invalid rule set aborts startup. Later
reloads (file watcher, SIGHUP or POST /__admin/reload) keep the active
table when the new rule set is invalid.`,
		Example: `  # Serve rules from a directory, forwarding misses to an upstream
  mockproxy serve --rules 'rules/**/*.toml' --upstream https://api.example.com

  # Layered configuration for the staging environment
  mockproxy serve --config-dir ./config --env staging

  # Reload rules when their files change
  mockproxy serve -c mockproxy.toml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringP("listen", "l", config.DefaultListen, "Proxy listen address")
	f.String("admin-listen", config.DefaultAdminListen, "Admin API listen address")
	f.StringP("upstream", "u", "", "Default upstream base URL for passthrough traffic")
	f.StringSliceP("rules", "r", nil, "Rule file patterns (doublestar globs)")
	f.BoolP("watch", "w", false, "Reload rules when rule files change")
	return cmd
}

// runServe starts every component and blocks until ctx is done.
func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(ctx); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.stop(shutdownCtx)
		case <-hup:
			a.log.Info("SIGHUP received, reloading rules")
			a.reload(ctx)
		}
	}
}

// app holds the running components of a serve invocation.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	closeLog func() error

	cache     cache.Cache
	tracer    *tracing.Tracer
	metrics   *metrics.Metrics
	source    *config.RuleSource
	resolver  *engine.Resolver
	forwarder *proxy.Forwarder
	server    *engine.Server
	admin     *engine.Server
	watcher   *config.Watcher
}

// newApp wires the components for cfg. The initial rule set must compile.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	log, closeLog := logging.NewWithCloser(cfg.Log.Logging())
	a := &app{cfg: cfg, log: log, closeLog: closeLog}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.source, err = config.NewRuleSource(cfg, log.With("component", "rules"))
	if err != nil {
		return nil, err
	}
	table, err := a.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	a.cache, err = cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	a.tracer, err = tracing.New(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	a.metrics = metrics.New()
	a.metrics.WatchCache(a.cache)

	a.resolver = engine.NewResolver(nil,
		engine.WithCache(a.cache),
		engine.WithLogger(log.With("component", "resolver")),
		engine.WithObserver(engine.Observers{
			engine.NewLogObserver(log.With("component", "resolver")),
			a.metrics,
			tracing.DecisionAnnotator{},
		}),
	)
	a.resolver.Publish(ctx, table)

	a.forwarder, err = proxy.New(cfg.Upstream, proxy.WithLogger(log.With("component", "proxy")))
	if err != nil {
		return nil, fmt.Errorf("failed to create forwarder: %w", err)
	}

	handler := engine.Chain(
		engine.NewHandler(a.resolver, a.forwarder, engine.WithHandlerLogger(log.With("component", "handler"))),
		engine.RequestIDMiddleware,
		a.tracer.Middleware(),
		a.metrics.Middleware(),
	)

	tlsConfig, err := cfg.Server.TLS.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	serverOpts := []engine.ServerOption{engine.WithServerLogger(log.With("component", "server"))}
	if tlsConfig != nil {
		serverOpts = append(serverOpts, engine.WithTLS(tlsConfig))
	}
	a.server = engine.NewServer(cfg.Server.Engine(), handler, serverOpts...)

	if cfg.Admin.Enabled {
		api := admin.New(a.resolver,
			admin.WithSource(a.source),
			admin.WithBreakers(a.forwarder),
			admin.WithMetrics(a.metrics.Handler()),
			admin.WithVersion(Version),
			admin.WithLogger(log.With("component", "admin")),
		)
		a.admin = engine.NewServer(engine.ServerConfig{Listen: cfg.Admin.Listen}, api,
			engine.WithServerLogger(log.With("component", "admin")))
	}

	if cfg.Rules.Watch && len(cfg.Rules.Files) > 0 {
		a.watcher, err = config.NewWatcher(a.source.Patterns(), func() { a.reload(ctx) },
			config.WithDebounce(cfg.Rules.Debounce),
			config.WithWatcherLogger(log.With("component", "watcher")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to watch rule files: %w", err)
		}
	}
	return a, nil
}

func (a *app) start(ctx context.Context) error {
	if err := a.server.Start(); err != nil {
		return err
	}
	if a.admin != nil {
		if err := a.admin.Start(); err != nil {
			return fmt.Errorf("admin api: %w", err)
		}
	}
	if a.watcher != nil {
		go a.watcher.Run(ctx)
	}

	t := a.resolver.Table()
	a.log.Info("mockproxy started",
		"listen", a.server.Addr(),
		"rules", t.Len(),
		"version", t.Version(),
		"upstream", a.cfg.Upstream.URL,
		"cache", cacheBackend(a.cfg.Cache.Backend),
		"tracing", a.tracer.Enabled(),
	)
	return nil
}

// reload rebuilds the table. Failures keep the active table and are
// reported through the resolver observers.
func (a *app) reload(ctx context.Context) {
	if t, err := a.resolver.Reload(ctx, a.source); err == nil {
		a.log.Debug("rules reloaded", "rules", t.Len())
	}
}

func (a *app) stop(ctx context.Context) error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
		a.watcher = nil
	}
	if a.admin != nil {
		errs = append(errs, a.admin.Stop(ctx))
	}
	if a.server != nil {
		errs = append(errs, a.server.Stop(ctx))
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// close releases resources that outlive the servers.
func (a *app) close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func cacheBackend(name string) string {
	if name == "" {
		return cache.BackendMemory
	}
	return name
}
