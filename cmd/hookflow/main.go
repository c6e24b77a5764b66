// Package main provides the hookflow binary entry point.
// Hookflow is a webhook-driven workflow automation engine: it verifies
// and deduplicates webhook deliveries, matches them against declarative
// workflow definitions, and executes the resulting action DAGs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hookflow/hookflow/action"
	"github.com/hookflow/hookflow/config"
	"github.com/hookflow/hookflow/dedup"
	"github.com/hookflow/hookflow/engine"
	"github.com/hookflow/hookflow/events"
	"github.com/hookflow/hookflow/history"
	"github.com/hookflow/hookflow/metrics"
	"github.com/hookflow/hookflow/queue"
	"github.com/hookflow/hookflow/schedule"
	"github.com/hookflow/hookflow/template"
	"github.com/hookflow/hookflow/webhook"
	"github.com/hookflow/hookflow/workflow"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "hookflow"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "hookflow",
		Short: "Webhook-driven workflow automation engine",
		Long: `Hookflow receives GitHub-style webhooks, verifies their HMAC
signatures, suppresses duplicate deliveries, and runs the matching
workflow definitions: condition-gated, templated actions executed as a
dependency DAG with retries and circuit breaking.

Workflow definitions are YAML or JSON files loaded from a directory and
hot-reloaded on change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(validateCmd())

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file-or-dir>...",
		Short: "Validate workflow definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failures := 0
			for _, path := range args {
				failures += validatePath(path)
			}
			if failures > 0 {
				return fmt.Errorf("%d definition(s) failed validation", failures)
			}
			return nil
		},
	}
}

func validatePath(path string) int {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return 1
	}

	if info.IsDir() {
		defs, errs := workflow.LoadDir(path)
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		}
		for _, d := range defs {
			fmt.Printf("ok: %s (%s)\n", d.Name, d.Version)
		}
		return len(errs)
	}

	d, err := workflow.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %s: %v\n", path, err)
		return 1
	}
	fmt.Printf("ok: %s (%s)\n", d.Name, d.Version)
	return 0
}

func run(configPath, logLevel string) error {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	loader := config.NewLoader(logger)
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = loader.LoadFile(configPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Deduplication: shared Redis when configured, in-process otherwise.
	var checker dedup.Checker
	if cfg.Dedup.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Dedup.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		checker = dedup.NewRedisCache(client, cfg.Dedup.TTL)
		logger.Info("using redis deduplication", "ttl", cfg.Dedup.TTL)
	} else {
		cache := dedup.NewMemoryCache(
			dedup.WithTTL(cfg.Dedup.TTL),
			dedup.WithCapacity(cfg.Dedup.Capacity),
		)
		go cache.Run(ctx)
		checker = cache
	}

	// History: Postgres when configured, in-memory otherwise.
	var store history.Store
	if cfg.History.PostgresDSN != "" {
		pg, err := history.Connect(ctx, cfg.History.PostgresDSN, logger)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate history schema: %w", err)
		}
		store = pg
		logger.Info("using postgres execution history")
	} else {
		store = history.NewMemoryStore()
	}
	tracker := history.NewTracker(store, logger)
	tracker.SetCompletedCapacity(cfg.History.CompletedCapacity)

	if cfg.History.Retention > 0 {
		go pruneHistory(ctx, store, cfg.History.Retention, logger)
	}

	q := queue.New(logger, queue.WithCapacity(cfg.Queue.Capacity))

	// Engine with the full action library.
	templateOpts := []template.Option{}
	if cfg.Engine.LenientTemplates {
		templateOpts = append(templateOpts, template.WithMode(template.ModeLenient), template.WithDefault(""))
	}
	actions := action.NewRegistry(logger)
	eng := engine.New(actions, tracker,
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithTemplateEngine(template.New(templateOpts...)),
		engine.WithDefaultTimeout(cfg.Engine.Timeout),
	)
	action.RegisterBuiltins(actions, eng.NestedRunner())

	// Workflow definitions: load once, then watch for changes.
	registry := workflow.NewRegistry(logger)
	dispatcher := engine.NewDispatcher(registry, eng, m, logger)
	registry.OnChange(func() { dispatcher.Sync(q) })

	scheduler := schedule.New(registry, q, logger)

	if cfg.Workflows.Watch {
		watcher := workflow.NewWatcher(cfg.Workflows.Dir, registry, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("workflow watcher stopped", "error", err)
			}
		}()
	} else {
		defs, errs := workflow.LoadDir(cfg.Workflows.Dir)
		for _, err := range errs {
			logger.Warn("skipping invalid workflow definition", "error", err)
		}
		for _, d := range defs {
			if err := registry.Register(d); err != nil {
				logger.Warn("could not register workflow", "workflow", d.Name, "error", err)
			}
		}
	}
	dispatcher.Sync(q)
	go scheduler.Run(ctx)
	go q.Run(ctx)

	// Lifecycle events out to NATS when configured.
	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer conn.Drain()
		publisher := events.NewNATSPublisher(conn, eng.Bus(), logger)
		go publisher.Run(ctx)
		logger.Info("publishing lifecycle events to nats", "url", cfg.NATS.URL)
	}

	// HTTP surface: webhook ingress plus Prometheus metrics.
	ingress := webhook.New(cfg.Webhook.Secret, q, checker, m, logger)
	router := chi.NewRouter()
	router.Mount("/", ingress.Router())
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hookflow ready",
			"version", Version,
			"addr", cfg.Server.Addr,
			"workflows", len(registry.List()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// pruneHistory deletes persisted snapshots past the retention window once
// a day.
func pruneHistory(ctx context.Context, store history.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			n, err := store.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				logger.Error("history retention prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned execution history", "deleted", n, "cutoff", cutoff)
			}
		}
	}
}
