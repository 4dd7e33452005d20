package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/did-method-tdw/go-didtdw/watcher"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	cmd := &cli.Command{
		Name:  "tdw-watcher",
		Usage: "did:tdw log watcher and resolver service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "postgres-url",
				Usage:   "PostgreSQL connection string (if set, uses Postgres instead of SQLite)",
				Sources: cli.EnvVars("POSTGRES_URL"),
			},
			&cli.StringFlag{
				Name:    "sqlite-path",
				Usage:   "SQLite database file path (used when --postgres-url is not set)",
				Value:   "watcher.db",
				Sources: cli.EnvVars("SQLITE_PATH"),
			},
			&cli.StringFlag{
				Name:    "bind",
				Usage:   "HTTP server listen address",
				Value:   ":8080",
				Sources: cli.EnvVars("WATCHER_BIND"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Metrics HTTP server listen address",
				Value:   ":9464",
				Sources: cli.EnvVars("METRICS_ADDR"),
			},
			&cli.DurationFlag{
				Name:    "refresh-interval",
				Usage:   "How often to re-fetch watched DID logs",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("REFRESH_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "num-workers",
				Usage:   "Number of concurrent refresh workers (0 = auto)",
				Value:   0,
				Sources: cli.EnvVars("NUM_WORKERS"),
			},
			&cli.StringSliceFlag{
				Name:    "watch",
				Usage:   "DID to watch at startup (repeatable)",
				Sources: cli.EnvVars("WATCH_DIDS"),
			},
			&cli.BoolFlag{
				Name:    "no-refresh",
				Usage:   "Disable periodic log refreshing (serve stored state only)",
				Sources: cli.EnvVars("NO_REFRESH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "Output logs in JSON format",
				Sources: cli.EnvVars("LOG_JSON"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	postgresURL := cmd.String("postgres-url")
	sqlitePath := cmd.String("sqlite-path")
	bind := cmd.String("bind")
	metricsAddr := cmd.String("metrics-addr")
	refreshInterval := cmd.Duration("refresh-interval")
	numWorkers := cmd.Int("num-workers")
	seeds := cmd.StringSlice("watch")
	noRefresh := cmd.Bool("no-refresh")
	logLevel := cmd.String("log-level")
	logJSON := cmd.Bool("log-json")

	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if logJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	otelShutdown, err := setupOTel(ctx, "tdw-watcher")
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer otelShutdown(context.Background())

	var store *watcher.Store
	if postgresURL != "" {
		slog.Info("using database", "type", "postgres", "url", postgresURL)
		store, err = watcher.NewStoreWithPostgres(postgresURL, logger)
		if err != nil {
			return fmt.Errorf("failed to create postgres store: %w", err)
		}
	} else {
		slog.Info("using database", "type", "sqlite", "path", sqlitePath)
		store, err = watcher.NewStoreWithSqlite(sqlitePath, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqlite store: %w", err)
		}
	}

	for _, did := range seeds {
		if err := store.Watch(ctx, did, ""); err != nil {
			return fmt.Errorf("failed to watch %s: %w", did, err)
		}
		slog.Info("watching", "did", did)
	}

	hub := watcher.NewHub()
	w := watcher.NewWatcher(store, hub, refreshInterval, numWorkers, logger)
	server := watcher.NewServer(store, w, hub, bind, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Run)

	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("metrics server listening", "addr", metricsAddr)
		return http.ListenAndServe(metricsAddr, mux)
	})

	if !noRefresh {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	return g.Wait()
}
