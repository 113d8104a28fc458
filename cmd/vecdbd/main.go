// Command vecdbd runs a vecdb database as a long-lived process: it recovers
// every collection under the storage root, takes periodic snapshots, exposes
// Prometheus metrics and snapshots all collections on shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/vecdb"
	"github.com/hupe1980/vecdb/internal/config"
	"github.com/hupe1980/vecdb/observability"
	"github.com/hupe1980/vecdb/snapshot"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*vecdb.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	if cfg.Log.Format == "json" {
		return vecdb.NewJSONLogger(level), nil
	}
	return vecdb.NewTextLogger(level), nil
}

// buildOptions translates the daemon config into database options.
func buildOptions(ctx context.Context, cfg *config.Config, logger *vecdb.Logger, reg prometheus.Registerer) ([]vecdb.Option, error) {
	compression, err := snapshot.ParseCompression(cfg.Snapshot.Compression)
	if err != nil {
		return nil, err
	}

	opts := []vecdb.Option{
		vecdb.WithLogger(logger),
		vecdb.WithPersistence(cfg.Storage.Persistent),
		vecdb.WithAllowReset(cfg.Storage.AllowReset),
		vecdb.WithTelemetry(cfg.Telemetry.Enabled),
		vecdb.WithWorkers(cfg.Workers),
		vecdb.WithSnapshotEvery(cfg.Snapshot.Every),
		vecdb.WithSnapshotInterval(cfg.Snapshot.Interval),
		vecdb.WithSnapshotCompression(compression),
		vecdb.WithResourceLimits(vecdb.ResourceLimits{
			MemoryLimitBytes:  cfg.Limits.MemoryBytes,
			MaxBackgroundJobs: cfg.Limits.BackgroundJobs,
			IOBytesPerSec:     cfg.Limits.IOBytesPerSec,
		}),
	}
	if cfg.Snapshot.Retain > 0 {
		opts = append(opts, vecdb.WithSnapshotRetain(cfg.Snapshot.Retain))
	}

	if cfg.Telemetry.Enabled {
		collector, err := observability.NewCollector(reg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, vecdb.WithMetricsCollector(collector))
	}

	archive, err := newArchive(ctx, cfg.Archive, logger.Logger)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		opts = append(opts, vecdb.WithArchive(archive, cfg.Archive.Restore))
	}
	return opts, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts, err := buildOptions(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}

	db, err := vecdb.Open(ctx, cfg.Storage.Path, opts...)
	if err != nil {
		return err
	}

	var srv *http.Server
	if cfg.Telemetry.Enabled && cfg.Telemetry.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.Telemetry.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listener started", "addr", cfg.Telemetry.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	logger.Info("vecdbd ready", "collections", len(db.ListCollections()))
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown", "error", err)
		}
	}

	if cfg.Storage.Persistent {
		snapshotAll(shutdownCtx, db, logger)
	}
	return db.Close()
}

func snapshotAll(ctx context.Context, db *vecdb.DB, logger *vecdb.Logger) {
	for _, name := range db.ListCollections() {
		if _, err := db.Snapshot(ctx, name); err != nil {
			logger.Error("shutdown snapshot failed", slog.String("collection", name), slog.Any("error", err))
		}
	}
}
