// Command recompute rebuilds the stats and similar-trips rows for every active trip.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rbus/internal/config"
	"rbus/internal/logging"
	"rbus/internal/matching"
	"rbus/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	workers := flag.Int("workers", cfg.Recompute.Workers, "concurrent trips")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall deadline")
	flag.Parse()

	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	st, closeStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMigrate, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("open store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	start := time.Now()
	n, err := matching.NewEngine(st, nil, nil, log).RecomputeAll(ctx, *workers)
	if err != nil {
		log.Error("recompute failed", "trips", n, "err", err)
		closeStore()
		os.Exit(1)
	}
	log.Info("recompute done", "trips", n, "workers", *workers, "took", time.Since(start))
}
