// Command import loads intended trips from a CSV export and indexes them.
//
//	import -file trips.csv
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"rbus/internal/config"
	"rbus/internal/integrations"
	"rbus/internal/integrations/csvfile"
	"rbus/internal/logging"
	"rbus/internal/matching"
	"rbus/internal/model"
	"rbus/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	path := flag.String("file", "", "CSV file with a header row")
	batch := flag.Int("batch", 500, "rows read per batch")
	flag.Parse()
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if *path == "" {
		log.Error("-file is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(*path)
	if err != nil {
		log.Error("open input", "err", err)
		os.Exit(1)
	}
	defer f.Close()

	st, closeStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMigrate, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("open store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	engine := matching.NewEngine(st, nil, nil, log)
	src := csvfile.New(filepath.Base(*path), f)
	src.BatchSize = *batch
	im := &integrations.Importer{
		Sink: st,
		AfterSave: func(ctx context.Context, t model.Trip) error {
			_, err := engine.Recompute(ctx, t)
			return err
		},
		Log: log,
	}
	sum, err := im.Run(ctx, src)
	for _, rej := range sum.Rejected {
		log.Warn("row rejected", "line", rej.Line, "err", rej.Err)
	}
	if err != nil {
		log.Error("import aborted", "imported", sum.Imported, "err", err)
		os.Exit(1)
	}
}
