package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MigrateDir applies every *.sql file in dir, in name order, that is not yet
// recorded in schema_migrations. Each file runs in its own transaction.
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
	if _, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return storageErr("migrate", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return storageErr("migrate", err)
	}
	sort.Strings(files)
	for _, f := range files {
		version := strings.TrimSuffix(filepath.Base(f), ".sql")
		var applied bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&applied); err != nil {
			return storageErr("migrate", err)
		}
		if applied {
			continue
		}
		body, err := os.ReadFile(f)
		if err != nil {
			return storageErr("migrate "+version, err)
		}
		if err := p.applyMigration(ctx, version, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) applyMigration(ctx context.Context, version, body string) error {
	op := "migrate " + version
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, body); err != nil {
		return storageErr(op, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return storageErr(op, err)
	}
	return storageErr(op, tx.Commit(ctx))
}
