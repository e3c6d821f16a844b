package store

import (
	"context"
	"log/slog"
	"strings"
)

// Open picks Postgres when dsn is set and Memory otherwise. The returned func
// releases the connection pool.
func Open(ctx context.Context, dsn string, migrate bool, migrationsDir string, log *slog.Logger) (Store, func(), error) {
	if strings.TrimSpace(dsn) == "" {
		log.Info("using in-memory store")
		return NewMemory(), func() {}, nil
	}
	pg, err := NewPostgres(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := pg.MigrateDir(ctx, migrationsDir); err != nil {
			pg.Close()
			return nil, nil, err
		}
		log.Info("migrations applied", "dir", migrationsDir)
	}
	return pg, pg.Close, nil
}
