// Package repository persists the market's committed changesets and loads
// them back as a snapshot at startup. It runs on PostgreSQL in production and
// on SQLite for local runs and tests.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evetabi/lotmarket/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Open connects to the configured database and applies pool settings.
func Open(ctx context.Context, cfg config.DBConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("repository.Open: %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// One writer; WAL keeps readers unblocked.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("repository.Open: set WAL mode: %w", err)
		}
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Migrate reads all *.sql files from dir, sorted by name, and executes them
// sequentially. Files must be idempotent (IF NOT EXISTS).
func Migrate(ctx context.Context, db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("repository.Migrate: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("repository.Migrate: read %q: %w", f, err)
		}
		if _, err = db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("repository.Migrate: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
