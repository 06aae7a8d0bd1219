package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"tickfeed/src/logger"
	"tickfeed/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

// SQLiteGateway keeps datasets in a local sqlite file.
type SQLiteGateway struct {
	sqlGateway
	Config *models.MConfig
	Path   string
}

// -----------------------------------------------------------------------------

func NewSQLiteGateway(cfg *models.MConfig, log *logger.Logger) (*SQLiteGateway, error) {
	g := &SQLiteGateway{Config: cfg, Path: cfg.Storage.DBPath}
	g.Logger = log
	g.dialect = dialect{
		name:        "sqlite",
		textType:    "TEXT",
		intType:     "INTEGER",
		realType:    "REAL",
		placeholder: func(int) string { return "?" },
		qualify:     quote,
	}
	if err := g.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return g, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteGateway) Initialize(ctx context.Context) error {
	if dir := filepath.Dir(d.Path); dir != "." && d.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", d.Path)
	if err != nil {
		return err
	}
	// one writer; readers share the WAL
	db.SetMaxOpenConns(1)

	// PRAGMA optimizations
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	d.DB = db
	if err := d.ensureMeta(ctx); err != nil {
		db.Close()
		return err
	}

	d.Logger.Info("SQLite gateway ready at %s", d.Path)
	return nil
}
