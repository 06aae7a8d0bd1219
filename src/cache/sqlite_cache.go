package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tickfeed/src/logger"

	_ "modernc.org/sqlite"
)

// SQLiteCache stores pages in a single table of a local sqlite file.
type SQLiteCache struct {
	db     *sql.DB
	Logger *logger.Logger
	now    func() time.Time
}

// -----------------------------------------------------------------------------

func NewSQLiteCache(path string, log *logger.Logger) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.Warning("Failed to enable WAL on page cache: %v", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS page_cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create page_cache: %w", err)
	}

	return &SQLiteCache{db: db, Logger: log, now: time.Now}, nil
}

// -----------------------------------------------------------------------------

func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expires int64
	err := c.db.QueryRowContext(ctx, "SELECT value, expires_at FROM page_cache WHERE key = ?", key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expires > 0 && c.now().Unix() >= expires {
		_, _ = c.db.ExecContext(ctx, "DELETE FROM page_cache WHERE key = ?", key)
		return nil, false, nil
	}
	return value, true, nil
}

// -----------------------------------------------------------------------------

func (c *SQLiteCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := c.now()
	var expires int64
	if ttl > 0 {
		expires = now.Add(ttl).Unix()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO page_cache (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, value, now.Unix(), expires)
	return err
}

// -----------------------------------------------------------------------------

// Purge removes expired entries and returns how many were dropped.
func (c *SQLiteCache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM page_cache WHERE expires_at > 0 AND expires_at <= ?", c.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// -----------------------------------------------------------------------------

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
