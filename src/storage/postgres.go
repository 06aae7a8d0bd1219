package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"tickfeed/src/helpers"
	"tickfeed/src/logger"
	"tickfeed/src/models"

	_ "github.com/lib/pq"
)

var schemaCleanRe = regexp.MustCompile(`[^a-z0-9_]+`)

// -----------------------------------------------------------------------------

// PostgresGateway keeps datasets in their own schema of a Postgres database.
type PostgresGateway struct {
	sqlGateway
	Config *models.MConfig
	Schema string
}

// -----------------------------------------------------------------------------

// NewPostgresGateway names the schema after the service, falling back to the
// executable name.
func NewPostgresGateway(cfg *models.MConfig, log *logger.Logger) (*PostgresGateway, error) {
	name := cfg.Name
	if name == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable name: %w", err)
		}
		name = strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe))
	}
	schema := schemaCleanRe.ReplaceAllString(strings.ToLower(name), "_")

	g := &PostgresGateway{Config: cfg, Schema: schema}
	g.Logger = log
	g.dialect = dialect{
		name:        "postgres",
		textType:    "TEXT",
		intType:     "BIGINT",
		realType:    "DOUBLE PRECISION",
		placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
		qualify: func(table string) string {
			return quote(schema) + "." + quote(table)
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := g.Initialize(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresGateway) Initialize(ctx context.Context) error {
	db, err := sql.Open("postgres", d.Config.Storage.DBConnectionString)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return helpers.NewPersistenceUnavailable("connect postgres", err)
	}
	d.DB = db

	// Create Schema
	if _, err := d.DB.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quote(d.Schema))); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}
	if err := d.ensureMeta(ctx); err != nil {
		db.Close()
		return err
	}

	d.Logger.Info("Postgres gateway ready (schema %s)", d.Schema)
	return nil
}
