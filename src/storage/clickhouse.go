package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"tickfeed/src/dataset"
	"tickfeed/src/helpers"
	"tickfeed/src/logger"
	"tickfeed/src/models"
	"tickfeed/src/utils"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseGateway keeps each dataset in a ReplacingMergeTree table. Rows with
// the same key collapse to the latest insert, and reads use FINAL so a Load
// never sees both versions.
type ClickHouseGateway struct {
	conn   driver.Conn
	Config *models.MConfig
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewClickHouseGateway(cfg *models.MConfig, log *logger.Logger) (*ClickHouseGateway, error) {
	database := cfg.Storage.ClickHouseDatabase
	if database == "" {
		database = "default"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Storage.ClickHouseAddr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: cfg.Storage.ClickHouseUser,
			Password: cfg.Storage.ClickHousePassword,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Check the connection
	if err := conn.Ping(ctx); err != nil {
		return nil, helpers.NewPersistenceUnavailable("ping clickhouse", err)
	}

	err = conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name String,
			fields String,
			updated_at DateTime64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY name
	`, metaTable))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", metaTable, err)
	}

	log.Info("ClickHouse gateway ready at %s/%s", cfg.Storage.ClickHouseAddr, database)
	return &ClickHouseGateway{conn: conn, Config: cfg, Logger: log}, nil
}

// -----------------------------------------------------------------------------

func (g *ClickHouseGateway) storedFields(ctx context.Context, name string) ([]string, error) {
	rows, err := g.conn.Query(ctx, fmt.Sprintf("SELECT fields FROM %s FINAL WHERE name = ?", metaTable), name)
	if err != nil {
		return nil, helpers.NewPersistenceUnavailable("read dataset metadata", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, helpers.NewPersistenceUnavailable("read dataset metadata", err)
		}
		return nil, helpers.ErrNotFound
	}
	var fields string
	if err := rows.Scan(&fields); err != nil {
		return nil, err
	}
	return strings.Split(fields, ","), nil
}

// -----------------------------------------------------------------------------

func (g *ClickHouseGateway) Load(ctx context.Context, id models.MDatasetID, fields []string) (*dataset.Dataset, error) {
	table, err := TableName(id.Name)
	if err != nil {
		return nil, err
	}
	stored, err := g.storedFields(ctx, id.Name)
	if err != nil {
		return nil, err
	}
	if fields != nil && !slices.Equal(stored, fields) {
		return nil, helpers.NewMergeKeyConflict(fmt.Sprintf("dataset %s is stored with fields %v, not %v", id.Name, stored, fields))
	}
	filterCols, filterVals, err := partitionFilter(id, stored)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s, timestamp, price, weight, count FROM %s FINAL", strings.Join(stored, ", "), table)
	if len(filterCols) > 0 {
		var conds []string
		for _, c := range filterCols {
			conds = append(conds, c+" = ?")
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := g.conn.Query(ctx, query, filterVals...)
	if err != nil {
		return nil, helpers.NewPersistenceUnavailable("load "+id.String(), err)
	}
	defer rows.Close()

	ds := dataset.New(stored)
	for rows.Next() {
		labels := make([]string, len(stored))
		var ts int64
		var price, weight float64
		var count uint32
		dest := make([]interface{}, 0, len(stored)+4)
		for i := range labels {
			dest = append(dest, &labels[i])
		}
		dest = append(dest, &ts, &price, &weight, &count)
		if err := rows.Scan(dest...); err != nil {
			return nil, helpers.NewPersistenceUnavailable("scan "+id.String(), err)
		}

		group := make(models.Labels, len(stored))
		for i, f := range stored {
			group[f] = labels[i]
		}
		ds.Put(models.MBar{
			Timestamp: utils.EpochToTime(ts, utils.Nanoseconds),
			Group:     group,
			Price:     price,
			Weight:    weight,
			Count:     int(count),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, helpers.NewPersistenceUnavailable("load "+id.String(), err)
	}
	return ds, nil
}

// -----------------------------------------------------------------------------

// Save sends every row of ds in one batch.
func (g *ClickHouseGateway) Save(ctx context.Context, id models.MDatasetID, ds *dataset.Dataset) error {
	table, err := TableName(id.Name)
	if err != nil {
		return err
	}
	if err := checkFields(ds.Fields); err != nil {
		return err
	}

	stored, err := g.storedFields(ctx, id.Name)
	switch {
	case errors.Is(err, helpers.ErrNotFound):
		if err := g.createBarsTable(ctx, table, ds.Fields); err != nil {
			return helpers.NewPersistenceUnavailable("save "+id.String(), err)
		}
	case err != nil:
		return err
	case !slices.Equal(stored, ds.Fields):
		return helpers.NewMergeKeyConflict(fmt.Sprintf("dataset %s is stored with fields %v, not %v", id.Name, stored, ds.Fields))
	}

	now := time.Now().UTC()
	batch, err := g.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", table))
	if err != nil {
		return helpers.NewPersistenceUnavailable("prepare save "+id.String(), err)
	}
	for _, b := range ds.Rows() {
		args := make([]interface{}, 0, len(ds.Fields)+5)
		for _, f := range ds.Fields {
			args = append(args, b.Group[f])
		}
		args = append(args, b.Timestamp.UnixNano(), b.Price, b.Weight, uint32(b.Count), now)
		if err := batch.Append(args...); err != nil {
			return helpers.NewPersistenceUnavailable("save "+id.String(), err)
		}
	}
	if err := batch.Send(); err != nil {
		return helpers.NewPersistenceUnavailable("save "+id.String(), err)
	}

	err = g.conn.Exec(ctx, fmt.Sprintf("INSERT INTO %s (name, fields, updated_at) VALUES (?, ?, ?)", metaTable),
		id.Name, strings.Join(ds.Fields, ","), now)
	if err != nil {
		return helpers.NewPersistenceUnavailable("save metadata "+id.String(), err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (g *ClickHouseGateway) createBarsTable(ctx context.Context, table string, fields []string) error {
	var cols []string
	for _, f := range fields {
		cols = append(cols, f+" String")
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s,
			timestamp Int64,
			price Float64,
			weight Float64,
			count UInt32,
			updated_at DateTime64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (%s, timestamp)
	`, table, strings.Join(cols, ",\n\t\t\t"), strings.Join(fields, ", "))
	return g.conn.Exec(ctx, query)
}

// -----------------------------------------------------------------------------

func (g *ClickHouseGateway) Datasets(ctx context.Context) ([]string, error) {
	rows, err := g.conn.Query(ctx, fmt.Sprintf("SELECT name FROM %s FINAL ORDER BY name", metaTable))
	if err != nil {
		return nil, helpers.NewPersistenceUnavailable("list datasets", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// -----------------------------------------------------------------------------

func (g *ClickHouseGateway) Close() error {
	return g.conn.Close()
}
