package storage

import (
	"context"
	"database/sql"
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
)

// dialect holds what differs between the database/sql backends.
type dialect struct {
	name        string
	textType    string
	intType     string
	realType    string
	placeholder func(i int) string
	qualify     func(table string) string
}

// -----------------------------------------------------------------------------

// sqlGateway stores every dataset in its own bars table and keeps the group
// fields of each dataset in a metadata table.
type sqlGateway struct {
	DB      *sql.DB
	Logger  *logger.Logger
	dialect dialect
}

// -----------------------------------------------------------------------------

func (g *sqlGateway) ensureMeta(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name %s PRIMARY KEY,
			fields %s NOT NULL,
			updated_at %s NOT NULL
		)`, g.dialect.qualify(metaTable), g.dialect.textType, g.dialect.textType, g.dialect.intType)
	if _, err := g.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s: %w", metaTable, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (g *sqlGateway) storedFields(ctx context.Context, name string) ([]string, error) {
	var fields string
	query := fmt.Sprintf("SELECT fields FROM %s WHERE name = %s", g.dialect.qualify(metaTable), g.dialect.placeholder(1))
	err := g.DB.QueryRowContext(ctx, query, name).Scan(&fields)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helpers.ErrNotFound
	}
	if err != nil {
		return nil, helpers.NewPersistenceUnavailable("read dataset metadata", err)
	}
	return strings.Split(fields, ","), nil
}

// -----------------------------------------------------------------------------

func (g *sqlGateway) createBarsTable(ctx context.Context, tx *sql.Tx, table string, fields []string) error {
	var cols []string
	var keys []string
	for _, f := range fields {
		cols = append(cols, fmt.Sprintf("%s %s NOT NULL", quote(f), g.dialect.textType))
		keys = append(keys, quote(f))
	}
	keys = append(keys, quote("timestamp"))
	cols = append(cols,
		fmt.Sprintf(`%s %s NOT NULL`, quote("timestamp"), g.dialect.intType),
		fmt.Sprintf(`%s %s NOT NULL`, quote("price"), g.dialect.realType),
		fmt.Sprintf(`%s %s NOT NULL`, quote("weight"), g.dialect.realType),
		fmt.Sprintf(`%s %s NOT NULL`, quote("count"), g.dialect.intType),
	)

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s,\n\tPRIMARY KEY (%s)\n)",
		g.dialect.qualify(table), strings.Join(cols, ",\n\t"), strings.Join(keys, ", "))
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (g *sqlGateway) Load(ctx context.Context, id models.MDatasetID, fields []string) (*dataset.Dataset, error) {
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

	var selectCols []string
	for _, f := range stored {
		selectCols = append(selectCols, quote(f))
	}
	selectCols = append(selectCols, quote("timestamp"), quote("price"), quote("weight"), quote("count"))

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectCols, ", "), g.dialect.qualify(table))
	if len(filterCols) > 0 {
		var conds []string
		for i, c := range filterCols {
			conds = append(conds, fmt.Sprintf("%s = %s", quote(c), g.dialect.placeholder(i+1)))
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := g.DB.QueryContext(ctx, query, filterVals...)
	if err != nil {
		return nil, helpers.NewPersistenceUnavailable("load "+id.String(), err)
	}
	defer rows.Close()

	ds := dataset.New(stored)
	for rows.Next() {
		labels := make([]string, len(stored))
		var ts, count int64
		var price, weight float64
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

// Save upserts the rows of ds in one transaction. Other stored rows are kept.
func (g *sqlGateway) Save(ctx context.Context, id models.MDatasetID, ds *dataset.Dataset) error {
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
	case err != nil:
		return err
	case !slices.Equal(stored, ds.Fields):
		return helpers.NewMergeKeyConflict(fmt.Sprintf("dataset %s is stored with fields %v, not %v", id.Name, stored, ds.Fields))
	}

	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewPersistenceUnavailable("begin save "+id.String(), err)
	}
	defer tx.Rollback()

	if err := g.createBarsTable(ctx, tx, table, ds.Fields); err != nil {
		return helpers.NewPersistenceUnavailable("save "+id.String(), err)
	}

	var cols, marks, keys []string
	for i, f := range ds.Fields {
		cols = append(cols, quote(f))
		keys = append(keys, quote(f))
		marks = append(marks, g.dialect.placeholder(i+1))
	}
	n := len(ds.Fields)
	for i, c := range barColumns {
		cols = append(cols, quote(c))
		marks = append(marks, g.dialect.placeholder(n+i+1))
	}
	keys = append(keys, quote("timestamp"))

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (%s)
		ON CONFLICT (%s) DO UPDATE SET
			%s = excluded.%s,
			%s = excluded.%s,
			%s = excluded.%s`,
		g.dialect.qualify(table), strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(keys, ", "),
		quote("price"), quote("price"), quote("weight"), quote("weight"), quote("count"), quote("count"))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return helpers.NewPersistenceUnavailable("prepare save "+id.String(), err)
	}
	defer stmt.Close()

	for _, b := range ds.Rows() {
		args := make([]interface{}, 0, n+4)
		for _, f := range ds.Fields {
			args = append(args, b.Group[f])
		}
		args = append(args, b.Timestamp.UnixNano(), b.Price, b.Weight, int64(b.Count))
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return helpers.NewPersistenceUnavailable("save "+id.String(), err)
		}
	}

	meta := fmt.Sprintf(`
		INSERT INTO %s (name, fields, updated_at) VALUES (%s, %s, %s)
		ON CONFLICT (name) DO UPDATE SET updated_at = excluded.updated_at`,
		g.dialect.qualify(metaTable), g.dialect.placeholder(1), g.dialect.placeholder(2), g.dialect.placeholder(3))
	if _, err := tx.ExecContext(ctx, meta, id.Name, strings.Join(ds.Fields, ","), time.Now().UTC().Unix()); err != nil {
		return helpers.NewPersistenceUnavailable("save metadata "+id.String(), err)
	}

	if err := tx.Commit(); err != nil {
		return helpers.NewPersistenceUnavailable("commit "+id.String(), err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (g *sqlGateway) Datasets(ctx context.Context) ([]string, error) {
	rows, err := g.DB.QueryContext(ctx, fmt.Sprintf("SELECT name FROM %s ORDER BY name", g.dialect.qualify(metaTable)))
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

func (g *sqlGateway) Close() error {
	if g.DB == nil {
		return nil
	}
	return g.DB.Close()
}
