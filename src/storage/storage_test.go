package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickfeed/src/dataset"
	"tickfeed/src/helpers"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2021, 1, 1, 0, 10, 0, 0, time.UTC)

func sampleDataset() *dataset.Dataset {
	fields := []string{"asset", "side"}
	ds := dataset.New(fields)
	for i, asset := range []string{"btc", "eth"} {
		for j := 0; j < 3; j++ {
			ds.Put(models.MBar{
				Timestamp: t0.Add(time.Duration(j) * 10 * time.Minute),
				Group:     models.Labels{"asset": asset, "side": "bid"},
				Price:     100*float64(i+1) + float64(j) + 0.25,
				Weight:    1.5,
				Count:     j + 1,
			})
		}
	}
	return ds
}

func openSQLite(t *testing.T) *SQLiteGateway {
	cfg := &models.MConfig{Storage: models.MStorageConfig{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "db", "bars.db")}}
	g, err := NewSQLiteGateway(cfg, logger.NewLogger(nil, "storage-test"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

// exerciseGateway runs the same contract against any backend.
func exerciseGateway(t *testing.T, g interfaces.IGateway) {
	ctx := context.Background()
	id := models.MDatasetID{Name: "trades_test"}

	_, err := g.Load(ctx, id, nil)
	require.ErrorIs(t, err, helpers.ErrNotFound)

	ds := sampleDataset()
	require.NoError(t, g.Save(ctx, id, ds))

	loaded, err := g.Load(ctx, id, ds.Fields)
	require.NoError(t, err)
	assert.Equal(t, ds.Rows(), loaded.Rows())

	btc, err := g.Load(ctx, models.MDatasetID{Name: id.Name, Partition: map[string]string{"asset": "btc"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, btc.Len())
	assert.Equal(t, []string{"asset=btc|side=bid"}, btc.Groups())

	// re-saving replaces values in place
	bar := ds.Rows()[0]
	bar.Price = 42
	ds.Put(bar)
	require.NoError(t, g.Save(ctx, id, ds))
	again, err := g.Load(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, again.Len())
	assert.Equal(t, 42.0, again.Rows()[0].Price)

	// saving a subset keeps the other stored rows
	bar.Price = 43
	require.NoError(t, g.Save(ctx, id, dataset.FromBars(ds.Fields, []models.MBar{bar})))
	partial, err := g.Load(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, partial.Len())
	assert.Equal(t, 43.0, partial.Rows()[0].Price)

	_, err = g.Load(ctx, id, []string{"asset"})
	var conflict *helpers.MergeKeyConflict
	assert.ErrorAs(t, err, &conflict)

	_, err = g.Load(ctx, models.MDatasetID{Name: id.Name, Partition: map[string]string{"venue": "x"}}, nil)
	assert.Error(t, err)

	names, err := g.Datasets(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, id.Name)
}

func TestSQLiteGateway(t *testing.T) {
	exerciseGateway(t, openSQLite(t))
}

func TestSQLiteGatewayRejectsFieldChange(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)
	id := models.MDatasetID{Name: "funding"}
	require.NoError(t, g.Save(ctx, id, sampleDataset()))

	err := g.Save(ctx, id, dataset.New([]string{"asset"}))
	var conflict *helpers.MergeKeyConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestSQLiteGatewaySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bars.db")
	cfg := &models.MConfig{Storage: models.MStorageConfig{DBType: "sqlite", DBPath: path}}
	log := logger.NewLogger(nil, "storage-test")

	g, err := NewSQLiteGateway(cfg, log)
	require.NoError(t, err)
	require.NoError(t, g.Save(ctx, models.MDatasetID{Name: "klines"}, sampleDataset()))
	require.NoError(t, g.Close())

	g, err = NewSQLiteGateway(cfg, log)
	require.NoError(t, err)
	defer g.Close()
	ds, err := g.Load(ctx, models.MDatasetID{Name: "klines"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, ds.Len())
}

func TestTableNameAndFields(t *testing.T) {
	name, err := TableName("kraken_trades")
	require.NoError(t, err)
	assert.Equal(t, "bars_kraken_trades", name)

	_, err = TableName("drop table;")
	assert.Error(t, err)

	assert.NoError(t, checkFields([]string{"asset", "side"}))
	assert.Error(t, checkFields(nil))
	assert.Error(t, checkFields([]string{"price"}))
	assert.Error(t, checkFields([]string{"asset", "asset"}))
	assert.Error(t, checkFields([]string{"Asset"}))
}

func TestNewGatewayRejectsUnknownBackend(t *testing.T) {
	_, err := NewGateway(&models.MConfig{Storage: models.MStorageConfig{DBType: "mongo"}}, logger.NewLogger(nil, "storage-test"))
	assert.Error(t, err)
}

func TestPostgresGateway(t *testing.T) {
	dsn := os.Getenv("TICKFEED_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TICKFEED_TEST_POSTGRES_DSN not set")
	}
	cfg := &models.MConfig{Name: "tickfeed_test", Storage: models.MStorageConfig{DBType: "postgres", DBConnectionString: dsn}}
	g, err := NewPostgresGateway(cfg, logger.NewLogger(nil, "storage-test"))
	require.NoError(t, err)
	defer g.Close()
	_, err = g.DB.Exec(`DROP SCHEMA IF EXISTS "tickfeed_test" CASCADE`)
	require.NoError(t, err)
	require.NoError(t, g.Initialize(context.Background()))

	exerciseGateway(t, g)
}

func TestClickHouseGateway(t *testing.T) {
	addr := os.Getenv("TICKFEED_TEST_CLICKHOUSE_ADDR")
	if addr == "" {
		t.Skip("TICKFEED_TEST_CLICKHOUSE_ADDR not set")
	}
	cfg := &models.MConfig{Storage: models.MStorageConfig{DBType: "clickhouse", ClickHouseAddr: addr, ClickHouseUser: "default"}}
	g, err := NewClickHouseGateway(cfg, logger.NewLogger(nil, "storage-test"))
	require.NoError(t, err)
	defer g.Close()
	ctx := context.Background()
	require.NoError(t, g.conn.Exec(ctx, "DROP TABLE IF EXISTS bars_trades_test"))
	require.NoError(t, g.conn.Exec(ctx, "ALTER TABLE "+metaTable+" DELETE WHERE name = 'trades_test'"))

	exerciseGateway(t, g)
}
