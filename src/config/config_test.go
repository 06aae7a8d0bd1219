package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickfeed/src/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const baseYAML = `
name: tickfeed-test
datasets:
  - name: trades
    source: kraken_trades
    assets: [BTC, eth]
    group_fields: [asset, side]
    window: 10m
`

type ConfigSuite struct {
	suite.Suite
	dir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *ConfigSuite) write(body string) string {
	path := filepath.Join(s.dir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(body), 0644))
	return path
}

// -----------------------------------------------------------------------------

func (s *ConfigSuite) TestDefaults() {
	cfg, err := NewConfig(s.write(baseYAML))
	s.Require().NoError(err)

	s.Equal("127.0.0.1", cfg.Host)
	s.Equal(8090, cfg.Port)
	s.Equal("sqlite", cfg.Storage.DBType)
	s.Equal("data/tickfeed.db", cfg.Storage.DBPath)
	s.Equal("tickfeed.bars", cfg.Queue.Topic)
	s.Equal([]string{"btc", "eth"}, cfg.Datasets[0].Assets)

	ingest, err := cfg.IngestSettings()
	s.Require().NoError(err)
	s.Equal(4, ingest.Concurrency)
	s.Equal(2*time.Second, ingest.IdleDelay)
	s.Equal(30*time.Second, ingest.PageTimeout)
	s.Equal(5, ingest.MaxRetries)
	s.Equal(1000, ingest.FlushPages)

	spec, err := cfg.DatasetSettings("trades")
	s.Require().NoError(err)
	s.Equal(10*time.Minute, spec.Window.Width)
	s.Equal(5*time.Minute, spec.Window.Offset)
	s.Equal(dataset.KeepLast, spec.Keep)
	s.Equal(time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), spec.DefaultStart)
	s.True(spec.End.IsZero())
}

func (s *ConfigSuite) TestExplicitDatasetSettings() {
	cfg, err := NewConfig(s.write(`
name: tickfeed-test
datasets:
  - name: funding
    source: binance_funding
    assets: [btc]
    group_fields: [asset]
    window: 1d
    offset: 0s
    default_start: 2021-01-01
    end: 2021-02-01T00:00:00Z
    keep: first
`))
	s.Require().NoError(err)

	spec, err := cfg.DatasetSettings("funding")
	s.Require().NoError(err)
	s.Equal(24*time.Hour, spec.Window.Width)
	s.Zero(spec.Window.Offset)
	s.Equal(dataset.KeepFirst, spec.Keep)
	s.Equal(time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC), spec.End)
}

func (s *ConfigSuite) TestEnvOverrides() {
	s.T().Setenv("TICKFEED_PORT", "9100")
	s.T().Setenv("TICKFEED_LOG_LEVEL", "debug")
	s.T().Setenv("TICKFEED_DB_TYPE", "postgres")
	s.T().Setenv("TICKFEED_DB_CONNECTION_STRING", "postgres://localhost/tickfeed")
	s.T().Setenv("TICKFEED_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := NewConfig(s.write(baseYAML))
	s.Require().NoError(err)
	s.Equal(9100, cfg.Port)
	s.Equal("debug", cfg.LogLevel)
	s.Equal("postgres", cfg.Storage.DBType)
	s.True(cfg.Queue.Enabled)
	s.Equal([]string{"k1:9092", "k2:9092"}, cfg.Queue.Brokers)
}

func (s *ConfigSuite) TestValidationErrors() {
	cases := map[string]string{
		"unknown source": `
name: x
datasets:
  - {name: trades, source: bitmex, assets: [btc], group_fields: [asset], window: 10m}`,
		"bad name": `
name: x
datasets:
  - {name: Trades, source: kraken_trades, assets: [btc], group_fields: [asset], window: 10m}`,
		"duplicate": `
name: x
datasets:
  - {name: trades, source: kraken_trades, assets: [btc], group_fields: [asset], window: 10m}
  - {name: trades, source: kraken_trades, assets: [eth], group_fields: [asset], window: 10m}`,
		"bad window": `
name: x
datasets:
  - {name: trades, source: kraken_trades, assets: [btc], group_fields: [asset], window: soon}`,
		"offset too large": `
name: x
datasets:
  - {name: trades, source: kraken_trades, assets: [btc], group_fields: [asset], window: 10m, offset: 10m}`,
		"end before start": `
name: x
datasets:
  - {name: trades, source: kraken_trades, assets: [btc], group_fields: [asset], window: 10m, default_start: 2021-01-02, end: 2021-01-01}`,
		"postgres without dsn": `
name: x
storage: {db_type: postgres}
datasets:
  - {name: trades, source: kraken_trades, assets: [btc], group_fields: [asset], window: 10m}`,
		"assets sharing a partition": `
name: x
datasets:
  - {name: trades, source: kraken_trades, assets: [btc, eth], group_fields: [side], window: 10m}`,
		"no datasets": `
name: x
`,
	}
	for name, body := range cases {
		_, err := NewConfig(s.write(body))
		s.Error(err, name)
	}
}

func (s *ConfigSuite) TestMissingFile() {
	_, err := NewConfig(filepath.Join(s.dir, "absent.yaml"))
	s.ErrorContains(err, "failed to read config file")
}

func (s *ConfigSuite) TestSaveReloads() {
	cfg, err := NewConfig(s.write(baseYAML))
	s.Require().NoError(err)
	cfg.Ingest.Schedule = "0 */5 * * * *"

	out := filepath.Join(s.dir, "saved.yaml")
	s.Require().NoError(cfg.Save(out))

	again, err := NewConfig(out)
	s.Require().NoError(err)
	s.Equal("0 */5 * * * *", again.Ingest.Schedule)
	s.Equal(cfg.Datasets[0].Window, again.Datasets[0].Window)
}

// -----------------------------------------------------------------------------

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"":    0,
		"90s": 90 * time.Second,
		"10m": 10 * time.Minute,
		"1d":  24 * time.Hour,
		"2w":  14 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDuration("xd")
	assert.Error(t, err)
}

func TestParseInstant(t *testing.T) {
	want := time.Date(2021, 1, 1, 0, 10, 0, 0, time.UTC)
	for _, in := range []string{"2021-01-01T00:10:00Z", "2021-01-01T02:10:00+02:00", "2021-01-01T00:10"} {
		got, err := ParseInstant(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(want), in)
		assert.Equal(t, time.UTC, got.Location())
	}

	day, err := ParseInstant("2021-01-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), day)

	_, err = ParseInstant("yesterday")
	assert.Error(t, err)
}
