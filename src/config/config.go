package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"tickfeed/src/analysis"
	"tickfeed/src/dataset"
	"tickfeed/src/helpers"
	"tickfeed/src/models"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TICKFEED_"

var datasetNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// DatasetSpec is the parsed form of a dataset entry.
type DatasetSpec struct {
	models.MDatasetConfig
	Window       analysis.Window
	DefaultStart time.Time
	End          time.Time // zero means "now" at cycle start
	Keep         dataset.KeepPolicy
}

// IngestSpec is the parsed form of the ingest section.
type IngestSpec struct {
	Concurrency int
	IdleDelay   time.Duration
	PageTimeout time.Duration
	MaxRetries  int
	FlushPages  int
	Schedule    string
	ReportsKept int
}

// -----------------------------------------------------------------------------

// NewConfig reads the YAML file, applies .env and environment overrides,
// fills defaults and validates the result.
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}

	// 3. Overrides and defaults. A missing .env file is fine.
	_ = godotenv.Load()
	config.applyEnv()
	config.applyDefaults()

	// 4. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, helpers.NewConfigurationError("config validation failed", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyEnv() {
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv(envPrefix + "DB_TYPE"); v != "" {
		c.Storage.DBType = v
	}
	if v := os.Getenv(envPrefix + "DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv(envPrefix + "DB_CONNECTION_STRING"); v != "" {
		c.Storage.DBConnectionString = v
	}
	if v := os.Getenv(envPrefix + "CLICKHOUSE_ADDR"); v != "" {
		c.Storage.ClickHouseAddr = v
	}
	if v := os.Getenv(envPrefix + "CLICKHOUSE_PASSWORD"); v != "" {
		c.Storage.ClickHousePassword = v
	}
	if v := os.Getenv(envPrefix + "REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv(envPrefix + "REDIS_PASSWORD"); v != "" {
		c.Cache.RedisPassword = v
	}
	if v := os.Getenv(envPrefix + "KAFKA_BROKERS"); v != "" {
		c.Queue.Brokers = strings.Split(v, ",")
		c.Queue.Enabled = true
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" && len(c.Network.Proxies) == 0 {
		c.Network.Proxies = []string{v}
		c.Network.Enabled = true
	}
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8090
	}
	if c.Storage.DBType == "" {
		c.Storage.DBType = "sqlite"
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		c.Storage.DBPath = "data/tickfeed.db"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "sqlite"
	}
	if c.Cache.Backend == "sqlite" && c.Cache.Path == "" {
		c.Cache.Path = "data/page_cache.db"
	}
	if c.Cache.MinAge == "" {
		c.Cache.MinAge = "24h"
	}
	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 30
	}
	if c.Queue.Topic == "" {
		c.Queue.Topic = "tickfeed.bars"
	}
	if c.Ingest.Concurrency == 0 {
		c.Ingest.Concurrency = 4
	}
	if c.Ingest.IdleDelay == "" {
		c.Ingest.IdleDelay = "2s"
	}
	if c.Ingest.PageTimeout == "" {
		c.Ingest.PageTimeout = "30s"
	}
	if c.Ingest.MaxRetries == 0 {
		c.Ingest.MaxRetries = 5
	}
	if c.Ingest.FlushPages == 0 {
		c.Ingest.FlushPages = 1000
	}
	if c.Ingest.ReportsKept == 0 {
		c.Ingest.ReportsKept = 256
	}
	for i := range c.Datasets {
		ds := &c.Datasets[i]
		if ds.Keep == "" {
			ds.Keep = string(dataset.KeepLast)
		}
		if ds.DefaultStart == "" {
			ds.DefaultStart = "2017-01-01"
		}
		for j, a := range ds.Assets {
			ds.Assets[j] = strings.ToLower(a)
		}
	}
}

// -----------------------------------------------------------------------------

// Validate runs the struct tag rules and the checks tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c.MConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty for sqlite")
	}
	if c.Storage.DBType == "postgres" && c.Storage.DBConnectionString == "" {
		return fmt.Errorf("db_connection_string is required for postgres")
	}
	if c.Storage.DBType == "clickhouse" && c.Storage.ClickHouseAddr == "" {
		return fmt.Errorf("clickhouse_addr is required for clickhouse")
	}
	if c.Cache.Enabled && c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for the redis cache")
	}
	if c.Queue.Enabled && len(c.Queue.Brokers) == 0 {
		return fmt.Errorf("queue enabled without brokers")
	}
	if _, err := c.IngestSettings(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, ds := range c.Datasets {
		if !datasetNameRe.MatchString(ds.Name) {
			return fmt.Errorf("dataset name '%s' must match %s", ds.Name, datasetNameRe.String())
		}
		if seen[ds.Name] {
			return fmt.Errorf("dataset '%s' is configured twice", ds.Name)
		}
		seen[ds.Name] = true
		if _, err := c.DatasetSettings(ds.Name); err != nil {
			return err
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// IngestSettings parses the ingest section.
func (c *Config) IngestSettings() (IngestSpec, error) {
	idle, err := ParseDuration(c.Ingest.IdleDelay)
	if err != nil {
		return IngestSpec{}, fmt.Errorf("ingest.idle_delay: %w", err)
	}
	timeout, err := ParseDuration(c.Ingest.PageTimeout)
	if err != nil {
		return IngestSpec{}, fmt.Errorf("ingest.page_timeout: %w", err)
	}
	return IngestSpec{
		Concurrency: c.Ingest.Concurrency,
		IdleDelay:   idle,
		PageTimeout: timeout,
		MaxRetries:  c.Ingest.MaxRetries,
		FlushPages:  c.Ingest.FlushPages,
		Schedule:    c.Ingest.Schedule,
		ReportsKept: c.Ingest.ReportsKept,
	}, nil
}

// -----------------------------------------------------------------------------

// DatasetSettings parses the named dataset entry.
func (c *Config) DatasetSettings(name string) (DatasetSpec, error) {
	for _, ds := range c.Datasets {
		if ds.Name != name {
			continue
		}
		if len(ds.Assets) > 1 && !slices.Contains(ds.GroupFields, "asset") {
			return DatasetSpec{}, fmt.Errorf("dataset '%s': %d assets need 'asset' in group_fields", name, len(ds.Assets))
		}
		width, err := ParseDuration(ds.Window)
		if err != nil || width <= 0 {
			return DatasetSpec{}, fmt.Errorf("dataset '%s': invalid window '%s'", name, ds.Window)
		}
		offset := width / 2
		if ds.Offset != "" {
			if offset, err = ParseDuration(ds.Offset); err != nil {
				return DatasetSpec{}, fmt.Errorf("dataset '%s': invalid offset: %w", name, err)
			}
		}
		window, err := analysis.NewWindow(width, offset)
		if err != nil {
			return DatasetSpec{}, fmt.Errorf("dataset '%s': %w", name, err)
		}
		start, err := ParseInstant(ds.DefaultStart)
		if err != nil {
			return DatasetSpec{}, fmt.Errorf("dataset '%s': invalid default_start: %w", name, err)
		}
		var end time.Time
		if ds.End != "" {
			if end, err = ParseInstant(ds.End); err != nil {
				return DatasetSpec{}, fmt.Errorf("dataset '%s': invalid end: %w", name, err)
			}
			if !end.After(start) {
				return DatasetSpec{}, fmt.Errorf("dataset '%s': end must be after default_start", name)
			}
		}
		keep, err := dataset.ParseKeepPolicy(ds.Keep)
		if err != nil {
			return DatasetSpec{}, fmt.Errorf("dataset '%s': %w", name, err)
		}
		return DatasetSpec{
			MDatasetConfig: ds,
			Window:         window,
			DefaultStart:   start,
			End:            end,
			Keep:           keep,
		}, nil
	}
	return DatasetSpec{}, fmt.Errorf("dataset '%s' is not configured", name)
}

// -----------------------------------------------------------------------------

// ParseDuration accepts time.ParseDuration syntax plus "d" and "w" suffixes.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
		if n, ok := strings.CutSuffix(s, suffix); ok {
			v, err := strconv.Atoi(n)
			if err != nil {
				return 0, fmt.Errorf("invalid duration '%s'", s)
			}
			return time.Duration(v) * unit, nil
		}
	}
	return time.ParseDuration(s)
}

// -----------------------------------------------------------------------------

// ParseInstant accepts RFC 3339 timestamps or plain dates, always in UTC.
func ParseInstant(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse instant '%s'", s)
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
