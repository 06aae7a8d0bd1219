package models

// MConfig Structure
type MConfig struct {
	Name      string           `yaml:"name" validate:"required"`
	Host      string           `yaml:"host" validate:"required"`
	Port      int              `yaml:"port" validate:"gt=1024,lte=65535"`
	LogLevel  string           `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string           `yaml:"log_format" validate:"omitempty,oneof=json console"`
	GrpcHost  string           `yaml:"grpc_host"`
	GrpcPort  int              `yaml:"grpc_port" validate:"omitempty,gt=1024,lte=65535"`
	Storage   MStorageConfig   `yaml:"storage"`
	Cache     MCacheConfig     `yaml:"cache"`
	Network   MNetworkConfig   `yaml:"network"`
	Queue     MQueueConfig     `yaml:"queue"`
	Ingest    MIngestConfig    `yaml:"ingest"`
	Datasets  []MDatasetConfig `yaml:"datasets" validate:"required,min=1,dive"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type" validate:"oneof=sqlite postgres clickhouse"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	ClickHouseAddr     string `yaml:"clickhouse_addr"`
	ClickHouseUser     string `yaml:"clickhouse_user"`
	ClickHousePassword string `yaml:"clickhouse_password"`
	ClickHouseDatabase string `yaml:"clickhouse_database"`
}

type MCacheConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Backend       string `yaml:"backend" validate:"omitempty,oneof=sqlite redis"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTL           string `yaml:"ttl"`
	MinAge        string `yaml:"min_age"`
}

type MNetworkConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Proxies        []string `yaml:"proxies"`
	RequestTimeout int      `yaml:"timeout" validate:"gt=0"`
	UserAgent      string   `yaml:"user_agent"`
}

type MQueueConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MIngestConfig struct {
	Concurrency int    `yaml:"concurrency" validate:"gte=0"`
	IdleDelay   string `yaml:"idle_delay"`
	PageTimeout string `yaml:"page_timeout"`
	MaxRetries  int    `yaml:"max_retries" validate:"gte=0"`
	FlushPages  int    `yaml:"flush_pages" validate:"gte=0"`
	Schedule    string `yaml:"schedule"`
	ReportsKept int    `yaml:"reports_kept" validate:"gte=0"`
}

// MDatasetConfig describes one persisted bar series and the source feeding it.
type MDatasetConfig struct {
	Name         string   `yaml:"name" validate:"required"`
	Source       string   `yaml:"source" validate:"required,oneof=kraken_trades binance_klines binance_funding okx_candles"`
	BaseURL      string   `yaml:"base_url" validate:"omitempty,url"`
	Assets       []string `yaml:"assets" validate:"required,min=1,dive,len=3,alpha"`
	Quote        string   `yaml:"quote"`
	Interval     string   `yaml:"interval"`
	GroupFields  []string `yaml:"group_fields" validate:"required,min=1"`
	Window       string   `yaml:"window" validate:"required"`
	Offset       string   `yaml:"offset"`
	DefaultStart string   `yaml:"default_start"`
	End          string   `yaml:"end"`
	Keep         string   `yaml:"keep" validate:"omitempty,oneof=first last"`
}
