package storage

import (
	"fmt"

	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"
)

var (
	_ interfaces.IGateway = (*SQLiteGateway)(nil)
	_ interfaces.IGateway = (*PostgresGateway)(nil)
	_ interfaces.IGateway = (*ClickHouseGateway)(nil)
)

// NewGateway opens the backend selected by storage.db_type.
func NewGateway(cfg *models.MConfig, log *logger.Logger) (interfaces.IGateway, error) {
	switch cfg.Storage.DBType {
	case "", "sqlite":
		return NewSQLiteGateway(cfg, log)
	case "postgres":
		return NewPostgresGateway(cfg, log)
	case "clickhouse":
		return NewClickHouseGateway(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported db_type '%s'", cfg.Storage.DBType)
	}
}
