package main

import (
	"context"
	"fmt"

	"tickfeed/src/cache"
	"tickfeed/src/config"
	datasource "tickfeed/src/data_source"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"
	"tickfeed/src/network"
	"tickfeed/src/storage"
)

// -----------------------------------------------------------------------------

// setupStorage opens the gateway selected by storage.db_type
func setupStorage(cfg *models.MConfig, appLogger *logger.Logger) (interfaces.IGateway, error) {
	gw, err := storage.NewGateway(cfg, logger.NewLogger(cfg, "Storage"))
	if err != nil {
		appLogger.Critical("Failed to init storage: %v", err)
		return nil, err
	}
	return gw, nil
}

// -----------------------------------------------------------------------------

// setupNetwork initializes the network manager
func setupNetwork(cfg *models.MConfig) interfaces.INetworkManager {
	return network.NewAsyncNetworkManager(cfg, logger.NewLogger(cfg, "NetworkManager"))
}

// -----------------------------------------------------------------------------

// setupCache opens the page cache, or returns nil when caching is off.
func setupCache(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) (interfaces.IPageCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	switch cfg.Cache.Backend {
	case "redis":
		appLogger.Info("Using redis page cache at %s", cfg.Cache.RedisAddr)
		return cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	default:
		appLogger.Info("Using sqlite page cache at %s", cfg.Cache.Path)
		c, err := cache.NewSQLiteCache(cfg.Cache.Path, logger.NewLogger(cfg.MConfig, "PageCache"))
		if err != nil {
			return nil, err
		}
		if n, err := c.Purge(ctx); err != nil {
			appLogger.Warning("Page cache purge failed: %v", err)
		} else if n > 0 {
			appLogger.Info("Purged %d expired cached pages", n)
		}
		return c, nil
	}
}

// -----------------------------------------------------------------------------

// setupSources builds one source per (dataset, asset), wrapped by the page
// cache when one is open.
func setupSources(cfg *config.Config, netMgr interfaces.INetworkManager, pageCache interfaces.IPageCache, appLogger *logger.Logger) (*datasource.SourceRegistry, error) {
	var wrap func(interfaces.ISource) interfaces.ISource
	if pageCache != nil {
		minAge, err := config.ParseDuration(cfg.Cache.MinAge)
		if err != nil {
			return nil, fmt.Errorf("cache.min_age: %w", err)
		}
		ttl, err := config.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("cache.ttl: %w", err)
		}
		cacheLogger := logger.NewLogger(cfg.MConfig, "CachedSource")
		wrap = func(src interfaces.ISource) interfaces.ISource {
			return datasource.NewCachedSource(src, pageCache, minAge, ttl, cacheLogger)
		}
	}

	registry := datasource.NewSourceRegistry(netMgr, wrap, logger.NewLogger(cfg.MConfig, "Sources"))
	for _, ds := range cfg.Datasets {
		if err := registry.Build(ds); err != nil {
			return nil, err
		}
		appLogger.Info("Dataset %s: %s source for %d assets", ds.Name, ds.Source, len(ds.Assets))
	}
	return registry, nil
}
