package datasource

import (
	"fmt"
	"sync"

	"tickfeed/src/data_source/binance"
	"tickfeed/src/data_source/kraken"
	"tickfeed/src/data_source/okx"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"
)

// SourceRegistry builds and holds one ISource per (dataset, asset).
type SourceRegistry struct {
	Sources map[string]interfaces.ISource
	Network interfaces.INetworkManager
	Logger  *logger.Logger
	wrap    func(interfaces.ISource) interfaces.ISource
	mu      sync.RWMutex
}

// -----------------------------------------------------------------------------

// NewSourceRegistry creates an empty registry. wrap, when set, decorates every
// built source (e.g. with a page cache).
func NewSourceRegistry(netMgr interfaces.INetworkManager, wrap func(interfaces.ISource) interfaces.ISource, log *logger.Logger) *SourceRegistry {
	return &SourceRegistry{
		Sources: make(map[string]interfaces.ISource),
		Network: netMgr,
		Logger:  log,
		wrap:    wrap,
	}
}

// -----------------------------------------------------------------------------

func registryKey(dataset, asset string) string {
	return dataset + "/" + asset
}

// -----------------------------------------------------------------------------

// Build creates the sources of every asset of ds.
func (r *SourceRegistry) Build(ds models.MDatasetConfig) error {
	for _, asset := range ds.Assets {
		src, err := NewSource(ds, asset, r.Network)
		if err != nil {
			return err
		}
		r.Add(ds.Name, asset, src)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Add registers src, replacing any previous source for (dataset, asset).
func (r *SourceRegistry) Add(dataset, asset string, src interfaces.ISource) {
	if r.wrap != nil {
		src = r.wrap(src)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sources[registryKey(dataset, asset)] = src
	r.Logger.Info("Added source: %s for dataset %s", src.Name(), dataset)
}

// -----------------------------------------------------------------------------

func (r *SourceRegistry) Get(dataset, asset string) (interfaces.ISource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.Sources[registryKey(dataset, asset)]
	if !ok {
		return nil, fmt.Errorf("no source registered for %s/%s", dataset, asset)
	}
	return src, nil
}

// -----------------------------------------------------------------------------

// NewSource builds the source named by ds.Source for one asset.
func NewSource(ds models.MDatasetConfig, asset string, netMgr interfaces.INetworkManager) (interfaces.ISource, error) {
	switch ds.Source {
	case "kraken_trades":
		return kraken.NewTradesSource(ds.BaseURL, asset, ds.Quote, netMgr), nil
	case "binance_klines":
		return binance.NewKlinesSource(ds.BaseURL, asset, ds.Quote, ds.Interval, netMgr), nil
	case "binance_funding":
		return binance.NewFundingSource(ds.BaseURL, asset, ds.Quote, netMgr), nil
	case "okx_candles":
		src, err := okx.NewCandlesSource(ds.BaseURL, asset, ds.Quote, ds.Interval, netMgr)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, fmt.Errorf("unknown source type '%s' for dataset %s", ds.Source, ds.Name)
}
