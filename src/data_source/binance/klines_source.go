package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tickfeed/src/helpers"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"
	"tickfeed/src/utils"
)

const (
	DefaultSpotURL    = "https://api.binance.com"
	DefaultFuturesURL = "https://fapi.binance.com"
	pageLimit         = 1000
)

// KlinesSource pages through spot klines of one symbol. Each kline becomes a
// record at its open time priced at the close and weighted by base volume.
type KlinesSource struct {
	BaseURL  string
	Asset    string
	Quote    string
	Interval string
	Network  interfaces.INetworkManager
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewKlinesSource(baseURL, asset, quote, interval string, netMgr interfaces.INetworkManager) *KlinesSource {
	if baseURL == "" {
		baseURL = DefaultSpotURL
	}
	if quote == "" {
		quote = "usdt"
	}
	if interval == "" {
		interval = "1m"
	}
	return &KlinesSource{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Asset:    strings.ToLower(asset),
		Quote:    strings.ToLower(quote),
		Interval: interval,
		Network:  netMgr,
		Logger:   logger.NewLogger(nil, "BinanceKlines-"+asset),
	}
}

// -----------------------------------------------------------------------------

func (s *KlinesSource) Name() string {
	return "binance_klines:" + s.Asset + s.Quote + ":" + s.Interval
}

// -----------------------------------------------------------------------------

func (s *KlinesSource) Symbol() string {
	return strings.ToUpper(s.Asset + s.Quote)
}

// -----------------------------------------------------------------------------

func (s *KlinesSource) FetchPage(ctx context.Context, cursor time.Time) (models.MPage, error) {
	params := map[string]string{
		"symbol":    s.Symbol(),
		"interval":  s.Interval,
		"startTime": strconv.FormatInt(utils.TimeToEpoch(cursor, utils.Milliseconds), 10),
		"limit":     strconv.Itoa(pageLimit),
	}

	body, err := s.Network.Get(ctx, s.BaseURL+"/api/v3/klines", params)
	if err != nil {
		return models.MPage{}, fmt.Errorf("binance klines %s: %w", s.Symbol(), err)
	}
	return s.ParsePage(body)
}

// -----------------------------------------------------------------------------

// ParsePage decodes rows of [openTime, open, high, low, close, volume, ...].
func (s *KlinesSource) ParsePage(body []byte) (models.MPage, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return models.MPage{}, helpers.NewMalformedPageError("binance klines: decode", err)
	}

	var page models.MPage
	for i, row := range rows {
		if len(row) < 6 {
			return models.MPage{}, helpers.NewMalformedPageError(
				fmt.Sprintf("binance klines: row %d has %d fields", i, len(row)), nil)
		}
		var openTime int64
		var closeStr, volStr string
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return models.MPage{}, helpers.NewMalformedPageError("binance klines: open time", err)
		}
		if err := json.Unmarshal(row[4], &closeStr); err != nil {
			return models.MPage{}, helpers.NewMalformedPageError("binance klines: close", err)
		}
		if err := json.Unmarshal(row[5], &volStr); err != nil {
			return models.MPage{}, helpers.NewMalformedPageError("binance klines: volume", err)
		}
		price, err := utils.ParseDecimal(closeStr)
		if err != nil {
			return models.MPage{}, helpers.NewMalformedPageError("binance klines: close", err)
		}
		volume, err := utils.ParseDecimal(volStr)
		if err != nil {
			return models.MPage{}, helpers.NewMalformedPageError("binance klines: volume", err)
		}

		ts := utils.EpochToTime(openTime, utils.Milliseconds)
		page.Records = append(page.Records, models.MRawRecord{
			ID:        strconv.FormatInt(openTime, 10),
			Timestamp: ts,
			Price:     price,
			Weight:    volume,
			Labels:    map[string]string{"asset": s.Asset, "which": "close"},
		})
		page.Next = ts.Add(time.Millisecond)
	}

	return page, nil
}
