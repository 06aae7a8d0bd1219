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

// FundingSource pages through the perpetual funding rate history. Every rate
// carries weight 1 so windows average the rates they contain.
type FundingSource struct {
	BaseURL string
	Asset   string
	Quote   string
	Network interfaces.INetworkManager
	Logger  *logger.Logger
}

type fundingRow struct {
	Symbol      string `json:"symbol"`
	FundingTime int64  `json:"fundingTime"`
	FundingRate string `json:"fundingRate"`
}

// -----------------------------------------------------------------------------

func NewFundingSource(baseURL, asset, quote string, netMgr interfaces.INetworkManager) *FundingSource {
	if baseURL == "" {
		baseURL = DefaultFuturesURL
	}
	if quote == "" {
		quote = "usdt"
	}
	return &FundingSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Asset:   strings.ToLower(asset),
		Quote:   strings.ToLower(quote),
		Network: netMgr,
		Logger:  logger.NewLogger(nil, "BinanceFunding-"+asset),
	}
}

// -----------------------------------------------------------------------------

func (s *FundingSource) Name() string {
	return "binance_funding:" + s.Asset + s.Quote
}

// -----------------------------------------------------------------------------

func (s *FundingSource) FetchPage(ctx context.Context, cursor time.Time) (models.MPage, error) {
	symbol := strings.ToUpper(s.Asset + s.Quote)
	params := map[string]string{
		"symbol":    symbol,
		"startTime": strconv.FormatInt(utils.TimeToEpoch(cursor, utils.Milliseconds), 10),
		"limit":     strconv.Itoa(pageLimit),
	}

	body, err := s.Network.Get(ctx, s.BaseURL+"/fapi/v1/fundingRate", params)
	if err != nil {
		return models.MPage{}, fmt.Errorf("binance funding %s: %w", symbol, err)
	}
	return s.ParsePage(body)
}

// -----------------------------------------------------------------------------

func (s *FundingSource) ParsePage(body []byte) (models.MPage, error) {
	var rows []fundingRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return models.MPage{}, helpers.NewMalformedPageError("binance funding: decode", err)
	}

	var page models.MPage
	for _, row := range rows {
		rate, err := utils.ParseDecimal(row.FundingRate)
		if err != nil {
			return models.MPage{}, helpers.NewMalformedPageError("binance funding: rate", err)
		}
		ts := utils.EpochToTime(row.FundingTime, utils.Milliseconds)
		page.Records = append(page.Records, models.MRawRecord{
			ID:        strconv.FormatInt(row.FundingTime, 10),
			Timestamp: ts,
			Price:     rate,
			Weight:    1,
			Labels:    map[string]string{"asset": s.Asset, "which": "rate"},
		})
		if ts.After(page.Next) {
			page.Next = ts.Add(time.Millisecond)
		}
	}
	return page, nil
}
