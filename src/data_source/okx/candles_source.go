package okx

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
	DefaultBaseURL = "https://www.okx.com"
	pageLimit      = 100
)

var barSizes = map[string]time.Duration{
	"1m": time.Minute, "3m": 3 * time.Minute, "5m": 5 * time.Minute,
	"15m": 15 * time.Minute, "30m": 30 * time.Minute,
	"1H": time.Hour, "2H": 2 * time.Hour, "4H": 4 * time.Hour,
	"6H": 6 * time.Hour, "12H": 12 * time.Hour, "1D": 24 * time.Hour,
}

// CandlesSource walks the history-candles endpoint of a perpetual swap
// forward in time. The endpoint pages backwards, so each request brackets one
// page worth of bars after the cursor with before/after.
type CandlesSource struct {
	BaseURL string
	Asset   string
	Quote   string
	Bar     string
	Network interfaces.INetworkManager
	Logger  *logger.Logger
	Now     func() time.Time

	barSize time.Duration
}

type candlesResponse struct {
	Code string              `json:"code"`
	Msg  string              `json:"msg"`
	Data [][]json.RawMessage `json:"data"`
}

// -----------------------------------------------------------------------------

func NewCandlesSource(baseURL, asset, quote, bar string, netMgr interfaces.INetworkManager) (*CandlesSource, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if quote == "" {
		quote = "usd"
	}
	if bar == "" {
		bar = "1H"
	}
	size, ok := barSizes[bar]
	if !ok {
		return nil, fmt.Errorf("okx: unsupported bar '%s'", bar)
	}
	return &CandlesSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Asset:   strings.ToLower(asset),
		Quote:   strings.ToLower(quote),
		Bar:     bar,
		Network: netMgr,
		Logger:  logger.NewLogger(nil, "OkxCandles-"+asset),
		Now:     time.Now,
		barSize: size,
	}, nil
}

// -----------------------------------------------------------------------------

func (s *CandlesSource) Name() string {
	return "okx_candles:" + s.InstID() + ":" + s.Bar
}

// -----------------------------------------------------------------------------

// InstID is the instrument code, e.g. "BTC-USD-SWAP".
func (s *CandlesSource) InstID() string {
	return strings.ToUpper(s.Asset) + "-" + strings.ToUpper(s.Quote) + "-SWAP"
}

// -----------------------------------------------------------------------------

// FetchPage returns the candles with cursor <= ts < cursor+limit*bar. When the
// bracket is empty but lies entirely in the past, Next skips over it.
func (s *CandlesSource) FetchPage(ctx context.Context, cursor time.Time) (models.MPage, error) {
	upper := cursor.Add(time.Duration(pageLimit) * s.barSize)
	params := map[string]string{
		"instId": s.InstID(),
		"bar":    s.Bar,
		"before": strconv.FormatInt(utils.TimeToEpoch(cursor, utils.Milliseconds)-1, 10),
		"after":  strconv.FormatInt(utils.TimeToEpoch(upper, utils.Milliseconds), 10),
		"limit":  strconv.Itoa(pageLimit),
	}

	body, err := s.Network.Get(ctx, s.BaseURL+"/api/v5/market/history-candles", params)
	if err != nil {
		return models.MPage{}, fmt.Errorf("okx candles %s: %w", s.InstID(), err)
	}

	page, err := s.ParsePage(body)
	if err != nil {
		return page, err
	}
	if len(page.Records) == 0 && upper.Before(s.Now()) {
		page.Next = upper
	}
	return page, nil
}

// -----------------------------------------------------------------------------

// ParsePage decodes rows of [ts, o, h, l, c, vol, ...], newest first.
func (s *CandlesSource) ParsePage(body []byte) (models.MPage, error) {
	var resp candlesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.MPage{}, helpers.NewMalformedPageError("okx candles: decode", err)
	}
	if resp.Code != "" && resp.Code != "0" {
		if resp.Code == "50011" {
			return models.MPage{}, helpers.NewTransientFetchError("okx: "+resp.Msg, nil)
		}
		return models.MPage{}, fmt.Errorf("okx error %s: %s", resp.Code, resp.Msg)
	}

	var page models.MPage
	for i := len(resp.Data) - 1; i >= 0; i-- {
		row := resp.Data[i]
		if len(row) < 6 {
			return models.MPage{}, helpers.NewMalformedPageError(fmt.Sprintf("okx candles: row has %d fields", len(row)), nil)
		}
		var tsStr, closeStr, volStr string
		for idx, dst := range map[int]*string{0: &tsStr, 4: &closeStr, 5: &volStr} {
			if err := json.Unmarshal(row[idx], dst); err != nil {
				return models.MPage{}, helpers.NewMalformedPageError("okx candles: field", err)
			}
		}
		ms, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return models.MPage{}, helpers.NewMalformedPageError("okx candles: ts", err)
		}
		price, err := utils.ParseDecimal(closeStr)
		if err != nil {
			return models.MPage{}, helpers.NewMalformedPageError("okx candles: close", err)
		}
		vol, err := utils.ParseDecimal(volStr)
		if err != nil {
			return models.MPage{}, helpers.NewMalformedPageError("okx candles: vol", err)
		}

		ts := utils.EpochToTime(ms, utils.Milliseconds)
		page.Records = append(page.Records, models.MRawRecord{
			ID:        tsStr,
			Timestamp: ts,
			Price:     price,
			Weight:    vol,
			Labels:    map[string]string{"asset": s.Asset, "which": "close"},
		})
		if !ts.Before(page.Next) {
			page.Next = ts.Add(time.Millisecond)
		}
	}
	return page, nil
}
