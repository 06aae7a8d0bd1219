package kraken

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

const DefaultBaseURL = "https://api.kraken.com"

// TradesSource pages through the public Trades endpoint of one pair.
type TradesSource struct {
	BaseURL string
	Asset   string
	Quote   string
	Network interfaces.INetworkManager
	Logger  *logger.Logger
}

// -----------------------------------------------------------------------------

func NewTradesSource(baseURL, asset, quote string, netMgr interfaces.INetworkManager) *TradesSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if quote == "" {
		quote = "usd"
	}
	return &TradesSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Asset:   strings.ToLower(asset),
		Quote:   strings.ToLower(quote),
		Network: netMgr,
		Logger:  logger.NewLogger(nil, "KrakenTrades-"+asset),
	}
}

// -----------------------------------------------------------------------------

func (s *TradesSource) Name() string {
	return "kraken_trades:" + s.Asset + s.Quote
}

// -----------------------------------------------------------------------------

// Pair is the pair code sent upstream, e.g. "BTCUSD".
func (s *TradesSource) Pair() string {
	return strings.ToUpper(s.Asset + s.Quote)
}

// -----------------------------------------------------------------------------

type tradesResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// -----------------------------------------------------------------------------

// FetchPage requests trades since cursor. The upstream cursor is in
// nanoseconds and comes back in result.last.
func (s *TradesSource) FetchPage(ctx context.Context, cursor time.Time) (models.MPage, error) {
	params := map[string]string{
		"pair":  s.Pair(),
		"since": strconv.FormatInt(cursor.UnixNano(), 10),
	}

	body, err := s.Network.Get(ctx, s.BaseURL+"/0/public/Trades", params)
	if err != nil {
		return models.MPage{}, fmt.Errorf("kraken trades %s: %w", s.Pair(), err)
	}
	return s.ParsePage(body)
}

// -----------------------------------------------------------------------------

// ParsePage decodes a Trades response body.
func (s *TradesSource) ParsePage(body []byte) (models.MPage, error) {
	var resp tradesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.MPage{}, helpers.NewMalformedPageError("kraken trades: decode", err)
	}
	if len(resp.Error) > 0 {
		msg := strings.Join(resp.Error, "; ")
		if strings.Contains(msg, "Rate limit") || strings.HasPrefix(msg, "EService") {
			return models.MPage{}, helpers.NewTransientFetchError("kraken: "+msg, nil)
		}
		return models.MPage{}, fmt.Errorf("kraken: %s", msg)
	}

	var page models.MPage
	for key, raw := range resp.Result {
		if key == "last" {
			next, err := parseLast(raw)
			if err != nil {
				return models.MPage{}, helpers.NewMalformedPageError("kraken trades: last", err)
			}
			page.Next = next
			continue
		}

		var trades [][]json.RawMessage
		if err := json.Unmarshal(raw, &trades); err != nil {
			return models.MPage{}, helpers.NewMalformedPageError("kraken trades: rows", err)
		}
		for i, t := range trades {
			rec, err := s.parseTrade(t)
			if err != nil {
				return models.MPage{}, helpers.NewMalformedPageError(fmt.Sprintf("kraken trades: row %d", i), err)
			}
			page.Records = append(page.Records, rec)
		}
	}

	return page, nil
}

// -----------------------------------------------------------------------------

// parseTrade reads [price, volume, time, side, type, misc, id].
func (s *TradesSource) parseTrade(row []json.RawMessage) (models.MRawRecord, error) {
	if len(row) < 4 {
		return models.MRawRecord{}, fmt.Errorf("expected at least 4 fields, got %d", len(row))
	}

	var priceStr, volStr, side string
	var tsNum json.Number
	if err := json.Unmarshal(row[0], &priceStr); err != nil {
		return models.MRawRecord{}, err
	}
	if err := json.Unmarshal(row[1], &volStr); err != nil {
		return models.MRawRecord{}, err
	}
	if err := json.Unmarshal(row[2], &tsNum); err != nil {
		return models.MRawRecord{}, err
	}
	if err := json.Unmarshal(row[3], &side); err != nil {
		return models.MRawRecord{}, err
	}

	price, err := utils.ParseDecimal(priceStr)
	if err != nil {
		return models.MRawRecord{}, err
	}
	volume, err := utils.ParseDecimal(volStr)
	if err != nil {
		return models.MRawRecord{}, err
	}
	ts, err := utils.ParseFractionalEpoch(tsNum.String())
	if err != nil {
		return models.MRawRecord{}, err
	}

	id := ""
	if len(row) >= 7 {
		var n json.Number
		if json.Unmarshal(row[6], &n) == nil {
			id = n.String()
		}
	}
	if id == "" {
		id = fmt.Sprintf("%d:%s:%s:%s", ts.UnixNano(), side, priceStr, volStr)
	}

	return models.MRawRecord{
		ID:        id,
		Timestamp: ts,
		Price:     price,
		Weight:    volume,
		Labels:    map[string]string{"asset": s.Asset, "side": SideLabel(side)},
	}, nil
}

// -----------------------------------------------------------------------------

// SideLabel maps the aggressor flag to the book side it hit: a market sell
// trades at the bid, a market buy at the ask.
func SideLabel(flag string) string {
	switch flag {
	case "s":
		return "bid"
	case "b":
		return "ask"
	}
	return flag
}

// -----------------------------------------------------------------------------

func parseLast(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return time.Time{}, err
		}
		s = n.String()
	}
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return utils.EpochToTime(ns, utils.Nanoseconds), nil
}
