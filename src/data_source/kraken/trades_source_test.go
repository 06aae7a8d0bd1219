package kraken

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tickfeed/src/helpers"
	"tickfeed/src/logger"
	"tickfeed/src/models"
	"tickfeed/src/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `{
  "error": [],
  "result": {
    "XXBTZUSD": [
      ["29000.10000", "0.50000000", 1609459200.1234, "b", "m", "", 1001],
      ["28999.90000", "1.25000000", 1609459260.5, "s", "l", "", 1002]
    ],
    "last": "1609459260500000000"
  }
}`

func newTestSource(t *testing.T, handler http.HandlerFunc) *TradesSource {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 5}}
	return NewTradesSource(srv.URL, "btc", "", network.NewAsyncNetworkManager(cfg, logger.NewLogger(nil, "test")))
}

func TestFetchPage(t *testing.T) {
	cursor := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Trades", r.URL.Path)
		assert.Equal(t, "BTCUSD", r.URL.Query().Get("pair"))
		assert.Equal(t, "1609459200000000000", r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(page))
	})

	p, err := src.FetchPage(context.Background(), cursor)
	require.NoError(t, err)
	require.Len(t, p.Records, 2)

	first := p.Records[0]
	assert.Equal(t, "1001", first.ID)
	assert.Equal(t, 29000.1, first.Price)
	assert.Equal(t, 0.5, first.Weight)
	assert.Equal(t, "ask", first.Labels["side"])
	assert.Equal(t, "btc", first.Labels["asset"])
	assert.Equal(t, cursor.Add(123400*time.Microsecond), first.Timestamp)

	assert.Equal(t, "bid", p.Records[1].Labels["side"])
	assert.Equal(t, time.Unix(1609459260, 500000000).UTC(), p.Next)
	assert.Equal(t, "kraken_trades:btcusd", src.Name())
}

func TestFetchPageUpstreamErrors(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":["EAPI:Rate limit exceeded"],"result":{}}`))
	})
	_, err := src.FetchPage(context.Background(), time.Now())
	assert.True(t, helpers.IsTransient(err))

	src = newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":["EQuery:Unknown asset pair"],"result":{}}`))
	})
	_, err = src.FetchPage(context.Background(), time.Now())
	require.Error(t, err)
	assert.False(t, helpers.IsTransient(err))

	src = newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	_, err = src.FetchPage(context.Background(), time.Now())
	var malformed *helpers.MalformedPageError
	assert.ErrorAs(t, err, &malformed)
}

func TestParsePageWithoutTradeID(t *testing.T) {
	src := NewTradesSource("", "eth", "eur", nil)
	p, err := src.ParsePage([]byte(`{"error":[],"result":{"XETHZEUR":[["700.0","2.0",1609459200,"s","m",""]],"last":"1609459200000000000"}}`))
	require.NoError(t, err)
	require.Len(t, p.Records, 1)
	assert.NotEmpty(t, p.Records[0].ID)
	assert.Equal(t, "ETHEUR", src.Pair())
}

func TestParsePageEmpty(t *testing.T) {
	src := NewTradesSource("", "btc", "", nil)
	p, err := src.ParsePage([]byte(`{"error":[],"result":{"XXBTZUSD":[],"last":"1609459200000000000"}}`))
	require.NoError(t, err)
	assert.Empty(t, p.Records)
}
