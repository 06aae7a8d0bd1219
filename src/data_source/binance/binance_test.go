package binance

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

func testNetwork() *network.AsyncNetworkManager {
	cfg := &models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 5}}
	return network.NewAsyncNetworkManager(cfg, logger.NewLogger(nil, "test"))
}

func TestKlinesFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		assert.Equal(t, "1609459200000", r.URL.Query().Get("startTime"))
		_, _ = w.Write([]byte(`[
			[1609459200000,"28923.63","28961.66","28913.12","28961.66","27.457032",1609459259999,"794382.30",1292,"16.777195","485390.52","0"],
			[1609459260000,"28961.67","29017.50","28961.01","29009.91","58.477501",1609459319999,"1695802.83",1651,"33.733818","978176.13","0"]
		]`))
	}))
	defer srv.Close()

	src := NewKlinesSource(srv.URL, "BTC", "", "", testNetwork())
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := src.FetchPage(context.Background(), start)
	require.NoError(t, err)
	require.Len(t, p.Records, 2)

	assert.Equal(t, start, p.Records[0].Timestamp)
	assert.Equal(t, 28961.66, p.Records[0].Price)
	assert.Equal(t, 27.457032, p.Records[0].Weight)
	assert.Equal(t, "1609459200000", p.Records[0].ID)
	assert.Equal(t, map[string]string{"asset": "btc", "which": "close"}, p.Records[0].Labels)
	assert.Equal(t, start.Add(time.Minute+time.Millisecond), p.Next)
}

func TestKlinesMalformed(t *testing.T) {
	src := NewKlinesSource("", "btc", "", "", nil)
	_, err := src.ParsePage([]byte(`[[1609459200000,"1"]]`))
	var malformed *helpers.MalformedPageError
	assert.ErrorAs(t, err, &malformed)

	p, err := src.ParsePage([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, p.Records)
}

func TestFundingFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/fundingRate", r.URL.Path)
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`[
			{"symbol":"ETHUSDT","fundingTime":1609459200000,"fundingRate":"0.00010000","markPrice":"737.1"},
			{"symbol":"ETHUSDT","fundingTime":1609488000000,"fundingRate":"-0.00025000","markPrice":"740.0"}
		]`))
	}))
	defer srv.Close()

	src := NewFundingSource(srv.URL, "eth", "", testNetwork())
	p, err := src.FetchPage(context.Background(), time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, p.Records, 2)
	assert.Equal(t, 0.0001, p.Records[0].Price)
	assert.Equal(t, -0.00025, p.Records[1].Price)
	assert.Equal(t, 1.0, p.Records[1].Weight)
	assert.Equal(t, "rate", p.Records[1].Labels["which"])
	assert.Equal(t, time.UnixMilli(1609488000001).UTC(), p.Next)
}
