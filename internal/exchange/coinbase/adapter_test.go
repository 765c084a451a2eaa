package coinbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/internal/credentials"
	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/pkg/common"
)

func newTestAdapter(t *testing.T, srv *httptest.Server, creds credentials.Provider, sink chan *common.PriceTick) *Adapter {
	t.Helper()
	url := "http://127.0.0.1:1"
	if srv != nil {
		url = srv.URL
	}
	a, err := New(exchange.Deps{
		Config: config.ExchangeConfig{
			Name:          "coinbase",
			RESTURL:       url,
			WSURL:         "ws://127.0.0.1:1",
			StaleAfter:    time.Minute,
			SymbolRefresh: time.Hour,
		},
		Credentials: creds,
		Sink:        sink,
		Logger:      zerolog.Nop(),
		Clock:       clock.New(),
	})
	require.NoError(t, err)
	return a.(*Adapter)
}

func coinbaseServer(t *testing.T) *httptest.Server {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	mux := http.NewServeMux()
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"BTC-USD","base_currency":"BTC","quote_currency":"USD","status":"online","trading_disabled":false},
			{"id":"ETH-BTC","base_currency":"ETH","quote_currency":"BTC","status":"online","trading_disabled":false},
			{"id":"OLD-USD","base_currency":"OLD","quote_currency":"USD","status":"delisted","trading_disabled":true}]`))
	})
	mux.HandleFunc("/products/BTC-USD/ticker", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ask":"30002.5","bid":"30001.5","price":"30002","volume":"10","size":"0.1","time":"` + now + `"}`))
	})
	mux.HandleFunc("/products/ETH-BTC/ticker", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"NotFound"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAdapter_USDTFallsBackToUSD(t *testing.T) {
	a := newTestAdapter(t, coinbaseServer(t), nil, nil)

	syms, err := a.SupportedSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USD", "ETH/BTC"}, syms)

	native, err := a.DenormalizeSymbol("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", native)

	canonical, err := a.NormalizeSymbol("BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USD", canonical, "listed symbols round-trip unchanged")

	tick, err := a.FetchPrice(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", tick.Symbol)
	assert.Equal(t, "30001.5", tick.Bid.String())
	assert.Equal(t, "300020", tick.Volume24h.String())
}

func TestAdapter_NotFoundIsUnsupported(t *testing.T) {
	a := newTestAdapter(t, coinbaseServer(t), nil, nil)
	_, err := a.FetchPrice(context.Background(), "ETH/BTC")
	assert.True(t, exchange.IsKind(err, exchange.KindUnsupportedSymbol), "got %v", err)
}

func TestAdapter_BadSecretFallsBackToPublic(t *testing.T) {
	srv := coinbaseServer(t)
	creds := credentials.Static{"coinbase": {APIKey: "k", APISecret: "%%%not-base64", Passphrase: "p"}}
	a := newTestAdapter(t, srv, creds, nil)

	_, err := a.FetchPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.True(t, a.Health().PublicMode)
}

func TestAdapter_HandleMessage(t *testing.T) {
	sink := make(chan *common.PriceTick, 4)
	a := newTestAdapter(t, nil, nil, sink)
	require.NoError(t, a.Subscribe(context.Background(), "ETH/USD"))

	a.handleMessage([]byte(`{"type":"subscriptions","channels":[{"name":"ticker","product_ids":["ETH-USD"]}]}`))
	a.handleMessage([]byte(`{"type":"ticker","sequence":1,"product_id":"ETH-USD","price":"1800","best_bid":"1799.9","best_ask":"1800.1","volume_24h":"2","time":"2022-10-19T23:28:22.061769Z"}`))
	a.handleMessage([]byte(`{"type":"heartbeat","product_id":"ETH-USD"}`))
	a.handleMessage([]byte(`{"type":"error","message":"Failed to subscribe","reason":"x"}`))

	require.Len(t, sink, 1)
	tick := <-sink
	assert.Equal(t, "ETH/USD", tick.Symbol)
	assert.Equal(t, "3600", tick.Volume24h.String())
	assert.Equal(t, 2022, tick.Timestamp.Year())
}
