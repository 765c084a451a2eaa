package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
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
			Name:           "binance",
			RESTURL:        url,
			FuturesRESTURL: url,
			WSURL:          "ws://127.0.0.1:1",
			StaleAfter:     time.Minute,
			SymbolRefresh:  time.Hour,
		},
		Credentials: creds,
		Sink:        sink,
		Logger:      zerolog.Nop(),
		Clock:       clock.New(),
	})
	require.NoError(t, err)
	return a.(*Adapter)
}

func binanceServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"timezone":"UTC","serverTime":1700000000000,"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT"},
			{"symbol":"ETHBTC","status":"TRADING","baseAsset":"ETH","quoteAsset":"BTC"},
			{"symbol":"LUNAUSDT","status":"BREAK","baseAsset":"LUNA","quoteAsset":"USDT"}]}`))
	})
	mux.HandleFunc("/api/v3/ticker/bookTicker", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"30000.10","bidQty":"1.5","askPrice":"30000.20","askQty":"2"}`))
	})
	mux.HandleFunc("/fapi/v1/ticker/bookTicker", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		ms := time.Now().UnixMilli()
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"30100.0","bidQty":"3","askPrice":"30100.5","askQty":"4","time":` + strconv.FormatInt(ms, 10) + `}`))
	})
	mux.HandleFunc("/fapi/v1/premiumIndex", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","markPrice":"30100.2","lastFundingRate":"0.00010000","nextFundingTime":1700006400000,"time":1700000000000}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAdapter_SupportedSymbols(t *testing.T) {
	a := newTestAdapter(t, binanceServer(t), nil, nil)

	syms, err := a.SupportedSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/BTC"}, syms)

	native, err := a.DenormalizeSymbol("ETH/BTC")
	require.NoError(t, err)
	assert.Equal(t, "ETHBTC", native)

	canonical, err := a.NormalizeSymbol("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", canonical)

	_, err = a.DenormalizeSymbol("LUNA/USDT")
	assert.True(t, exchange.IsKind(err, exchange.KindUnsupportedSymbol))
}

func TestAdapter_FetchPrice(t *testing.T) {
	a := newTestAdapter(t, binanceServer(t), nil, nil)

	tick, err := a.FetchPrice(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", tick.Symbol)
	assert.Equal(t, common.MarketTypeSpot, tick.MarketType)
	assert.Equal(t, "30000.1", tick.Bid.String())
	assert.Equal(t, "30000.2", tick.Ask.String())
	assert.Equal(t, common.PriceSourceREST, tick.Source)
	assert.False(t, a.LastFetch("BTC/USDT").IsZero())
}

func TestAdapter_FetchFutures(t *testing.T) {
	a := newTestAdapter(t, binanceServer(t), nil, nil)

	tick, err := a.FetchFutures(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, common.MarketTypeFuture, tick.MarketType)
	assert.Equal(t, "30100.5", tick.Ask.String())
	assert.Equal(t, "0.0001", tick.FundingRate.String())
	assert.Equal(t, 8*time.Hour, tick.FundingInterval)
	assert.False(t, a.LastFetch(exchange.FetchKey("BTC/USDT", common.MarketTypeFuture)).IsZero())

	_, err = a.FetchFutures(context.Background(), "DOGE/USDT")
	assert.True(t, exchange.IsKind(err, exchange.KindUnsupportedSymbol), "got %v", err)
}

func TestAdapter_SignsFuturesRequests(t *testing.T) {
	var gotKey, gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotSig = r.URL.Query().Get("signature")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key"}`))
	}))
	defer srv.Close()

	creds := credentials.Static{"binance": {APIKey: "key", APISecret: "secret"}}
	a := newTestAdapter(t, srv, creds, nil)

	_, err := a.FetchFutures(context.Background(), "BTC/USDT")
	assert.True(t, exchange.IsKind(err, exchange.KindAuth))
	assert.Equal(t, "key", gotKey)
	assert.Len(t, gotSig, 64)
	assert.True(t, a.Health().PublicMode)
}

func TestAdapter_HandleMessage(t *testing.T) {
	sink := make(chan *common.PriceTick, 4)
	a := newTestAdapter(t, nil, nil, sink)
	require.NoError(t, a.Subscribe(context.Background(), "BTC/USDT"))

	a.handleMessage([]byte(`{"u":400900217,"s":"BTCUSDT","b":"25.35","B":"31.21","a":"25.36","A":"40.66"}`))
	a.handleMessage([]byte(`{"stream":"btcusdt@bookTicker","data":{"u":1,"s":"BTCUSDT","b":"25.40","B":"1","a":"25.41","A":"1"}}`))
	a.handleMessage([]byte(`{"u":1,"s":"ETHUSDT","b":"1","B":"1","a":"2","A":"1"}`))
	a.handleMessage([]byte(`{"result":null,"id":1}`))
	a.handleMessage([]byte(`not json`))

	require.Len(t, sink, 2)
	first := <-sink
	assert.Equal(t, "BTC/USDT", first.Symbol)
	assert.Equal(t, "25.35", first.Bid.String())
	assert.Equal(t, common.PriceSourceWebSocket, first.Source)
	second := <-sink
	assert.Equal(t, "25.41", second.Ask.String())
}

func TestAdapter_SubscribeWhileDisconnected(t *testing.T) {
	a := newTestAdapter(t, nil, nil, nil)
	require.NoError(t, a.Subscribe(context.Background(), "BTC/USDT"))
	require.NoError(t, a.Subscribe(context.Background(), "BTC/USDT"))
	assert.Equal(t, 1, a.Health().Subscriptions)
	require.NoError(t, a.Unsubscribe(context.Background(), "BTC/USDT"))
	assert.Equal(t, 0, a.Health().Subscriptions)
	assert.Equal(t, exchange.StateDisconnected, a.State())
}

func TestSigner_Signature(t *testing.T) {
	// Binance 文档中的示例
	s := &Signer{SecretKey: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"}
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", s.signature(payload))
}
