package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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
			Name:          "okx",
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

func okxServer(t *testing.T) *httptest.Server {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/public/instruments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SPOT", r.URL.Query().Get("instType"))
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[
			{"instId":"BTC-USDT","baseCcy":"BTC","quoteCcy":"USDT","state":"live"},
			{"instId":"ETH-BTC","baseCcy":"ETH","quoteCcy":"BTC","state":"live"},
			{"instId":"OLD-USDT","baseCcy":"OLD","quoteCcy":"USDT","state":"suspend"}]}`))
	})
	mux.HandleFunc("/api/v5/market/ticker", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("instId") {
		case "BTC-USDT":
			_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"instType":"SPOT","instId":"BTC-USDT","last":"30000","bidPx":"29999.9","askPx":"30000.1","volCcy24h":"123456789","ts":"` + now + `"}]}`))
		case "BTC-USDT-SWAP":
			_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"instType":"SWAP","instId":"BTC-USDT-SWAP","bidPx":"30050","askPx":"30050.5","volCcy24h":"1000","ts":"` + now + `"}]}`))
		case "OLD-USDT":
			_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"OLD-USDT","bidPx":"1","askPx":"1.1","ts":"1000"}]}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
		}
	})
	mux.HandleFunc("/api/v5/public/funding-rate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","fundingRate":"0.0002","fundingTime":"1700006400000","nextFundingTime":"1700020800000"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAdapter_SupportedSymbolsAndFetch(t *testing.T) {
	a := newTestAdapter(t, okxServer(t), nil, nil)

	syms, err := a.SupportedSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/BTC"}, syms)

	tick, err := a.FetchPrice(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "29999.9", tick.Bid.String())
	assert.Equal(t, "30000.1", tick.Ask.String())
	assert.Equal(t, "123456789", tick.Volume24h.String())
	assert.Equal(t, common.ExchangeOKX, tick.Exchange)

	_, err = a.FetchPrice(context.Background(), "DOGE/USDT")
	assert.True(t, exchange.IsKind(err, exchange.KindUnsupportedSymbol))
}

func TestAdapter_StaleRESTTickIsReturned(t *testing.T) {
	a := newTestAdapter(t, okxServer(t), nil, nil)
	tick, err := a.FetchPrice(context.Background(), "OLD/USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), tick.Timestamp.UnixMilli())
	assert.Empty(t, a.Health().LastError)
}

func TestAdapter_FetchFutures(t *testing.T) {
	a := newTestAdapter(t, okxServer(t), nil, nil)

	tick, err := a.FetchFutures(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, common.MarketTypeFuture, tick.MarketType)
	assert.Equal(t, "30050", tick.Bid.String())
	assert.Equal(t, "0.0002", tick.FundingRate.String())
	assert.Equal(t, 4*time.Hour, tick.FundingInterval)
	assert.True(t, tick.Volume24h.IsZero())

	_, err = a.FetchFutures(context.Background(), "NOPE/USDT")
	assert.True(t, exchange.IsKind(err, exchange.KindUnsupportedSymbol))
}

func TestAdapter_BusinessErrorCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"50011","msg":"Too Many Requests","data":[]}`))
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv, nil, nil)
	_, err := a.FetchPrice(context.Background(), "BTC/USDT")
	assert.True(t, exchange.IsKind(err, exchange.KindRateLimited))
}

func TestAdapter_HandleMessage(t *testing.T) {
	sink := make(chan *common.PriceTick, 4)
	a := newTestAdapter(t, nil, nil, sink)
	require.NoError(t, a.Subscribe(context.Background(), "BTC/USDT"))

	a.handleMessage([]byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"},"connId":"a4d3ae55"}`))
	a.handleMessage([]byte(`pong`))
	a.handleMessage([]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instType":"SPOT","instId":"BTC-USDT","bidPx":"100","askPx":"101","volCcy24h":"5","ts":"1700000000000"}]}`))
	a.handleMessage([]byte(`{"arg":{"channel":"tickers","instId":"ETH-USDT"},"data":[{"instId":"ETH-USDT","bidPx":"1","askPx":"2","ts":"1700000000000"}]}`))
	a.handleMessage([]byte(`{"event":"error","code":"60012","msg":"Invalid request"}`))
	a.handleMessage([]byte(`{broken`))

	require.Len(t, sink, 1)
	tick := <-sink
	assert.Equal(t, "BTC/USDT", tick.Symbol)
	assert.Equal(t, "100", tick.Bid.String())
	assert.Equal(t, time.UnixMilli(1700000000000), tick.Timestamp)
}

func TestSigner_Headers(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC))
	s := &Signer{APIKey: "k", SecretKey: "s", Passphrase: "p", Clock: mock}

	req := httptest.NewRequest(http.MethodGet, "https://www.okx.com/api/v5/market/ticker?instId=BTC-USDT", nil)
	require.NoError(t, s.Sign(req, nil))

	ts := "2024-01-02T03:04:05.006Z"
	h := hmac.New(sha256.New, []byte("s"))
	h.Write([]byte(ts + "GET" + "/api/v5/market/ticker?instId=BTC-USDT"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(h.Sum(nil)), req.Header.Get("OK-ACCESS-SIGN"))
	assert.Equal(t, ts, req.Header.Get("OK-ACCESS-TIMESTAMP"))
	assert.Equal(t, "k", req.Header.Get("OK-ACCESS-KEY"))
	assert.Equal(t, "p", req.Header.Get("OK-ACCESS-PASSPHRASE"))
}

func TestNew_RequiresPassphraseForSigning(t *testing.T) {
	creds := credentials.Static{"okx": {APIKey: "k", APISecret: "s"}}
	a := newTestAdapter(t, nil, creds, nil)
	assert.False(t, a.rest.Signed())
}

func TestAdapter_DisconnectCancelsRESTInFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	a := newTestAdapter(t, srv, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.FetchPrice(context.Background(), "BTC/USDT")
		errCh <- err
	}()
	<-started
	require.NoError(t, a.Disconnect())

	select {
	case err := <-errCh:
		assert.True(t, exchange.IsKind(err, exchange.KindConnection), "got %v", err)
		assert.ErrorIs(t, err, exchange.ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("FetchPrice still blocked after Disconnect")
	}
}
