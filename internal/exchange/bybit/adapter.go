// Package bybit Bybit v5 现货与 USDT 永续（linear）行情
package bybit

import (
	"context"
	"sync/atomic"
	"time"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

const (
	DefaultRESTURL = "https://api.bybit.com"
	DefaultWSURL   = "wss://stream.bybit.com/v5/public/spot"
)

func init() {
	exchange.Register("bybit", New)
}

// Adapter Bybit 适配器
type Adapter struct {
	core  *exchange.Core
	rest  *exchange.RESTClient
	ws    *exchange.WSConn
	reqID atomic.Int64
}

var _ exchange.FuturesAdapter = (*Adapter)(nil)

func New(deps exchange.Deps) (exchange.Adapter, error) {
	deps = deps.WithDefaults()
	core := exchange.NewCore(common.ExchangeBybit, deps, symbols.ConcatRules{Aliases: symbols.USDAliases})
	cfg := deps.Config

	var signer exchange.Signer
	if creds, ok := deps.Credentials.Lookup("bybit"); ok {
		signer = &Signer{APIKey: creds.APIKey, SecretKey: creds.APISecret, Clock: core.Clock()}
	}

	a := &Adapter{
		core: core,
		rest: exchange.NewRESTClient(core, orDefault(cfg.RESTURL, DefaultRESTURL), deps.HTTPClient, signer),
	}
	a.ws = exchange.NewWSConn(core, exchange.WSConfig{
		URL:          orDefault(cfg.WSURL, DefaultWSURL),
		PingInterval: 20 * time.Second,
		Ping:         pingMessage,
	}, a.handleMessage, a.resubscribe)
	return a, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (a *Adapter) Name() common.Exchange { return common.ExchangeBybit }

func (a *Adapter) Connect(ctx context.Context) error { return a.ws.Start(ctx) }

func (a *Adapter) Disconnect() error {
	a.core.CancelInFlight()
	return a.ws.Close()
}

func (a *Adapter) Subscribe(ctx context.Context, symbol string) error {
	native, err := a.core.Native(symbol)
	if err != nil {
		return err
	}
	if !a.core.Subs.Add(symbol, native) || !a.ws.Connected() {
		return nil
	}
	return a.sendSubscription(ctx, "subscribe", []string{native})
}

func (a *Adapter) Unsubscribe(ctx context.Context, symbol string) error {
	native, last := a.core.Subs.Remove(symbol)
	if !last || !a.ws.Connected() {
		return nil
	}
	return a.sendSubscription(ctx, "unsubscribe", []string{native})
}

func (a *Adapter) FetchPrice(ctx context.Context, symbol string) (*common.PriceTick, error) {
	native, err := a.core.Native(symbol)
	if err != nil {
		return nil, err
	}
	return a.fetch(ctx, symbol, native, common.MarketTypeSpot)
}

// FetchFutures linear 合约与现货同名（BTCUSDT）
func (a *Adapter) FetchFutures(ctx context.Context, symbol string) (*common.PriceTick, error) {
	base, quote, err := common.SplitCanonical(symbol)
	if err != nil {
		return nil, exchange.Wrap(common.ExchangeBybit, "futures "+symbol, err)
	}
	return a.fetch(ctx, symbol, symbols.ConcatRules{}.Format(base, quote), common.MarketTypeFuture)
}

func (a *Adapter) fetch(ctx context.Context, symbol, native string, market common.MarketType) (*common.PriceTick, error) {
	tick, err := a.fetchTicker(ctx, symbol, native, market)
	if err != nil {
		a.core.RecordError(err)
		return nil, err
	}
	a.core.NoteStale(tick)
	a.core.Fetches.Record(exchange.FetchKey(symbol, market), a.core.Clock().Now())
	return tick, nil
}

func (a *Adapter) SupportedSymbols(ctx context.Context) ([]string, error) {
	if a.core.Symbols.NeedsRefresh(a.core.Config().SymbolRefresh) {
		if err := a.loadSymbols(ctx); err != nil {
			a.core.RecordError(err)
			return nil, err
		}
	}
	return a.core.Symbols.Symbols(), nil
}

func (a *Adapter) NormalizeSymbol(native string) (string, error) { return a.core.Canonical(native) }
func (a *Adapter) DenormalizeSymbol(canonical string) (string, error) {
	return a.core.Native(canonical)
}
func (a *Adapter) State() exchange.State             { return a.core.States.Current() }
func (a *Adapter) LastFetch(symbol string) time.Time { return a.core.Fetches.Last(symbol) }
func (a *Adapter) Health() exchange.Health           { return a.core.Health() }
