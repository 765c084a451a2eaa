// Package okx OKX v5 现货与 USDT 永续（SWAP）行情
package okx

import (
	"context"
	"time"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

const (
	DefaultRESTURL = "https://www.okx.com"
	DefaultWSURL   = "wss://ws.okx.com:8443/ws/v5/public"
)

func init() {
	exchange.Register("okx", New)
}

// Adapter OKX 适配器
type Adapter struct {
	core *exchange.Core
	rest *exchange.RESTClient
	ws   *exchange.WSConn
	swap symbols.DelimitedRules
}

var _ exchange.FuturesAdapter = (*Adapter)(nil)

// New 需要 key、secret 和 passphrase 才会签名
func New(deps exchange.Deps) (exchange.Adapter, error) {
	deps = deps.WithDefaults()
	core := exchange.NewCore(common.ExchangeOKX, deps, symbols.DelimitedRules{Sep: "-", Aliases: symbols.USDAliases})
	cfg := deps.Config

	var signer exchange.Signer
	if creds, ok := deps.Credentials.Lookup("okx"); ok && creds.Passphrase != "" {
		signer = &Signer{APIKey: creds.APIKey, SecretKey: creds.APISecret, Passphrase: creds.Passphrase, Clock: core.Clock()}
	}

	a := &Adapter{
		core: core,
		rest: exchange.NewRESTClient(core, orDefault(cfg.RESTURL, DefaultRESTURL), deps.HTTPClient, signer),
		swap: symbols.DelimitedRules{Sep: "-", Suffix: "-SWAP"},
	}
	a.ws = exchange.NewWSConn(core, exchange.WSConfig{
		URL:          orDefault(cfg.WSURL, DefaultWSURL),
		PingInterval: 25 * time.Second,
		Ping:         func() []byte { return []byte("ping") },
	}, a.handleMessage, a.resubscribe)
	return a, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (a *Adapter) Name() common.Exchange { return common.ExchangeOKX }

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
	tick, err := a.fetchTicker(ctx, symbol, native, common.MarketTypeSpot)
	if err != nil {
		a.core.RecordError(err)
		return nil, err
	}
	a.core.NoteStale(tick)
	a.core.Fetches.Record(symbol, a.core.Clock().Now())
	return tick, nil
}

// FetchFutures BTC/USDT -> BTC-USDT-SWAP，资金费率来自 public/funding-rate
func (a *Adapter) FetchFutures(ctx context.Context, symbol string) (*common.PriceTick, error) {
	base, quote, err := common.SplitCanonical(symbol)
	if err != nil {
		return nil, exchange.Wrap(common.ExchangeOKX, "futures "+symbol, err)
	}
	instID := a.swap.Format(base, quote)

	tick, err := a.fetchTicker(ctx, symbol, instID, common.MarketTypeFuture)
	if err != nil {
		a.core.RecordError(err)
		return nil, err
	}
	funding, err := a.fetchFunding(ctx, instID)
	if err != nil {
		a.core.RecordError(err)
		return nil, err
	}
	tick.FundingRate = exchange.ParseDecimal(funding.Get("fundingRate").String())
	tick.FundingInterval = defaultFundingInterval
	next := exchange.ParseMillis(funding.Get("nextFundingTime").String())
	cur := exchange.ParseMillis(funding.Get("fundingTime").String())
	if !next.IsZero() && !cur.IsZero() && next.After(cur) {
		tick.FundingInterval = next.Sub(cur)
	}
	a.core.NoteStale(tick)
	a.core.Fetches.Record(exchange.FetchKey(symbol, common.MarketTypeFuture), a.core.Clock().Now())
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
