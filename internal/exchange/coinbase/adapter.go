// Package coinbase Coinbase Exchange 现货行情，没有 USDT 交易对时回退到 USD
package coinbase

import (
	"context"
	"time"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

const (
	DefaultRESTURL = "https://api.exchange.coinbase.com"
	DefaultWSURL   = "wss://ws-feed.exchange.coinbase.com"
)

func init() {
	exchange.Register("coinbase", New)
}

// Adapter Coinbase 适配器（不支持合约）
type Adapter struct {
	core *exchange.Core
	rest *exchange.RESTClient
	ws   *exchange.WSConn
}

var _ exchange.Adapter = (*Adapter)(nil)

func New(deps exchange.Deps) (exchange.Adapter, error) {
	deps = deps.WithDefaults()
	core := exchange.NewCore(common.ExchangeCoinbase, deps, symbols.DelimitedRules{Sep: "-", Aliases: symbols.USDAliases})
	cfg := deps.Config

	var signer exchange.Signer
	if creds, ok := deps.Credentials.Lookup("coinbase"); ok && creds.Passphrase != "" {
		signer = &Signer{APIKey: creds.APIKey, Secret: creds.APISecret, Passphrase: creds.Passphrase, Clock: core.Clock()}
	}

	a := &Adapter{
		core: core,
		rest: exchange.NewRESTClient(core, orDefault(cfg.RESTURL, DefaultRESTURL), deps.HTTPClient, signer),
	}
	a.ws = exchange.NewWSConn(core, exchange.WSConfig{
		URL:          orDefault(cfg.WSURL, DefaultWSURL),
		PingInterval: 30 * time.Second,
	}, a.handleMessage, a.resubscribe)
	return a, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (a *Adapter) Name() common.Exchange { return common.ExchangeCoinbase }

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
	tick, err := a.fetchTicker(ctx, symbol, native)
	if err != nil {
		a.core.RecordError(err)
		return nil, err
	}
	a.core.NoteStale(tick)
	a.core.Fetches.Record(symbol, a.core.Clock().Now())
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
