// Package binance Binance 现货（connector）与 U 本位永续行情
package binance

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	binance_connector "github.com/binance/binance-connector-go"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

const (
	DefaultRESTURL    = "https://api.binance.com"
	DefaultWSURL      = "wss://stream.binance.com:9443/ws"
	DefaultFuturesURL = "https://fapi.binance.com"
)

func init() {
	exchange.Register("binance", New)
}

// Adapter Binance 适配器
type Adapter struct {
	core    *exchange.Core
	spot    *binance_connector.Client
	futures *exchange.RESTClient
	ws      *exchange.WSConn
	msgID   atomic.Int64
}

var _ exchange.FuturesAdapter = (*Adapter)(nil)

// New 创建适配器，凭证缺失时只访问公开接口
func New(deps exchange.Deps) (exchange.Adapter, error) {
	deps = deps.WithDefaults()
	core := exchange.NewCore(common.ExchangeBinance, deps, symbols.ConcatRules{Aliases: symbols.USDAliases})
	cfg := deps.Config

	a := &Adapter{core: core}

	var signer exchange.Signer
	apiKey, secret := "", ""
	if creds, ok := deps.Credentials.Lookup("binance"); ok {
		apiKey, secret = creds.APIKey, creds.APISecret
		signer = &Signer{APIKey: creds.APIKey, SecretKey: creds.APISecret, Clock: core.Clock()}
	}

	a.spot = binance_connector.NewClient(apiKey, secret, orDefault(cfg.RESTURL, DefaultRESTURL))
	a.spot.HTTPClient = &http.Client{
		Timeout:   deps.HTTPClient.Timeout,
		Transport: &exchange.LimitedTransport{Core: core, Base: deps.HTTPClient.Transport},
	}
	a.futures = exchange.NewRESTClient(core, orDefault(cfg.FuturesRESTURL, DefaultFuturesURL), deps.HTTPClient, signer)
	a.ws = exchange.NewWSConn(core, exchange.WSConfig{
		URL:          orDefault(cfg.WSURL, DefaultWSURL),
		PingInterval: 30 * time.Second,
		ReadTimeout:  2 * time.Minute,
		MaxLifetime:  23 * time.Hour,
	}, a.handleMessage, a.resubscribe)
	return a, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (a *Adapter) Name() common.Exchange { return common.ExchangeBinance }

// Connect 建立 WebSocket；失败时状态回到 DISCONNECTED，REST 仍可用
func (a *Adapter) Connect(ctx context.Context) error {
	return a.ws.Start(ctx)
}

func (a *Adapter) Disconnect() error {
	a.core.CancelInFlight()
	return a.ws.Close()
}

// Subscribe 登记订阅，已连接时立即发送
func (a *Adapter) Subscribe(ctx context.Context, symbol string) error {
	native, err := a.core.Native(symbol)
	if err != nil {
		return err
	}
	if !a.core.Subs.Add(symbol, native) || !a.ws.Connected() {
		return nil
	}
	return a.sendSubscription(ctx, "SUBSCRIBE", []string{native})
}

func (a *Adapter) Unsubscribe(ctx context.Context, symbol string) error {
	native, last := a.core.Subs.Remove(symbol)
	if !last || !a.ws.Connected() {
		return nil
	}
	return a.sendSubscription(ctx, "UNSUBSCRIBE", []string{native})
}

func (a *Adapter) FetchPrice(ctx context.Context, symbol string) (*common.PriceTick, error) {
	native, err := a.core.Native(symbol)
	if err != nil {
		return nil, err
	}
	tick, err := a.fetchSpot(ctx, symbol, native)
	if err != nil {
		a.core.RecordError(err)
		return nil, err
	}
	a.core.Fetches.Record(symbol, a.core.Clock().Now())
	return tick, nil
}

func (a *Adapter) FetchFutures(ctx context.Context, symbol string) (*common.PriceTick, error) {
	base, quote, err := common.SplitCanonical(symbol)
	if err != nil {
		return nil, exchange.Wrap(common.ExchangeBinance, "futures "+symbol, err)
	}
	native := symbols.ConcatRules{}.Format(base, quote)
	tick, err := a.fetchFutures(ctx, symbol, native)
	if err != nil {
		a.core.RecordError(err)
		return nil, err
	}
	a.core.NoteStale(tick)
	a.core.Fetches.Record(exchange.FetchKey(symbol, common.MarketTypeFuture), a.core.Clock().Now())
	return tick, nil
}

// SupportedSymbols 交易对列表，按 SymbolRefresh 周期刷新
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
