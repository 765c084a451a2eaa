package okx

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

// OKX 业务错误码
const (
	codeInstrumentNotFound = "51001"
	codeInvalidAPIKey      = "50111"
	codeInvalidSign        = "50113"
	codeRateLimit          = "50011"
)

const defaultFundingInterval = 8 * time.Hour

// get 请求并检查 {"code":"0","data":[...]}，返回 data
func (a *Adapter) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	body, err := a.rest.Get(ctx, "", path, query)
	if err != nil {
		// 4xx 也会带业务错误码
		var ae *exchange.AdapterError
		if errors.As(err, &ae) && ae.Kind == exchange.KindAPI && ae.Err != nil {
			if code := gjson.Get(ae.Err.Error(), "code").String(); code != "" {
				return gjson.Result{}, a.codeError(path, code, gjson.Get(ae.Err.Error(), "msg").String())
			}
		}
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, exchange.NewError(exchange.KindAPI, common.ExchangeOKX, path, errors.New("malformed response"))
	}
	res := gjson.ParseBytes(body)
	if code := res.Get("code").String(); code != "0" {
		return gjson.Result{}, a.codeError(path, code, res.Get("msg").String())
	}
	return res.Get("data"), nil
}

func (a *Adapter) codeError(op, code, msg string) error {
	kind := exchange.KindAPI
	switch code {
	case codeInstrumentNotFound:
		kind = exchange.KindUnsupportedSymbol
	case codeInvalidAPIKey, codeInvalidSign:
		kind = exchange.KindAuth
	case codeRateLimit:
		kind = exchange.KindRateLimited
	}
	return exchange.NewError(kind, common.ExchangeOKX, op, fmt.Errorf("code=%s msg=%s", code, msg))
}

// fetchTicker GET /api/v5/market/ticker
func (a *Adapter) fetchTicker(ctx context.Context, canonical, instID string, market common.MarketType) (*common.PriceTick, error) {
	data, err := a.get(ctx, "/api/v5/market/ticker", url.Values{"instId": {instID}})
	if err != nil {
		return nil, err
	}
	t := data.Get("0")
	if !t.Exists() {
		return nil, exchange.NewError(exchange.KindUnsupportedSymbol, common.ExchangeOKX, "ticker "+instID, errors.New("empty data"))
	}
	return a.tickFromJSON(canonical, market, t, common.PriceSourceREST), nil
}

// fetchFunding GET /api/v5/public/funding-rate
func (a *Adapter) fetchFunding(ctx context.Context, instID string) (gjson.Result, error) {
	data, err := a.get(ctx, "/api/v5/public/funding-rate", url.Values{"instId": {instID}})
	if err != nil {
		return gjson.Result{}, err
	}
	return data.Get("0"), nil
}

// loadSymbols GET /api/v5/public/instruments?instType=SPOT
func (a *Adapter) loadSymbols(ctx context.Context) error {
	data, err := a.get(ctx, "/api/v5/public/instruments", url.Values{"instType": {"SPOT"}})
	if err != nil {
		return err
	}
	var pairs []symbols.Pair
	data.ForEach(func(_, inst gjson.Result) bool {
		if inst.Get("state").String() != "live" {
			return true
		}
		pairs = append(pairs, symbols.Pair{
			Base:   inst.Get("baseCcy").String(),
			Quote:  inst.Get("quoteCcy").String(),
			Native: inst.Get("instId").String(),
		})
		return true
	})
	a.core.Symbols.Load(pairs)
	a.core.Logger().Info().Int("pairs", len(pairs)).Msg("symbol listing loaded")
	return nil
}

// tickFromJSON REST 与 WebSocket tickers 的字段一致
func (a *Adapter) tickFromJSON(canonical string, market common.MarketType, t gjson.Result, source common.PriceSource) *common.PriceTick {
	volume := t.Get("volCcy24h").String()
	if market == common.MarketTypeFuture {
		// SWAP 的 volCcy24h 以币计，不作为成交额
		volume = ""
	}
	return a.core.NewTick(canonical, market,
		exchange.ParseDecimal(t.Get("bidPx").String()),
		exchange.ParseDecimal(t.Get("askPx").String()),
		exchange.ParseDecimal(volume),
		exchange.ParseMillis(t.Get("ts").String()),
		source)
}
