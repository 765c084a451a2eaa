package bybit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

// v5 retCode
const (
	retParamsError  = 10001
	retInvalidKey   = 10003
	retInvalidSign  = 10004
	retTooManyVisit = 10006
)

const defaultFundingInterval = 8 * time.Hour

// get 请求并检查 {"retCode":0,"result":{...},"time":...}，返回整个响应
func (a *Adapter) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	body, err := a.rest.Get(ctx, "", path, query)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, exchange.NewError(exchange.KindAPI, common.ExchangeBybit, path, errors.New("malformed response"))
	}
	res := gjson.ParseBytes(body)
	if code := res.Get("retCode").Int(); code != 0 {
		return gjson.Result{}, a.codeError(path, code, res.Get("retMsg").String())
	}
	return res, nil
}

func (a *Adapter) codeError(op string, code int64, msg string) error {
	kind := exchange.KindAPI
	switch code {
	case retParamsError:
		if strings.Contains(strings.ToLower(msg), "symbol") {
			kind = exchange.KindUnsupportedSymbol
		}
	case retInvalidKey, retInvalidSign:
		kind = exchange.KindAuth
	case retTooManyVisit:
		kind = exchange.KindRateLimited
	}
	return exchange.NewError(kind, common.ExchangeBybit, op, fmt.Errorf("retCode=%d retMsg=%s", code, msg))
}

// fetchTicker GET /v5/market/tickers，category 为 spot 或 linear
func (a *Adapter) fetchTicker(ctx context.Context, canonical, native string, market common.MarketType) (*common.PriceTick, error) {
	category := "spot"
	if market == common.MarketTypeFuture {
		category = "linear"
	}
	res, err := a.get(ctx, "/v5/market/tickers", url.Values{"category": {category}, "symbol": {native}})
	if err != nil {
		return nil, err
	}
	t := res.Get("result.list.0")
	if !t.Exists() {
		return nil, exchange.NewError(exchange.KindUnsupportedSymbol, common.ExchangeBybit, "tickers "+native, errors.New("empty list"))
	}

	// tickers 列表项没有时间戳，取外层 time
	ts := exchange.Millis(res.Get("time").Int())
	tick := a.core.NewTick(canonical, market,
		exchange.ParseDecimal(t.Get("bid1Price").String()),
		exchange.ParseDecimal(t.Get("ask1Price").String()),
		exchange.ParseDecimal(t.Get("turnover24h").String()),
		ts, common.PriceSourceREST)
	if market == common.MarketTypeFuture {
		tick.FundingRate = exchange.ParseDecimal(t.Get("fundingRate").String())
		tick.FundingInterval = defaultFundingInterval
		if h := t.Get("fundingIntervalHour").Int(); h > 0 {
			tick.FundingInterval = time.Duration(h) * time.Hour
		}
	}
	return tick, nil
}

// loadSymbols GET /v5/market/instruments-info?category=spot
func (a *Adapter) loadSymbols(ctx context.Context) error {
	res, err := a.get(ctx, "/v5/market/instruments-info", url.Values{"category": {"spot"}})
	if err != nil {
		return err
	}
	var pairs []symbols.Pair
	res.Get("result.list").ForEach(func(_, inst gjson.Result) bool {
		if inst.Get("status").String() != "Trading" {
			return true
		}
		pairs = append(pairs, symbols.Pair{
			Base:   inst.Get("baseCoin").String(),
			Quote:  inst.Get("quoteCoin").String(),
			Native: inst.Get("symbol").String(),
		})
		return true
	})
	a.core.Symbols.Load(pairs)
	a.core.Logger().Info().Int("pairs", len(pairs)).Msg("symbol listing loaded")
	return nil
}
