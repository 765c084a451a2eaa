package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

// Binance 永续合约每 8 小时结算一次资金费
const fundingInterval = 8 * time.Hour

// fetchSpot 现货最优买卖价（connector /api/v3/ticker/bookTicker）
func (a *Adapter) fetchSpot(ctx context.Context, canonical, native string) (*common.PriceTick, error) {
	res, err := a.spot.NewTickerBookTickerService().Symbol(native).Do(ctx)
	if err != nil {
		return nil, a.classify("spot bookTicker "+native, err)
	}
	if len(res) == 0 {
		return nil, exchange.NewError(exchange.KindAPI, common.ExchangeBinance, "spot bookTicker "+native, errors.New("empty response"))
	}
	t := res[0]
	return a.core.NewTick(canonical, common.MarketTypeSpot,
		exchange.ParseDecimal(t.BidPrice), exchange.ParseDecimal(t.AskPrice), decimal.Zero,
		time.Time{}, common.PriceSourceREST), nil
}

// fetchFutures U 本位永续 bookTicker + premiumIndex（资金费率）
func (a *Adapter) fetchFutures(ctx context.Context, canonical, native string) (*common.PriceTick, error) {
	q := url.Values{"symbol": {native}}
	body, err := a.futures.Get(ctx, "", "/fapi/v1/ticker/bookTicker", q)
	if err != nil {
		return nil, a.classifyFutures(err)
	}
	var bt futuresBookTicker
	if err := json.Unmarshal(body, &bt); err != nil {
		return nil, exchange.NewError(exchange.KindAPI, common.ExchangeBinance, "decode futures bookTicker", err)
	}

	body, err = a.futures.Get(ctx, "", "/fapi/v1/premiumIndex", q)
	if err != nil {
		return nil, a.classifyFutures(err)
	}
	var pi premiumIndex
	if err := json.Unmarshal(body, &pi); err != nil {
		return nil, exchange.NewError(exchange.KindAPI, common.ExchangeBinance, "decode premiumIndex", err)
	}

	tick := a.core.NewTick(canonical, common.MarketTypeFuture,
		exchange.ParseDecimal(bt.BidPrice), exchange.ParseDecimal(bt.AskPrice), decimal.Zero,
		exchange.Millis(bt.Time), common.PriceSourceREST)
	tick.FundingRate = exchange.ParseDecimal(pi.LastFundingRate)
	tick.FundingInterval = fundingInterval
	return tick, nil
}

// loadSymbols 现货交易对列表（connector /api/v3/exchangeInfo）
func (a *Adapter) loadSymbols(ctx context.Context) error {
	info, err := a.spot.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return a.classify("exchangeInfo", err)
	}
	pairs := make([]symbols.Pair, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s == nil || s.Status != "TRADING" {
			continue
		}
		pairs = append(pairs, symbols.Pair{Base: s.BaseAsset, Quote: s.QuoteAsset, Native: s.Symbol})
	}
	a.core.Symbols.Load(pairs)
	a.core.Logger().Info().Int("pairs", len(pairs)).Msg("symbol listing loaded")
	return nil
}

// classify connector 错误按 Binance 错误码归类
func (a *Adapter) classify(op string, err error) error {
	var ae *exchange.AdapterError
	if errors.As(err, &ae) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "code=-1121"):
		return exchange.NewError(exchange.KindUnsupportedSymbol, common.ExchangeBinance, op, err)
	case strings.Contains(msg, "code=-2014"), strings.Contains(msg, "code=-2015"), strings.Contains(msg, "code=-1022"):
		return exchange.NewError(exchange.KindAuth, common.ExchangeBinance, op, err)
	case strings.Contains(msg, "code=-1003"):
		return exchange.NewError(exchange.KindRateLimited, common.ExchangeBinance, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exchange.NewError(exchange.KindConnection, common.ExchangeBinance, op, err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return exchange.NewError(exchange.KindConnection, common.ExchangeBinance, op, err)
	}
	return exchange.NewError(exchange.KindAPI, common.ExchangeBinance, op, err)
}

// classifyFutures fapi 的 400 里 -1121 表示合约不存在
func (a *Adapter) classifyFutures(err error) error {
	var ae *exchange.AdapterError
	if !errors.As(err, &ae) || ae.Kind != exchange.KindAPI || ae.Err == nil {
		return err
	}
	var body apiError
	if json.Unmarshal([]byte(ae.Err.Error()), &body) == nil && body.Code == -1121 {
		return &exchange.AdapterError{
			Kind:       exchange.KindUnsupportedSymbol,
			Exchange:   common.ExchangeBinance,
			Context:    ae.Context,
			StatusCode: ae.StatusCode,
			Err:        fmt.Errorf("%s", body.Msg),
		}
	}
	return err
}
