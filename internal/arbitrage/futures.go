package arbitrage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/internal/pricestore"
	"crypto-arbitrage-engine/pkg/common"
)

// DefaultFundingInterval 交易所没有给出资金费间隔时
const DefaultFundingInterval = 8 * time.Hour

// DetectFutures 期现基差：现货按 ask 买入，合约按 bid 开空
// 收益 = 基差 + 持有期内收取的资金费（资金费率为正时空头收取），减去两腿 taker 费
func DetectFutures(snap *pricestore.Snapshot, p Params) []*common.FuturesOpportunity {
	rates := snap.Rates()
	var out []*common.FuturesOpportunity
	for _, exchange := range snap.Exchanges() {
		for _, fut := range snap.ByExchange(exchange, common.MarketTypeFuture) {
			spot, ok := snap.Get(exchange, common.MarketTypeSpot, fut.Symbol)
			if !ok {
				continue
			}
			if opp := EvaluateFutures(spot, fut, p, rates); opp != nil && opp.NetProfit.IsPositive() {
				out = append(out, opp)
			}
		}
	}
	return out
}

// EvaluateFutures 计算单个交易所单个 symbol 的期现机会，金额以 USDT 计
func EvaluateFutures(spot, fut *common.PriceTick, p Params, rates *pricestore.ExchangeRates) *common.FuturesOpportunity {
	if !spot.HasAsk() || !fut.HasBid() || !p.Investment.IsPositive() {
		return nil
	}
	rate, ok := quoteRate(spot.Symbol, rates)
	if !ok {
		return nil
	}

	interval := fut.FundingInterval
	if interval <= 0 {
		interval = DefaultFundingInterval
	}
	periods := decimal.Zero
	if p.FuturesHolding > 0 {
		periods = decimal.NewFromInt(int64(p.FuturesHolding)).Div(decimal.NewFromInt(int64(interval)))
	}

	qty := p.Investment.Div(rate).Div(spot.Ask)
	basis := fut.Bid.Sub(spot.Ask)
	funding := fut.FundingRate.Mul(fut.Bid).Mul(qty).Mul(periods)
	gross := basis.Mul(qty).Add(funding).Mul(rate)

	taker := p.Fees.Taker(spot.Exchange)
	fees := taker.Mul(spot.Ask).Mul(qty).Add(taker.Mul(fut.Bid).Mul(qty)).Mul(rate)

	return &common.FuturesOpportunity{
		ID:              uuid.New().String(),
		Exchange:        spot.Exchange,
		Pair:            spot.Symbol,
		SpotPrice:       spot.Ask,
		FuturesPrice:    fut.Bid,
		FundingRate:     fut.FundingRate,
		FundingInterval: interval,
		SpreadPercent:   basis.Div(spot.Ask).Mul(hundred),
		QuoteRate:       rate,
		Fees:            fees,
		NetProfit:       gross.Sub(fees),
		Timestamp:       older(spot.Timestamp, fut.Timestamp),
	}
}

func older(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if out.IsZero() || t.Before(out) {
			out = t
		}
	}
	return out
}
