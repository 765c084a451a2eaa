package arbitrage

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/internal/pricestore"
	"crypto-arbitrage-engine/pkg/common"
)

var hundred = decimal.NewFromInt(100)

// DetectDirect 跨交易所搬砖
// 同一市场类型内，对每个有两家以上报价的 symbol 枚举有序交易所对 (from, to)：
// from 按 ask 买入，to 按 bid 卖出。净利润为正且价差百分比不低于阈值才保留
// 金额统一换算为 USDT，计价货币无法换算的 symbol 跳过
func DetectDirect(snap *pricestore.Snapshot, p Params) []*common.DirectOpportunity {
	rates := snap.Rates()
	var out []*common.DirectOpportunity
	for _, market := range []common.MarketType{common.MarketTypeSpot, common.MarketTypeFuture} {
		for symbol, ticks := range snap.BySymbol(market) {
			if len(ticks) < 2 {
				continue
			}
			for _, from := range ticks {
				for _, to := range ticks {
					if from.Exchange == to.Exchange {
						continue
					}
					if opp := directOpportunity(symbol, from, to, p, rates); opp != nil {
						out = append(out, opp)
					}
				}
			}
		}
	}
	return out
}

// EvaluateDirect 计算一对报价，不做阈值过滤（负价差或计价货币无汇率时返回 nil）
// Investment、网络费和返回的 GrossProfit/Fees/NetProfit 均以 USDT 计
func EvaluateDirect(symbol string, from, to *common.PriceTick, p Params, rates *pricestore.ExchangeRates) *common.DirectOpportunity {
	if !from.HasAsk() || !to.HasBid() || !p.Investment.IsPositive() {
		return nil
	}
	spread := to.Bid.Sub(from.Ask)
	if !spread.IsPositive() {
		return nil
	}
	rate, ok := quoteRate(symbol, rates)
	if !ok {
		return nil
	}

	qty := p.Investment.Div(rate).Div(from.Ask)
	gross := spread.Mul(qty).Mul(rate)

	// 只有现货需要提币转账
	var network *common.NetworkInfo
	var violated bool
	if from.MarketType == common.MarketTypeSpot {
		if base, _, err := common.SplitCanonical(symbol); err == nil {
			network, violated = SelectNetwork(p.Networks[base], p.MaxWaitMinutes, p.AllowHighCongestion)
		}
	}

	fees := p.Fees.Taker(from.Exchange).Mul(from.Ask).Mul(qty).
		Add(p.Fees.Taker(to.Exchange).Mul(to.Bid).Mul(qty)).
		Mul(rate).
		Add(networkFee(network))

	volume := from.Volume24h
	if to.Volume24h.LessThan(volume) {
		volume = to.Volume24h
	}

	return &common.DirectOpportunity{
		ID:                  uuid.New().String(),
		FromExchange:        from.Exchange,
		ToExchange:          to.Exchange,
		MarketType:          from.MarketType,
		Pair:                symbol,
		FromPrice:           from.Ask,
		ToPrice:             to.Bid,
		SpreadAmount:        spread,
		SpreadPercent:       spread.Div(from.Ask).Mul(hundred),
		Volume24h:           volume,
		Quantity:            qty,
		QuoteRate:           rate,
		GrossProfit:         gross,
		Fees:                fees,
		NetProfit:           gross.Sub(fees),
		BestNetwork:         network,
		ConstraintViolation: violated,
		Timestamp:           older(from.Timestamp, to.Timestamp),
	}
}

func directOpportunity(symbol string, from, to *common.PriceTick, p Params, rates *pricestore.ExchangeRates) *common.DirectOpportunity {
	opp := EvaluateDirect(symbol, from, to, p, rates)
	if opp == nil {
		return nil
	}
	if !opp.NetProfit.IsPositive() || opp.SpreadPercent.LessThan(p.MinSpreadPercent) {
		return nil
	}
	return opp
}

// quoteRate 1 单位计价货币折合的 USDT
func quoteRate(symbol string, rates *pricestore.ExchangeRates) (decimal.Decimal, bool) {
	_, quote, err := common.SplitCanonical(symbol)
	if err != nil {
		return decimal.Zero, false
	}
	r, ok := rates.GetRate(common.QuoteCurrency(quote))
	if !ok || !r.Rate.IsPositive() {
		return decimal.Zero, false
	}
	return r.Rate, true
}
