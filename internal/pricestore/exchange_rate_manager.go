package pricestore

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/pkg/common"
)

// ReferenceCurrency 投入金额、网络费和利润统一使用的计价货币
const ReferenceCurrency = common.QuoteCurrencyUSDT

// stableQuotes 推导汇率时优先使用的稳定币报价，USDT 在前
var stableQuotes = []common.QuoteCurrency{
	common.QuoteCurrencyUSDT,
	common.QuoteCurrencyUSDC,
	common.QuoteCurrencyFDUSD,
	common.QuoteCurrencyUSDE,
	common.QuoteCurrencyUSD,
}

// ExchangeRate 汇率信息
type ExchangeRate struct {
	Currency      common.QuoteCurrency `json:"currency"`
	Rate          decimal.Decimal      `json:"rate"`   // 1 单位 Currency 值多少 USDT
	Source        string               `json:"source"` // 如 "BTC/USDT mid x2"
	LastUpdated   time.Time            `json:"last_updated"`
	IsDefaultRate bool                 `json:"is_default_rate"` // 稳定币没有行情时按 1.0
}

// ExchangeRates 由一组 tick 推导的汇率表，创建后不可变
// 只使用现货双边报价的中间价；同一交易对多家交易所取平均
type ExchangeRates struct {
	rates map[common.QuoteCurrency]*ExchangeRate
}

type rateSample struct {
	sum    decimal.Decimal
	n      int64
	oldest time.Time
}

func (s *rateSample) add(t *common.PriceTick) {
	s.sum = s.sum.Add(t.Mid())
	s.n++
	if s.oldest.IsZero() || t.Timestamp.Before(s.oldest) {
		s.oldest = t.Timestamp
	}
}

func (s *rateSample) mean() decimal.Decimal {
	return s.sum.Div(decimal.NewFromInt(s.n))
}

// NewExchangeRates 从 tick 集合推导各币种的 USDT 汇率
func NewExchangeRates(ticks map[common.TickKey]*common.PriceTick, at time.Time) *ExchangeRates {
	// base -> quote -> 样本
	samples := make(map[common.QuoteCurrency]map[common.QuoteCurrency]*rateSample)
	for k, t := range ticks {
		if k.MarketType != common.MarketTypeSpot || !t.HasBid() || !t.HasAsk() {
			continue
		}
		base, quote, err := common.SplitCanonical(k.Symbol)
		if err != nil {
			continue
		}
		q := common.QuoteCurrency(quote)
		if !q.IsStablecoin() {
			continue
		}
		b := common.QuoteCurrency(base)
		if samples[b] == nil {
			samples[b] = make(map[common.QuoteCurrency]*rateSample)
		}
		if samples[b][q] == nil {
			samples[b][q] = &rateSample{}
		}
		samples[b][q].add(t)
	}

	r := &ExchangeRates{rates: make(map[common.QuoteCurrency]*ExchangeRate)}
	r.rates[ReferenceCurrency] = &ExchangeRate{Currency: ReferenceCurrency, Rate: decimal.NewFromInt(1), Source: "IDENTITY", LastUpdated: at}

	// 先确定稳定币汇率，其他币种再经由稳定币换算
	for _, qc := range stableQuotes[1:] {
		if s, ok := samples[qc][ReferenceCurrency]; ok {
			r.rates[qc] = &ExchangeRate{
				Currency:    qc,
				Rate:        s.mean(),
				Source:      fmt.Sprintf("%s/%s mid x%d", qc, ReferenceCurrency, s.n),
				LastUpdated: s.oldest,
			}
			continue
		}
		r.rates[qc] = &ExchangeRate{Currency: qc, Rate: decimal.NewFromInt(1), Source: "DEFAULT", LastUpdated: at, IsDefaultRate: true}
	}

	for base, byQuote := range samples {
		if base.IsStablecoin() {
			continue
		}
		for _, qc := range stableQuotes {
			s, ok := byQuote[qc]
			if !ok {
				continue
			}
			via := r.rates[qc]
			r.rates[base] = &ExchangeRate{
				Currency:    base,
				Rate:        s.mean().Mul(via.Rate),
				Source:      fmt.Sprintf("%s/%s mid x%d", base, qc, s.n),
				LastUpdated: s.oldest,
			}
			break
		}
	}
	return r
}

// GetRate 获取汇率副本，无法推导时返回 false
func (r *ExchangeRates) GetRate(currency common.QuoteCurrency) (*ExchangeRate, bool) {
	rate, ok := r.rates[currency]
	if !ok {
		return nil, false
	}
	out := *rate
	return &out, true
}

// ToReference currency 金额 -> USDT
func (r *ExchangeRates) ToReference(amount decimal.Decimal, currency common.QuoteCurrency) (decimal.Decimal, bool) {
	rate, ok := r.rates[currency]
	if !ok {
		return decimal.Zero, false
	}
	return amount.Mul(rate.Rate), true
}

// FromReference USDT 金额 -> currency
func (r *ExchangeRates) FromReference(amount decimal.Decimal, currency common.QuoteCurrency) (decimal.Decimal, bool) {
	rate, ok := r.rates[currency]
	if !ok || !rate.Rate.IsPositive() {
		return decimal.Zero, false
	}
	return amount.Div(rate.Rate), true
}

// GetAllRates 全部汇率，按币种排序
func (r *ExchangeRates) GetAllRates() []ExchangeRate {
	out := make([]ExchangeRate, 0, len(r.rates))
	for _, rate := range r.rates {
		out = append(out, *rate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}
