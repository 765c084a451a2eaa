package arbitrage

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/internal/pricestore"
	"crypto-arbitrage-engine/pkg/common"
)

var defaultStartAssets = []string{"USDT", "USDC", "USD"}

// edge 资产兑换：1 个 from 换 rate 个 to
type edge struct {
	to   string
	pair string
	rate decimal.Decimal
	tick *common.PriceTick
}

// buildGraph BASE/QUOTE 报价产生两条边：QUOTE->BASE 按 1/ask 买入，BASE->QUOTE 按 bid 卖出
func buildGraph(ticks []*common.PriceTick) map[string][]edge {
	graph := make(map[string][]edge)
	for _, t := range ticks {
		base, quote, err := common.SplitCanonical(t.Symbol)
		if err != nil || base == quote {
			continue
		}
		if t.HasAsk() {
			graph[quote] = append(graph[quote], edge{to: base, pair: t.Symbol, rate: decimal.NewFromInt(1).Div(t.Ask), tick: t})
		}
		if t.HasBid() {
			graph[base] = append(graph[base], edge{to: quote, pair: t.Symbol, rate: t.Bid, tick: t})
		}
	}
	for _, edges := range graph {
		sort.Slice(edges, func(i, j int) bool { return edges[i].to < edges[j].to })
	}
	return graph
}

// DetectTriangular 单交易所三角套利 A->B->C->A
// 三条边使用三个不同的交易对，A 取自起始资产列表；
// 收益倍数 = 三次兑换汇率之积 * (1-fee)^3 - 1，大于 0 才保留
func DetectTriangular(snap *pricestore.Snapshot, p Params) []*common.TriangularOpportunity {
	starts := p.TriangularStart
	if len(starts) == 0 {
		starts = defaultStartAssets
	}

	var out []*common.TriangularOpportunity
	for _, exchange := range snap.Exchanges() {
		ticks := snap.ByExchange(exchange, common.MarketTypeSpot)
		if len(ticks) < 3 {
			continue
		}
		graph := buildGraph(ticks)
		keep := decimal.NewFromInt(1).Sub(p.Fees.Taker(exchange))
		feeFactor := keep.Mul(keep).Mul(keep)
		seen := make(map[string]bool)

		for _, a := range starts {
			a = strings.ToUpper(a)
			for _, e1 := range graph[a] {
				b := e1.to
				for _, e2 := range graph[b] {
					c := e2.to
					if c == a || c == b {
						continue
					}
					for _, e3 := range graph[c] {
						if e3.to != a {
							continue
						}
						key := cycleKey(a, b, c)
						if seen[key] {
							continue
						}
						seen[key] = true

						product := e1.rate.Mul(e2.rate).Mul(e3.rate)
						multiplier := product.Mul(feeFactor).Sub(decimal.NewFromInt(1))
						if !multiplier.IsPositive() {
							continue
						}
						out = append(out, &common.TriangularOpportunity{
							ID:            uuid.New().String(),
							Exchange:      exchange,
							FirstPair:     e1.pair,
							SecondPair:    e2.pair,
							ThirdPair:     e3.pair,
							Path:          []string{a, b, c, a},
							ProfitPercent: multiplier.Mul(hundred),
							Fees:          product.Sub(product.Mul(feeFactor)).Mul(p.Investment),
							NetProfit:     multiplier.Mul(p.Investment),
							Timestamp:     older(e1.tick.Timestamp, e2.tick.Timestamp, e3.tick.Timestamp),
						})
					}
				}
			}
		}
	}
	return out
}

// cycleKey 同一个环从不同起点出发只算一次（方向不同视为不同的环）
func cycleKey(a, b, c string) string {
	cycle := []string{a, b, c}
	first := 0
	for i := range cycle {
		if cycle[i] < cycle[first] {
			first = i
		}
	}
	return cycle[first] + ">" + cycle[(first+1)%3] + ">" + cycle[(first+2)%3]
}
