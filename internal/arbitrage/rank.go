package arbitrage

import (
	"sort"
	"strings"

	"crypto-arbitrage-engine/pkg/common"
)

// Rank 合并三类机会，按净利润降序；同利润按时间新者优先
func Rank(direct []*common.DirectOpportunity, triangular []*common.TriangularOpportunity, futures []*common.FuturesOpportunity) []common.Opportunity {
	out := make([]common.Opportunity, 0, len(direct)+len(triangular)+len(futures))
	for _, o := range direct {
		out = append(out, common.Opportunity{Kind: common.KindDirect, Direct: o})
	}
	for _, o := range triangular {
		out = append(out, common.Opportunity{Kind: common.KindTriangular, Triangular: o})
	}
	for _, o := range futures {
		out = append(out, common.Opportunity{Kind: common.KindFutures, Futures: o})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].NetProfit().Cmp(out[j].NetProfit()); c != 0 {
			return c > 0
		}
		return out[i].Timestamp().After(out[j].Timestamp())
	})
	return out
}

// FilterOpportunities 按类型过滤，空或 all 返回原列表
func FilterOpportunities(opportunities []common.Opportunity, filterType string) []common.Opportunity {
	filterType = strings.ToLower(filterType)
	if filterType == "" || filterType == "all" {
		return opportunities
	}

	filtered := make([]common.Opportunity, 0)
	for _, opp := range opportunities {
		if string(opp.Kind) == filterType {
			filtered = append(filtered, opp)
		}
	}
	return filtered
}

// Limit 取前 n 个，n<=0 不限制
func Limit(opportunities []common.Opportunity, n int) []common.Opportunity {
	if n <= 0 || n >= len(opportunities) {
		return opportunities
	}
	return opportunities[:n]
}
