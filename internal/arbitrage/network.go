package arbitrage

import (
	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/pkg/common"
)

// SelectNetwork 选择提币网络
// 在满足等待时间和拥堵要求的网络中取手续费最低的，同价取更快的；
// 没有满足条件的网络时退回全局最便宜的一个，并返回 violated=true
func SelectNetwork(networks []common.NetworkInfo, maxWaitMinutes int, allowHigh bool) (best *common.NetworkInfo, violated bool) {
	if len(networks) == 0 {
		return nil, false
	}

	var acceptable, cheapest *common.NetworkInfo
	for i := range networks {
		n := &networks[i]
		if cheapest == nil || better(n, cheapest) {
			cheapest = n
		}
		if maxWaitMinutes > 0 && n.EstimatedTimeMinutes > maxWaitMinutes {
			continue
		}
		if n.Congestion == common.CongestionHigh && !allowHigh {
			continue
		}
		if acceptable == nil || better(n, acceptable) {
			acceptable = n
		}
	}

	if acceptable != nil {
		out := *acceptable
		return &out, false
	}
	out := *cheapest
	return &out, true
}

func better(a, b *common.NetworkInfo) bool {
	if c := a.Fee.Cmp(b.Fee); c != 0 {
		return c < 0
	}
	return a.EstimatedTimeMinutes < b.EstimatedTimeMinutes
}

// networkFee 未选中网络时为 0
func networkFee(n *common.NetworkInfo) decimal.Decimal {
	if n == nil {
		return decimal.Zero
	}
	return n.Fee
}
