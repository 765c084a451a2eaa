package ui

import (
	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/pkg/common"
)

var hundred = decimal.NewFromInt(100)

// spreadOf 排序用的百分比：三角套利取收益率
func spreadOf(opp common.Opportunity) decimal.Decimal {
	switch opp.Kind {
	case common.KindDirect:
		return opp.Direct.SpreadPercent
	case common.KindTriangular:
		return opp.Triangular.ProfitPercent
	case common.KindFutures:
		return opp.Futures.SpreadPercent
	}
	return decimal.Zero
}
