// Package arbitrage 套利机会计算：跨所搬砖、三角套利、期现基差
package arbitrage

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/pkg/common"
)

// DefaultTakerFee 未配置费率的交易所
var DefaultTakerFee = decimal.NewFromFloat(0.001)

// FeeSchedule 各交易所 taker 费率（小数，0.001 = 0.1%）
type FeeSchedule map[common.Exchange]decimal.Decimal

// Taker 查询费率
func (f FeeSchedule) Taker(exchange common.Exchange) decimal.Decimal {
	if fee, ok := f[exchange]; ok {
		return fee
	}
	return DefaultTakerFee
}

// Params 一个检测周期使用的参数，周期开始时读取一次，周期内不变
type Params struct {
	Interval            time.Duration
	MinSpreadPercent    decimal.Decimal
	Investment          decimal.Decimal // USDT，按计价货币汇率换算
	MaxWaitMinutes      int
	AllowHighCongestion bool
	Kinds               map[common.OpportunityKind]bool
	Fees                FeeSchedule
	Networks            map[string][]common.NetworkInfo // 资产 -> 可用提币网络
	FuturesHolding      time.Duration
	TriangularStart     []string
	RefreshTimeout      time.Duration
}

// Enabled 该类型是否参与检测
func (p Params) Enabled(kind common.OpportunityKind) bool {
	if len(p.Kinds) == 0 {
		return true
	}
	return p.Kinds[kind]
}

// ParamsSource 每个周期开始时提供参数
type ParamsSource interface {
	Params() Params
}

// StaticParams 固定参数
type StaticParams Params

// Params 实现 ParamsSource
func (s StaticParams) Params() Params { return Params(s) }

// ExchangeID 配置名 -> 交易所标识
func ExchangeID(name string) common.Exchange {
	return common.Exchange(strings.ToUpper(name))
}

// ParamsFromConfig 由配置生成参数
func ParamsFromConfig(cfg *config.Config) Params {
	d := cfg.Detector
	p := Params{
		Interval:            d.Interval,
		MinSpreadPercent:    decimal.NewFromFloat(d.MinSpreadPercent),
		Investment:          decimal.NewFromFloat(d.InvestmentAmount),
		MaxWaitMinutes:      d.MaxWaitMinutes,
		AllowHighCongestion: d.AllowHighCongestion,
		Kinds:               make(map[common.OpportunityKind]bool, len(d.EnabledTypes)),
		Fees:                make(FeeSchedule, len(cfg.Exchanges)),
		Networks:            make(map[string][]common.NetworkInfo, len(cfg.Networks)),
		FuturesHolding:      d.FuturesHoldingPeriod,
		TriangularStart:     d.TriangularStartAssets,
		RefreshTimeout:      d.RefreshTimeout,
	}
	for _, t := range d.EnabledTypes {
		p.Kinds[common.OpportunityKind(strings.ToLower(t))] = true
	}
	for _, ex := range cfg.Exchanges {
		p.Fees[ExchangeID(ex.Name)] = decimal.NewFromFloat(ex.TakerFee)
	}
	for asset, nets := range cfg.Networks {
		infos := make([]common.NetworkInfo, 0, len(nets))
		for _, n := range nets {
			infos = append(infos, common.NetworkInfo{
				Name:                 n.Name,
				Fee:                  decimal.NewFromFloat(n.Fee),
				EstimatedTimeMinutes: n.EstimatedTimeMinutes,
				Congestion:           common.Congestion(strings.ToUpper(n.Congestion)),
			})
		}
		p.Networks[strings.ToUpper(asset)] = infos
	}
	return p
}

// ConfigParams 每次调用都从最新配置生成（配置热更新时替换指针）
type ConfigParams struct {
	Load func() *config.Config
}

// Params 实现 ParamsSource
func (c ConfigParams) Params() Params { return ParamsFromConfig(c.Load()) }
