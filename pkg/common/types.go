package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketType 市场类型
type MarketType string

const (
	MarketTypeSpot   MarketType = "SPOT"
	MarketTypeFuture MarketType = "FUTURE"
)

// Exchange 交易所名称
type Exchange string

const (
	ExchangeBinance  Exchange = "BINANCE"
	ExchangeOKX      Exchange = "OKX"
	ExchangeBybit    Exchange = "BYBIT"
	ExchangeCoinbase Exchange = "COINBASE"
)

// PriceSource 价格数据来源
type PriceSource string

const (
	PriceSourceREST      PriceSource = "REST"
	PriceSourceWebSocket PriceSource = "WEBSOCKET"
)

// PriceTick 标准化的最优买卖价
// 创建后不可修改，同一 key 的新 tick 直接替换旧 tick
type PriceTick struct {
	Symbol     string          `json:"symbol"` // 标准symbol: BASE/QUOTE
	Exchange   Exchange        `json:"exchange"`
	MarketType MarketType      `json:"market_type"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Volume24h  decimal.Decimal `json:"volume_24h"`
	Timestamp  time.Time       `json:"timestamp"`   // 交易所时间
	ReceivedAt time.Time       `json:"received_at"` // 本地接收时间
	Source     PriceSource     `json:"source"`

	// 仅合约
	FundingRate     decimal.Decimal `json:"funding_rate,omitempty"`
	FundingInterval time.Duration   `json:"funding_interval,omitempty"`
}

// HasBid 是否有买价
func (t *PriceTick) HasBid() bool { return t.Bid.IsPositive() }

// HasAsk 是否有卖价
func (t *PriceTick) HasAsk() bool { return t.Ask.IsPositive() }

// Valid 双边都存在时要求 bid <= ask
func (t *PriceTick) Valid() bool {
	if t.Symbol == "" || t.Exchange == "" || t.Timestamp.IsZero() {
		return false
	}
	if !t.HasBid() && !t.HasAsk() {
		return false
	}
	if t.HasBid() && t.HasAsk() {
		return t.Bid.LessThanOrEqual(t.Ask)
	}
	return true
}

// Mid 中间价，单边时返回存在的一边
func (t *PriceTick) Mid() decimal.Decimal {
	switch {
	case t.HasBid() && t.HasAsk():
		return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
	case t.HasBid():
		return t.Bid
	default:
		return t.Ask
	}
}

// Key 聚合器中的唯一键
func (t *PriceTick) Key() TickKey {
	return TickKey{Exchange: t.Exchange, MarketType: t.MarketType, Symbol: t.Symbol}
}

// TickKey (exchange, market, symbol)
type TickKey struct {
	Exchange   Exchange
	MarketType MarketType
	Symbol     string
}

func (k TickKey) String() string {
	return fmt.Sprintf("%s_%s_%s", k.Exchange, k.MarketType, k.Symbol)
}

// Congestion 网络拥堵程度
type Congestion string

const (
	CongestionLow    Congestion = "LOW"
	CongestionMedium Congestion = "MEDIUM"
	CongestionHigh   Congestion = "HIGH"
)

// NetworkInfo 提币网络信息，Fee 以 USDT 计
type NetworkInfo struct {
	Name                 string          `json:"name"`
	Fee                  decimal.Decimal `json:"fee"`
	EstimatedTimeMinutes int             `json:"estimated_time_minutes"`
	Congestion           Congestion      `json:"congestion"`
}

// OpportunityKind 套利类型
type OpportunityKind string

const (
	KindDirect     OpportunityKind = "direct"
	KindTriangular OpportunityKind = "triangular"
	KindFutures    OpportunityKind = "futures"
)

// DirectOpportunity 跨交易所搬砖机会（fromExchange 买入，toExchange 卖出）
type DirectOpportunity struct {
	ID            string          `json:"id"`
	FromExchange  Exchange        `json:"from_exchange"`
	ToExchange    Exchange        `json:"to_exchange"`
	MarketType    MarketType      `json:"market_type"`
	Pair          string          `json:"pair"`
	FromPrice     decimal.Decimal `json:"from_price"` // from.ask
	ToPrice       decimal.Decimal `json:"to_price"`   // to.bid
	SpreadAmount  decimal.Decimal `json:"spread_amount"`
	SpreadPercent decimal.Decimal `json:"spread_percent"`
	Volume24h     decimal.Decimal `json:"volume_24h"`
	Quantity      decimal.Decimal `json:"quantity"`
	QuoteRate     decimal.Decimal `json:"quote_rate"`   // 1 计价货币 = QuoteRate USDT
	GrossProfit   decimal.Decimal `json:"gross_profit"` // 以下金额均为 USDT
	Fees          decimal.Decimal `json:"fees"`
	NetProfit     decimal.Decimal `json:"net_profit"`
	BestNetwork   *NetworkInfo    `json:"best_network,omitempty"`

	// 没有网络满足等待时间/拥堵约束时退回全局最便宜网络
	ConstraintViolation bool      `json:"constraint_violation"`
	Timestamp           time.Time `json:"timestamp"`
}

// TriangularOpportunity 单交易所三角套利
type TriangularOpportunity struct {
	ID            string          `json:"id"`
	Exchange      Exchange        `json:"exchange"`
	FirstPair     string          `json:"first_pair"`
	SecondPair    string          `json:"second_pair"`
	ThirdPair     string          `json:"third_pair"`
	Path          []string        `json:"path"` // 资产路径 A,B,C,A
	ProfitPercent decimal.Decimal `json:"profit_percent"`
	Fees          decimal.Decimal `json:"fees"`
	NetProfit     decimal.Decimal `json:"net_profit"`
	Timestamp     time.Time       `json:"timestamp"`
}

// FuturesOpportunity 期现基差套利（买现货，空合约）
type FuturesOpportunity struct {
	ID              string          `json:"id"`
	Exchange        Exchange        `json:"exchange"`
	Pair            string          `json:"pair"`
	SpotPrice       decimal.Decimal `json:"spot_price"`
	FuturesPrice    decimal.Decimal `json:"futures_price"`
	FundingRate     decimal.Decimal `json:"funding_rate"`
	FundingInterval time.Duration   `json:"funding_interval"`
	SpreadPercent   decimal.Decimal `json:"spread_percent"`
	QuoteRate       decimal.Decimal `json:"quote_rate"`
	Fees            decimal.Decimal `json:"fees"` // USDT
	NetProfit       decimal.Decimal `json:"net_profit"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Opportunity 排名列表中的一项，只有一个变体非空
type Opportunity struct {
	Kind       OpportunityKind        `json:"kind"`
	Direct     *DirectOpportunity     `json:"direct,omitempty"`
	Triangular *TriangularOpportunity `json:"triangular,omitempty"`
	Futures    *FuturesOpportunity    `json:"futures,omitempty"`
}

// NetProfit 排名使用的净利润
func (o Opportunity) NetProfit() decimal.Decimal {
	switch o.Kind {
	case KindDirect:
		return o.Direct.NetProfit
	case KindTriangular:
		return o.Triangular.NetProfit
	case KindFutures:
		return o.Futures.NetProfit
	}
	return decimal.Zero
}

// Timestamp 计算所用价格的时间
func (o Opportunity) Timestamp() time.Time {
	switch o.Kind {
	case KindDirect:
		return o.Direct.Timestamp
	case KindTriangular:
		return o.Triangular.Timestamp
	case KindFutures:
		return o.Futures.Timestamp
	}
	return time.Time{}
}

// Ranking 一个检测周期的完整结果
type Ranking struct {
	Cycle         uint64        `json:"cycle"`
	ComputedAt    time.Time     `json:"computed_at"`
	SnapshotAt    time.Time     `json:"snapshot_at"`
	Opportunities []Opportunity `json:"opportunities"`
}
