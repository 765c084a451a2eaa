// Package pricestore 最新价格聚合：每个 (交易所, 市场, symbol) 只保留最新 tick
package pricestore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"crypto-arbitrage-engine/pkg/common"
)

// DefaultStaleAfter 未单独配置的交易所使用
const DefaultStaleAfter = 30 * time.Second

// Observer 指标回调
type Observer interface {
	TickAccepted(exchange string)
	TickRejected(exchange, reason string)
}

// PriceStore 价格数据存储器 - 双索引结构
// 写入只来自 Run 的单一消费循环（或 REST 刷新），读取方拿到的是快照副本
type PriceStore struct {
	clock    clock.Clock
	log      zerolog.Logger
	observer Observer

	mu sync.RWMutex
	// 索引1: (exchange, market, symbol) -> tick
	byKey map[common.TickKey]*common.PriceTick
	// 索引2: symbol -> 各交易所/市场的 tick
	bySymbol   map[string]map[common.TickKey]*common.PriceTick
	lastTick   map[common.Exchange]time.Time
	staleAfter map[common.Exchange]time.Duration
	defStale   time.Duration

	subMu sync.Mutex
	subs  map[int]chan *common.PriceTick
	subID int

	accepted  atomic.Uint64
	outOfDate atomic.Uint64
	invalid   atomic.Uint64
	lastStale atomic.Int64
}

// New 创建价格存储器
func New(clk clock.Clock, log zerolog.Logger, defaultStaleAfter time.Duration) *PriceStore {
	if clk == nil {
		clk = clock.New()
	}
	if defaultStaleAfter <= 0 {
		defaultStaleAfter = DefaultStaleAfter
	}
	return &PriceStore{
		clock:      clk,
		log:        log,
		byKey:      make(map[common.TickKey]*common.PriceTick),
		bySymbol:   make(map[string]map[common.TickKey]*common.PriceTick),
		lastTick:   make(map[common.Exchange]time.Time),
		staleAfter: make(map[common.Exchange]time.Duration),
		defStale:   defaultStaleAfter,
		subs:       make(map[int]chan *common.PriceTick),
	}
}

// SetObserver 设置指标回调
func (ps *PriceStore) SetObserver(o Observer) { ps.observer = o }

// SetStaleAfter 单个交易所的过期阈值（按其更新频率推算）
func (ps *PriceStore) SetStaleAfter(exchange common.Exchange, d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if d <= 0 {
		delete(ps.staleAfter, exchange)
		return
	}
	ps.staleAfter[exchange] = d
}

func (ps *PriceStore) thresholdLocked(exchange common.Exchange) time.Duration {
	if d, ok := ps.staleAfter[exchange]; ok {
		return d
	}
	return ps.defStale
}

// Publish 写入 tick，返回是否被接受
// 时间戳不晚于现有 tick 的直接丢弃，乱序到达不会覆盖新数据
func (ps *PriceStore) Publish(tick *common.PriceTick) bool {
	if tick == nil || !tick.Valid() {
		ps.invalid.Add(1)
		if tick != nil {
			ps.reject(tick, "invalid")
			ps.log.Debug().Str("exchange", string(tick.Exchange)).Str("symbol", tick.Symbol).
				Str("bid", tick.Bid.String()).Str("ask", tick.Ask.String()).Msg("invalid tick rejected")
		}
		return false
	}

	key := tick.Key()
	ps.mu.Lock()
	if existing, ok := ps.byKey[key]; ok && !tick.Timestamp.After(existing.Timestamp) {
		ps.mu.Unlock()
		ps.outOfDate.Add(1)
		ps.reject(tick, "out_of_order")
		return false
	}
	ps.byKey[key] = tick
	if ps.bySymbol[tick.Symbol] == nil {
		ps.bySymbol[tick.Symbol] = make(map[common.TickKey]*common.PriceTick)
	}
	ps.bySymbol[tick.Symbol][key] = tick
	if tick.Timestamp.After(ps.lastTick[tick.Exchange]) {
		ps.lastTick[tick.Exchange] = tick.Timestamp
	}
	ps.mu.Unlock()

	ps.accepted.Add(1)
	if ps.observer != nil {
		ps.observer.TickAccepted(string(tick.Exchange))
	}
	ps.fanout(tick)
	return true
}

func (ps *PriceStore) reject(tick *common.PriceTick, reason string) {
	if ps.observer != nil {
		ps.observer.TickRejected(string(tick.Exchange), reason)
	}
}

// Run 消费适配器的 tick 通道，直到 ctx 取消或通道关闭
func (ps *PriceStore) Run(ctx context.Context, ticks <-chan *common.PriceTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			ps.Publish(tick)
		}
	}
}

// Snapshot 某一时刻的不可变价格集合
type Snapshot struct {
	At    time.Time
	Ticks map[common.TickKey]*common.PriceTick
	Stale int // 因过期被排除的数量

	ratesOnce sync.Once
	rates     *ExchangeRates
}

// Rates 由本快照的 tick 推导的汇率，首次调用时计算
func (s *Snapshot) Rates() *ExchangeRates {
	s.ratesOnce.Do(func() {
		s.rates = NewExchangeRates(s.Ticks, s.At)
	})
	return s.rates
}

// Get 查询单个 tick
func (s *Snapshot) Get(exchange common.Exchange, market common.MarketType, symbol string) (*common.PriceTick, bool) {
	t, ok := s.Ticks[common.TickKey{Exchange: exchange, MarketType: market, Symbol: symbol}]
	return t, ok
}

// BySymbol 按 symbol 分组（指定市场），组内按交易所排序
func (s *Snapshot) BySymbol(market common.MarketType) map[string][]*common.PriceTick {
	out := make(map[string][]*common.PriceTick)
	for k, t := range s.Ticks {
		if k.MarketType == market {
			out[k.Symbol] = append(out[k.Symbol], t)
		}
	}
	for _, ticks := range out {
		sort.Slice(ticks, func(i, j int) bool { return ticks[i].Exchange < ticks[j].Exchange })
	}
	return out
}

// ByExchange 单个交易所某个市场的全部 tick
func (s *Snapshot) ByExchange(exchange common.Exchange, market common.MarketType) []*common.PriceTick {
	var out []*common.PriceTick
	for k, t := range s.Ticks {
		if k.Exchange == exchange && k.MarketType == market {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Exchanges 快照中出现的交易所（排序）
func (s *Snapshot) Exchanges() []common.Exchange {
	seen := make(map[common.Exchange]struct{})
	for k := range s.Ticks {
		seen[k.Exchange] = struct{}{}
	}
	out := make([]common.Exchange, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Without 去掉指定交易所的副本
func (s *Snapshot) Without(excluded map[common.Exchange]bool) *Snapshot {
	if len(excluded) == 0 {
		return s
	}
	out := &Snapshot{At: s.At, Stale: s.Stale, Ticks: make(map[common.TickKey]*common.PriceTick, len(s.Ticks))}
	for k, t := range s.Ticks {
		if !excluded[k.Exchange] {
			out.Ticks[k] = t
		}
	}
	return out
}

// Len tick 数量
func (s *Snapshot) Len() int { return len(s.Ticks) }

// Snapshot 检测用快照，过期 tick 被过滤但不删除
func (ps *PriceStore) Snapshot() *Snapshot {
	snap := ps.freshSnapshot()
	ps.lastStale.Store(int64(snap.Stale))
	return snap
}

// ExchangeRates 当前未过期价格推导的汇率（查询接口使用，不影响统计）
func (ps *PriceStore) ExchangeRates() *ExchangeRates {
	return ps.freshSnapshot().Rates()
}

func (ps *PriceStore) freshSnapshot() *Snapshot {
	now := ps.clock.Now()
	ps.mu.RLock()
	snap := &Snapshot{At: now, Ticks: make(map[common.TickKey]*common.PriceTick, len(ps.byKey))}
	for k, t := range ps.byKey {
		if now.Sub(t.Timestamp) > ps.thresholdLocked(k.Exchange) {
			snap.Stale++
			continue
		}
		snap.Ticks[k] = t
	}
	ps.mu.RUnlock()
	return snap
}

// SnapshotAll 不过滤的完整副本（查询接口使用）
func (ps *PriceStore) SnapshotAll() *Snapshot {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	snap := &Snapshot{At: ps.clock.Now(), Ticks: make(map[common.TickKey]*common.PriceTick, len(ps.byKey))}
	for k, t := range ps.byKey {
		snap.Ticks[k] = t
	}
	return snap
}

// GetPrice 获取特定交易所、市场类型、symbol的价格
func (ps *PriceStore) GetPrice(exchange common.Exchange, market common.MarketType, symbol string) *common.PriceTick {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.byKey[common.TickKey{Exchange: exchange, MarketType: market, Symbol: symbol}]
}

// GetPricesBySymbol 跨交易所的同一 symbol，按交易所、市场排序
func (ps *PriceStore) GetPricesBySymbol(symbol string) []*common.PriceTick {
	ps.mu.RLock()
	out := make([]*common.PriceTick, 0, len(ps.bySymbol[symbol]))
	for _, t := range ps.bySymbol[symbol] {
		out = append(out, t)
	}
	ps.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].MarketType < out[j].MarketType
	})
	return out
}

// GetAllSymbols 全部 symbol（排序）
func (ps *PriceStore) GetAllSymbols() []string {
	ps.mu.RLock()
	out := make([]string, 0, len(ps.bySymbol))
	for s := range ps.bySymbol {
		out = append(out, s)
	}
	ps.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Freshness 单个交易所最近一次 tick 的时间与是否仍在阈值内
type Freshness struct {
	LastTick time.Time     `json:"last_tick"`
	Age      time.Duration `json:"age"`
	Fresh    bool          `json:"fresh"`
}

// ExchangeFreshness 每个交易所的新鲜度（状态接口）
func (ps *PriceStore) ExchangeFreshness() map[common.Exchange]Freshness {
	now := ps.clock.Now()
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make(map[common.Exchange]Freshness, len(ps.lastTick))
	for ex, last := range ps.lastTick {
		age := now.Sub(last)
		out[ex] = Freshness{LastTick: last, Age: age, Fresh: age <= ps.thresholdLocked(ex)}
	}
	return out
}

// Subscribe 订阅被接受的 tick；消费慢时丢弃，不阻塞写入
func (ps *PriceStore) Subscribe(buffer int) (<-chan *common.PriceTick, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan *common.PriceTick, buffer)
	ps.subMu.Lock()
	id := ps.subID
	ps.subID++
	ps.subs[id] = ch
	ps.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			ps.subMu.Lock()
			delete(ps.subs, id)
			ps.subMu.Unlock()
			close(ch)
		})
	}
}

func (ps *PriceStore) fanout(tick *common.PriceTick) {
	ps.subMu.Lock()
	defer ps.subMu.Unlock()
	for _, ch := range ps.subs {
		select {
		case ch <- tick:
		default:
		}
	}
}

// StoreStats 存储统计信息
type StoreStats struct {
	TotalPrices   int                     `json:"total_prices"`
	TotalSymbols  int                     `json:"total_symbols"`
	ByExchange    map[common.Exchange]int `json:"by_exchange"`
	Accepted      uint64                  `json:"accepted"`
	OutOfOrder    uint64                  `json:"out_of_order"`
	Invalid       uint64                  `json:"invalid"`
	StaleExcluded int64                   `json:"stale_excluded"` // 最近一次快照
}

// Stats 获取统计信息
func (ps *PriceStore) Stats() StoreStats {
	ps.mu.RLock()
	stats := StoreStats{
		TotalPrices:  len(ps.byKey),
		TotalSymbols: len(ps.bySymbol),
		ByExchange:   make(map[common.Exchange]int),
	}
	for k := range ps.byKey {
		stats.ByExchange[k.Exchange]++
	}
	ps.mu.RUnlock()

	stats.Accepted = ps.accepted.Load()
	stats.OutOfOrder = ps.outOfDate.Load()
	stats.Invalid = ps.invalid.Load()
	stats.StaleExcluded = ps.lastStale.Load()
	return stats
}
