package exchange

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/internal/ratelimit"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
	"crypto-arbitrage-engine/pkg/logger"
)

// Core 各交易所适配器共用的组件（组合使用）
type Core struct {
	name     common.Exchange
	cfg      config.ExchangeConfig
	log      zerolog.Logger
	clock    clock.Clock
	sink     chan<- *common.PriceTick
	observer Observer

	Limiter *ratelimit.Limiter
	Symbols *symbols.Normalizer
	States  *StateMachine
	Subs    *SubscriptionSet
	Fetches *FetchTracker

	publicMode atomic.Bool
	reconnects atomic.Int64

	mu        sync.Mutex
	lastErr   error
	lastErrAt time.Time

	// 适配器生命周期，Disconnect 时取消进行中的 REST 请求
	lifeMu     sync.Mutex
	life       context.Context
	lifeCancel context.CancelCauseFunc
}

// ErrDisconnected 请求进行中适配器被断开
var ErrDisconnected = errors.New("adapter disconnected")

// NewCore 根据依赖和 symbol 规则组装共用组件
func NewCore(name common.Exchange, deps Deps, rules symbols.Rules) *Core {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	c := &Core{
		name:     name,
		cfg:      deps.Config,
		log:      logger.Component(deps.Logger, "exchange").With().Str("exchange", string(name)).Logger(),
		clock:    clk,
		sink:     deps.Sink,
		observer: deps.Observer,
		Limiter:  ratelimit.New(bucketConfigs(deps.Config.RateLimits), clk),
		Symbols:  symbols.NewNormalizer(name, rules, clk),
		Subs:     NewSubscriptionSet(),
		Fetches:  NewFetchTracker(),
	}
	c.life, c.lifeCancel = context.WithCancelCause(context.Background())
	c.States = NewStateMachine(func(from, to State) {
		c.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	})
	if c.observer != nil {
		c.Limiter.SetObserver(func(category string, waited time.Duration) {
			c.observer.RateLimitWait(string(name), category, waited)
		})
	}
	return c
}

func bucketConfigs(limits []config.RateLimitConfig) []ratelimit.BucketConfig {
	out := make([]ratelimit.BucketConfig, 0, len(limits))
	for _, l := range limits {
		out = append(out, ratelimit.BucketConfig{
			Category:    l.Category,
			MaxRequests: l.MaxRequests,
			TimeWindow:  l.TimeWindow,
			RequestCost: l.RequestCost,
			MaxWait:     l.MaxWait,
		})
	}
	return out
}

func (c *Core) Name() common.Exchange         { return c.name }
func (c *Core) Config() config.ExchangeConfig { return c.cfg }
func (c *Core) Logger() *zerolog.Logger       { return &c.log }
func (c *Core) Clock() clock.Clock            { return c.clock }
func (c *Core) Observer() Observer            { return c.observer }

// Bind 请求 context 同时受适配器生命周期约束，done 必须调用
func (c *Core) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	c.lifeMu.Lock()
	life := c.life
	c.lifeMu.Unlock()

	bound, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(life, func() { cancel(context.Cause(life)) })
	return bound, func() {
		stop()
		cancel(context.Canceled)
	}
}

// CancelInFlight 取消所有进行中的请求，之后的请求使用新的生命周期
func (c *Core) CancelInFlight() {
	c.lifeMu.Lock()
	cancel := c.lifeCancel
	c.life, c.lifeCancel = context.WithCancelCause(context.Background())
	c.lifeMu.Unlock()
	cancel(ErrDisconnected)
}

// Publish 把 tick 推给聚合器，通道满时丢弃
func (c *Core) Publish(tick *common.PriceTick) bool {
	if c.sink == nil || tick == nil {
		return false
	}
	select {
	case c.sink <- tick:
		return true
	default:
		if c.observer != nil {
			c.observer.TickDropped(string(c.name))
		}
		c.log.Debug().Str("symbol", tick.Symbol).Msg("tick channel full, dropping")
		return false
	}
}

// NewTick 构造 tick，ReceivedAt 取本地时钟
func (c *Core) NewTick(symbol string, market common.MarketType, bid, ask, volume decimal.Decimal, ts time.Time, source common.PriceSource) *common.PriceTick {
	now := c.clock.Now()
	if ts.IsZero() {
		ts = now
	}
	return &common.PriceTick{
		Symbol:     symbol,
		Exchange:   c.name,
		MarketType: market,
		Bid:        bid,
		Ask:        ask,
		Volume24h:  volume,
		Timestamp:  ts,
		ReceivedAt: now,
		Source:     source,
	}
}

// Stale 交易所时间戳是否超过 StaleAfter
func (c *Core) Stale(tick *common.PriceTick) bool {
	return c.cfg.StaleAfter > 0 && c.clock.Now().Sub(tick.Timestamp) > c.cfg.StaleAfter
}

// NoteStale STALE_DATA 只记录不返回，由聚合器的快照过滤
func (c *Core) NoteStale(tick *common.PriceTick) {
	if !c.Stale(tick) {
		return
	}
	c.log.Debug().Str("kind", string(KindStaleData)).Str("symbol", tick.Symbol).
		Dur("age", c.clock.Now().Sub(tick.Timestamp)).Msg("fetched tick is already stale")
}

// Native 标准 -> 原生，错误已归类
func (c *Core) Native(canonical string) (string, error) {
	native, err := c.Symbols.ToNative(canonical)
	if err != nil {
		return "", Wrap(c.name, "denormalize "+canonical, err)
	}
	return native, nil
}

// Canonical 原生 -> 标准，错误已归类
func (c *Core) Canonical(native string) (string, error) {
	canonical, err := c.Symbols.ToCanonical(native)
	if err != nil {
		return "", Wrap(c.name, "normalize "+native, err)
	}
	return canonical, nil
}

// Targets 推送消息里的原生 symbol 对应的订阅，未订阅的消息忽略
func (c *Core) Targets(native string) []string {
	return c.Subs.Canonicals(native)
}

// RecordError 记录最近一次错误（状态接口展示）
func (c *Core) RecordError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	c.lastErrAt = c.clock.Now()
	c.mu.Unlock()
}

// RecordReconnect 重连计数
func (c *Core) RecordReconnect() {
	c.reconnects.Add(1)
	if c.observer != nil {
		c.observer.Reconnect(string(c.name))
	}
}

// SetPublicMode 凭证失效后只用公开接口
func (c *Core) SetPublicMode(err error) {
	if c.publicMode.CompareAndSwap(false, true) {
		c.log.Warn().Err(err).Msg("credentials rejected, falling back to public endpoints")
	}
}

// PublicMode 是否已降级为公开接口
func (c *Core) PublicMode() bool { return c.publicMode.Load() }

// Health 当前健康信息
func (c *Core) Health() Health {
	h := Health{
		Exchange:      c.name,
		State:         c.States.Current(),
		PublicMode:    c.PublicMode(),
		Subscriptions: c.Subs.Len(),
		Reconnects:    c.reconnects.Load(),
	}
	c.mu.Lock()
	if c.lastErr != nil {
		h.LastError = c.lastErr.Error()
		h.LastErrorAt = c.lastErrAt
	}
	c.mu.Unlock()
	return h
}

// SubscriptionSet 原生 symbol -> 订阅它的标准 symbol
// 报价货币回退时多个标准 symbol 可能共用一个原生 symbol
type SubscriptionSet struct {
	mu       sync.RWMutex
	byNative map[string]map[string]struct{}
	toNative map[string]string
}

// NewSubscriptionSet 空订阅集合
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{
		byNative: make(map[string]map[string]struct{}),
		toNative: make(map[string]string),
	}
}

// Add 返回该原生 symbol 是否首次出现（需要发送订阅消息）
func (s *SubscriptionSet) Add(canonical, native string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.toNative[canonical]; ok {
		return false
	}
	s.toNative[canonical] = native
	set, exists := s.byNative[native]
	if !exists {
		set = make(map[string]struct{})
		s.byNative[native] = set
	}
	set[canonical] = struct{}{}
	return !exists
}

// Remove 返回原生 symbol 以及它是否已无订阅者（需要发送取消订阅消息）
func (s *SubscriptionSet) Remove(canonical string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	native, ok := s.toNative[canonical]
	if !ok {
		return "", false
	}
	delete(s.toNative, canonical)
	set := s.byNative[native]
	delete(set, canonical)
	if len(set) == 0 {
		delete(s.byNative, native)
		return native, true
	}
	return native, false
}

// Has 标准 symbol 是否已订阅
func (s *SubscriptionSet) Has(canonical string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.toNative[canonical]
	return ok
}

// Canonicals 原生 symbol 对应的标准 symbol（排序）
func (s *SubscriptionSet) Canonicals(native string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.byNative[native]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Natives 全部已订阅的原生 symbol（重连后重新订阅用）
func (s *SubscriptionSet) Natives() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byNative))
	for n := range s.byNative {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Symbols 全部已订阅的标准 symbol
func (s *SubscriptionSet) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.toNative))
	for c := range s.toNative {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len 订阅的标准 symbol 数
func (s *SubscriptionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.toNative)
}

// FetchKey 取价记录的键，合约与现货分开
func FetchKey(symbol string, market common.MarketType) string {
	if market == common.MarketTypeFuture {
		return symbol + "@" + string(market)
	}
	return symbol
}

// FetchTracker 每个 symbol 最近一次成功取价时间
type FetchTracker struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

// NewFetchTracker 空记录
func NewFetchTracker() *FetchTracker {
	return &FetchTracker{last: make(map[string]time.Time)}
}

// Record 记录成功时间
func (f *FetchTracker) Record(key string, at time.Time) {
	f.mu.Lock()
	f.last[key] = at
	f.mu.Unlock()
}

// Last 从未成功返回零值
func (f *FetchTracker) Last(key string) time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.last[key]
}
