// Package engine 组装适配器、价格聚合器、REST 工作池、检测器与 Feed
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/internal/arbitrage"
	"crypto-arbitrage-engine/internal/credentials"
	"crypto-arbitrage-engine/internal/exchange"
	_ "crypto-arbitrage-engine/internal/exchange/binance"
	_ "crypto-arbitrage-engine/internal/exchange/bybit"
	_ "crypto-arbitrage-engine/internal/exchange/coinbase"
	_ "crypto-arbitrage-engine/internal/exchange/okx"
	"crypto-arbitrage-engine/internal/feed"
	"crypto-arbitrage-engine/internal/journal"
	"crypto-arbitrage-engine/internal/metrics"
	"crypto-arbitrage-engine/internal/poller"
	"crypto-arbitrage-engine/internal/pricestore"
	"crypto-arbitrage-engine/pkg/common"
	"crypto-arbitrage-engine/pkg/logger"
)

// Options 可替换的依赖
type Options struct {
	Clock       clock.Clock
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Credentials credentials.Provider
	// Factory 默认使用注册表
	Factory exchange.Factory
}

// member 一个已创建的交易所
type member struct {
	cfg     config.ExchangeConfig
	adapter exchange.Adapter

	mu       sync.Mutex
	symbols  []string // 可交易的配置 symbol
	setupErr error
}

func (m *member) tradable() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.symbols))
	for _, s := range m.symbols {
		out[s] = true
	}
	return out
}

func (m *member) setError(err error) {
	m.mu.Lock()
	m.setupErr = err
	m.mu.Unlock()
}

func (m *member) err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setupErr
}

// Engine 进程内唯一的检测引擎
type Engine struct {
	cfg     *config.Config
	current atomic.Pointer[config.Config] // 检测参数每个周期从这里读取
	clock   clock.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics

	ticks    chan *common.PriceTick
	Store    *pricestore.PriceStore
	Poller   *poller.Poller
	Detector *arbitrage.Detector
	Feed     *feed.Feed

	members  []*member
	buildErr map[common.Exchange]error

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CredentialsFromConfig 配置文件中的凭证优先，其次是环境变量
func CredentialsFromConfig(cfg *config.Config) credentials.Provider {
	static := make(credentials.Static, len(cfg.Credentials))
	for name, c := range cfg.Credentials {
		static[name] = credentials.Credentials{APIKey: c.APIKey, APISecret: c.APISecret, Passphrase: c.Passphrase}
	}
	return credentials.Chain{static, credentials.Env{}}
}

// New 根据配置创建引擎；单个交易所创建失败只记录，不影响其他交易所
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Credentials == nil {
		opts.Credentials = CredentialsFromConfig(cfg)
	}
	if opts.Factory == nil {
		opts.Factory = exchange.New
	}

	e := &Engine{
		cfg:      cfg,
		clock:    opts.Clock,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		ticks:    make(chan *common.PriceTick, cfg.TickBuffer),
		buildErr: make(map[common.Exchange]error),
	}

	e.current.Store(cfg)

	e.Store = pricestore.New(e.clock, logger.Component(e.log, "pricestore"), pricestore.DefaultStaleAfter)
	e.Poller = poller.New(cfg.Poller, e.Store, e.clock, logger.Component(e.log, "poller"))
	e.Feed = feed.New(e)

	detectorOpts := arbitrage.DetectorOptions{
		Refresher: e.Poller,
		Clock:     e.clock,
		Logger:    logger.Component(e.log, "detector"),
	}
	if e.metrics != nil {
		e.Store.SetObserver(e.metrics)
		detectorOpts.Observer = e.metrics
	}
	e.Detector = arbitrage.NewDetector(e.Store, arbitrage.ConfigParams{Load: e.Config}, e.Feed, detectorOpts)

	for _, exCfg := range cfg.EnabledExchanges() {
		id := arbitrage.ExchangeID(exCfg.Name)
		deps := exchange.Deps{
			Config:      exCfg,
			Credentials: opts.Credentials,
			Sink:        e.ticks,
			Logger:      logger.Component(e.log, "exchange").With().Str("exchange", string(id)).Logger(),
			Clock:       e.clock,
		}
		if e.metrics != nil {
			deps.Observer = e.metrics
		}
		adapter, err := opts.Factory(deps)
		if err != nil {
			e.buildErr[id] = err
			e.log.Error().Err(err).Str("exchange", exCfg.Name).Msg("failed to create adapter")
			continue
		}
		e.Store.SetStaleAfter(adapter.Name(), exCfg.StaleAfter)
		e.members = append(e.members, &member{cfg: exCfg, adapter: adapter})
	}
	if len(e.members) == 0 {
		return nil, errors.New("no exchange adapter could be created")
	}
	return e, nil
}

// Config 当前生效的配置
func (e *Engine) Config() *config.Config {
	return e.current.Load()
}

// UpdateDetector 替换检测参数，下一个周期开始时生效
// 检测间隔只在 Start 时读取
func (e *Engine) UpdateDetector(d config.DetectorConfig) error {
	next := *e.Config()
	next.Detector = d
	if err := next.Validate(); err != nil {
		return err
	}
	e.current.Store(&next)
	e.log.Info().Float64("min_spread_percent", d.MinSpreadPercent).Float64("investment", d.InvestmentAmount).
		Strs("enabled_types", d.EnabledTypes).Msg("detector settings updated")
	return nil
}

// Adapters 已创建的适配器
func (e *Engine) Adapters() []exchange.Adapter {
	out := make([]exchange.Adapter, 0, len(e.members))
	for _, m := range e.members {
		out = append(out, m.adapter)
	}
	return out
}

// Adapter 按交易所查询
func (e *Engine) Adapter(ex common.Exchange) (exchange.Adapter, bool) {
	for _, m := range e.members {
		if m.adapter.Name() == ex {
			return m.adapter, true
		}
	}
	return nil, false
}

// Start 启动全部后台任务，立即返回
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return errors.New("engine already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.goRun(func() { e.Store.Run(ctx, e.ticks) })

	if e.cfg.Kafka.Enabled {
		j, err := journal.New(e.cfg.Kafka, logger.Component(e.log, "journal"))
		if err != nil {
			cancel()
			e.cancel = nil
			return fmt.Errorf("kafka journal: %w", err)
		}
		e.goRun(func() {
			j.Run(ctx, e.Store)
			_ = j.Close()
		})
	}
	if e.cfg.Redis.Enabled {
		rp := feed.NewRedisPublisher(e.cfg.Redis, logger.Component(e.log, "redis"))
		e.goRun(func() {
			rp.Run(ctx, e.Feed)
			_ = rp.Close()
		})
	}

	var setup sync.WaitGroup
	for _, m := range e.members {
		m := m
		setup.Add(1)
		e.goRun(func() {
			e.setupMember(ctx, m, setup.Done)
		})
	}
	// 首个周期需要初始的 symbol 列表和订阅
	setup.Wait()

	e.goRun(func() { e.refreshSymbols(ctx) })
	e.Detector.Start(ctx)
	e.log.Info().Int("exchanges", len(e.members)).Msg("engine started")
	return nil
}

func (e *Engine) goRun(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// setupMember 加载 symbol、登记订阅和 REST 目标，然后在后台连接 WebSocket（带退避）
func (e *Engine) setupMember(ctx context.Context, m *member, ready func()) {
	log := e.log.With().Str("exchange", string(m.adapter.Name())).Logger()

	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if _, err := m.adapter.SupportedSymbols(listCtx); err != nil {
		log.Warn().Err(err).Msg("symbol listing unavailable, using naming rules")
	}
	cancel()

	e.syncSymbols(ctx, m, log)
	ready()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.MaxInterval = time.Minute
	eb.MaxElapsedTime = 0
	connect := func() error {
		err := m.adapter.Connect(ctx)
		if err != nil && exchange.Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		m.setError(err)
		log.Warn().Err(err).Dur("retry_in", wait).Msg("connect failed")
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(eb, ctx), notify); err != nil {
		if ctx.Err() == nil {
			m.setError(err)
			log.Error().Err(err).Msg("giving up on websocket, REST polling only")
		}
		return
	}
	m.setError(nil)
}

// syncSymbols 按交易所当前的交易对列表更新订阅和 REST 目标
// 新上线的配置 symbol 被订阅，下线的取消订阅；一个都不可交易时移出 REST 轮询
func (e *Engine) syncSymbols(ctx context.Context, m *member, log zerolog.Logger) {
	prev := m.tradable()
	var tradable []string
	for _, symbol := range m.cfg.Symbols {
		if prev[symbol] {
			if _, err := m.adapter.DenormalizeSymbol(symbol); exchange.IsKind(err, exchange.KindUnsupportedSymbol) {
				if err := m.adapter.Unsubscribe(ctx, symbol); err != nil {
					log.Warn().Err(err).Str("symbol", symbol).Msg("unsubscribe failed")
				}
				log.Info().Str("symbol", symbol).Msg("symbol delisted, dropped")
				continue
			}
			tradable = append(tradable, symbol)
			continue
		}
		if err := m.adapter.Subscribe(ctx, symbol); err != nil {
			if exchange.IsKind(err, exchange.KindUnsupportedSymbol) {
				log.Debug().Str("symbol", symbol).Msg("symbol not listed, skipped")
				continue
			}
			log.Warn().Err(err).Str("symbol", symbol).Msg("subscribe failed")
		}
		tradable = append(tradable, symbol)
	}

	m.mu.Lock()
	m.symbols = tradable
	m.mu.Unlock()

	if len(tradable) == 0 {
		e.Poller.RemoveTarget(m.adapter.Name())
		log.Warn().Msg("no configured symbol is tradable")
		return
	}
	e.Poller.SetTarget(poller.Target{
		Adapter:      m.adapter,
		Symbols:      tradable,
		Futures:      m.cfg.Futures,
		PollInterval: m.cfg.PollInterval,
	})
}

// refreshSymbols 按各交易所 SymbolRefresh 周期刷新交易对列表
func (e *Engine) refreshSymbols(ctx context.Context) {
	interval := time.Hour
	for _, m := range e.members {
		if m.cfg.SymbolRefresh > 0 && m.cfg.SymbolRefresh < interval {
			interval = m.cfg.SymbolRefresh
		}
	}
	ticker := e.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range e.members {
				log := e.log.With().Str("exchange", string(m.adapter.Name())).Logger()
				listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				_, err := m.adapter.SupportedSymbols(listCtx)
				cancel()
				if err != nil {
					log.Warn().Err(err).Msg("symbol refresh failed")
					continue
				}
				e.syncSymbols(ctx, m, log)
			}
		}
	}
}

// Stop 停止检测器（等待当前周期），断开全部适配器
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}

	e.Detector.Stop()
	cancel()
	for _, m := range e.members {
		if err := m.adapter.Disconnect(); err != nil {
			e.log.Warn().Err(err).Str("exchange", string(m.adapter.Name())).Msg("disconnect failed")
		}
	}
	e.wg.Wait()
	e.log.Info().Msg("engine stopped")
}

// Status 实现 feed.StatusSource
func (e *Engine) Status() feed.Status {
	freshness := e.Store.ExchangeFreshness()
	excluded := e.Poller.Excluded()
	params := arbitrage.ParamsFromConfig(e.Config())

	status := feed.Status{LastCycle: e.Detector.LastCycle()}
	futuresActive := false

	for _, m := range e.members {
		h := m.adapter.Health()
		ex := m.adapter.Name()
		fresh := freshness[ex]
		es := feed.ExchangeStatus{
			Exchange:      ex,
			State:         h.State.String(),
			PublicMode:    h.PublicMode,
			Subscriptions: h.Subscriptions,
			LastTick:      fresh.LastTick,
			Reconnects:    h.Reconnects,
		}
		es.Contributing, es.Reason = contribution(h, fresh, excluded[ex], m.err())
		if es.Contributing {
			status.ActiveExchanges = append(status.ActiveExchanges, ex)
			if m.cfg.Futures {
				futuresActive = true
			}
		}
		if e.metrics != nil {
			e.metrics.SetContributing(string(ex), es.Contributing)
		}
		status.Exchanges = append(status.Exchanges, es)
	}
	for ex, err := range e.buildErr {
		status.Exchanges = append(status.Exchanges, feed.ExchangeStatus{
			Exchange: ex,
			State:    exchange.StateDisconnected.String(),
			Reason:   "adapter unavailable: " + err.Error(),
		})
	}
	sort.Slice(status.Exchanges, func(i, j int) bool { return status.Exchanges[i].Exchange < status.Exchanges[j].Exchange })

	active := len(status.ActiveExchanges)
	if params.Enabled(common.KindDirect) && active >= 2 {
		status.AvailableTypes = append(status.AvailableTypes, common.KindDirect)
	}
	if params.Enabled(common.KindTriangular) && active >= 1 {
		status.AvailableTypes = append(status.AvailableTypes, common.KindTriangular)
	}
	if params.Enabled(common.KindFutures) && futuresActive {
		status.AvailableTypes = append(status.AvailableTypes, common.KindFutures)
	}
	status.Enabled = len(status.AvailableTypes) > 0

	switch {
	case active == 0:
		status.Reason = "no exchange is delivering fresh prices"
	case !status.Enabled:
		status.Reason = fmt.Sprintf("insufficient connected exchanges: %d active", active)
	case active < 2:
		status.Reason = "direct arbitrage needs at least 2 active exchanges"
	}
	return status
}

// contribution 交易所是否为检测提供数据，以及原因
func contribution(h exchange.Health, fresh pricestore.Freshness, restErr, setupErr error) (bool, string) {
	switch {
	case restErr != nil:
		return false, "rest failures: " + restErr.Error()
	case fresh.LastTick.IsZero():
		if setupErr != nil {
			return false, "no data: " + setupErr.Error()
		}
		return false, "no data received yet"
	case !fresh.Fresh:
		return false, fmt.Sprintf("stale: last tick %s ago", fresh.Age.Truncate(time.Second))
	}

	var reason string
	switch h.State {
	case exchange.StateDegraded:
		reason = "websocket degraded, reconnecting"
	case exchange.StateDisconnected, exchange.StateConnecting:
		reason = "websocket disconnected, using REST"
	}
	if h.PublicMode {
		if reason != "" {
			reason += "; "
		}
		reason += "auth fallback: public data only"
	}
	return true, reason
}
