// Package poller REST 拉取工作池：补齐 WebSocket 缺失的报价，并在检测周期前校验价格
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/pkg/common"
)

// Sink 拉取结果写入（价格聚合器）
type Sink interface {
	Publish(tick *common.PriceTick) bool
}

// Target 一个交易所需要拉取的 symbol
type Target struct {
	Adapter      exchange.Adapter
	Symbols      []string
	Futures      bool
	PollInterval time.Duration
}

// task 单个 (交易所, 市场, symbol) 拉取任务
type task struct {
	adapter exchange.Adapter
	symbol  string
	market  common.MarketType
}

// result 任务最终结果（重试之后）
type result struct {
	task task
	err  error
}

// Poller 共享的 REST 工作池
type Poller struct {
	cfg   config.PollerConfig
	sink  Sink
	clock clock.Clock
	log   zerolog.Logger
	stats *StatsManager

	mu       sync.RWMutex
	targets  map[common.Exchange]Target
	excluded map[common.Exchange]error
}

// New 创建工作池
func New(cfg config.PollerConfig, sink Sink, clk clock.Clock, log zerolog.Logger) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Poller{
		cfg:      cfg,
		sink:     sink,
		clock:    clk,
		log:      log,
		stats:    NewStatsManager(),
		targets:  make(map[common.Exchange]Target),
		excluded: make(map[common.Exchange]error),
	}
}

// SetTarget 设置（或替换）交易所的拉取目标
func (p *Poller) SetTarget(t Target) {
	p.mu.Lock()
	p.targets[t.Adapter.Name()] = t
	p.mu.Unlock()
}

// RemoveTarget 移除交易所
func (p *Poller) RemoveTarget(ex common.Exchange) {
	p.mu.Lock()
	delete(p.targets, ex)
	delete(p.excluded, ex)
	p.mu.Unlock()
}

// Stats 拉取统计
func (p *Poller) Stats() *StatsManager { return p.stats }

// Excluded 当前被排除的交易所及原因，下一次成功拉取后清除
func (p *Poller) Excluded() map[common.Exchange]error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[common.Exchange]error, len(p.excluded))
	for ex, err := range p.excluded {
		out[ex] = err
	}
	return out
}

// due 距离上次成功拉取超过 PollInterval 的任务
func (p *Poller) due() []task {
	now := p.clock.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()

	var tasks []task
	for _, t := range p.targets {
		for _, symbol := range t.Symbols {
			if now.Sub(t.Adapter.LastFetch(symbol)) >= t.PollInterval {
				tasks = append(tasks, task{adapter: t.Adapter, symbol: symbol, market: common.MarketTypeSpot})
			}
			if !t.Futures {
				continue
			}
			if _, ok := t.Adapter.(exchange.FuturesAdapter); !ok {
				continue
			}
			key := exchange.FetchKey(symbol, common.MarketTypeFuture)
			if now.Sub(t.Adapter.LastFetch(key)) >= t.PollInterval {
				tasks = append(tasks, task{adapter: t.Adapter, symbol: symbol, market: common.MarketTypeFuture})
			}
		}
	}
	return tasks
}

// Refresh 拉取到期的报价，返回本轮需要排除的交易所
// 连接、接口、限流错误按退避重试有限次数；AUTH_ERROR 与 UNSUPPORTED_SYMBOL 不重试。
// 单个 symbol 不支持或数据过期不会导致整个交易所被排除
func (p *Poller) Refresh(ctx context.Context) map[common.Exchange]error {
	tasks := p.due()
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan task)
	resultCh := make(chan result, len(tasks))

	workers := p.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				resultCh <- result{task: t, err: p.fetch(ctx, t)}
			}
		}()
	}

dispatch:
	for _, t := range tasks {
		select {
		case taskCh <- t:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(taskCh)
	wg.Wait()
	close(resultCh)

	failed := make(map[common.Exchange]error)
	succeeded := make(map[common.Exchange]bool)
	for r := range resultCh {
		ex := r.task.adapter.Name()
		p.stats.RecordFetch(ex, p.clock.Now(), r.err)
		if r.err == nil {
			succeeded[ex] = true
			continue
		}
		if exchange.IsKind(r.err, exchange.KindUnsupportedSymbol) {
			p.log.Debug().Err(r.err).Str("exchange", string(ex)).Str("symbol", r.task.symbol).Msg("rest fetch skipped")
			continue
		}
		if _, ok := failed[ex]; !ok {
			failed[ex] = r.err
		}
	}

	p.mu.Lock()
	for ex := range succeeded {
		if _, stillFailing := failed[ex]; !stillFailing {
			delete(p.excluded, ex)
		}
	}
	for ex, err := range failed {
		p.excluded[ex] = err
		p.log.Warn().Err(err).Str("exchange", string(ex)).Msg("exchange excluded from detection cycle")
	}
	p.mu.Unlock()

	if len(failed) == 0 {
		return nil
	}
	return failed
}

// fetch 单个任务，带有限重试
func (p *Poller) fetch(ctx context.Context, t task) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.InitialBackoff
	eb.MaxInterval = p.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	eb.Clock = p.clock
	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(p.cfg.MaxRetries))
	b = backoff.WithContext(b, ctx)

	op := func() error {
		tick, err := p.fetchOnce(ctx, t)
		if err != nil {
			if exchange.Permanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		p.sink.Publish(tick)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.log.Debug().Err(err).Str("exchange", string(t.adapter.Name())).Str("symbol", t.symbol).
			Str("market", string(t.market)).Dur("retry_in", wait).Msg("rest fetch failed, retrying")
	}
	return backoff.RetryNotify(op, b, notify)
}

func (p *Poller) fetchOnce(ctx context.Context, t task) (*common.PriceTick, error) {
	if t.market == common.MarketTypeFuture {
		return t.adapter.(exchange.FuturesAdapter).FetchFutures(ctx, t.symbol)
	}
	return t.adapter.FetchPrice(ctx, t.symbol)
}
