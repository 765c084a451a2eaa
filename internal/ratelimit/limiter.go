// Package ratelimit 每个交易所适配器、每类接口一个令牌桶
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// DefaultCategory 未配置的类别都落到默认桶
const DefaultCategory = "default"

// 常用接口类别
const (
	CategoryOrderbook = "orderbook"
	CategoryAccount   = "account"
	CategorySubscribe = "subscribe"
)

// ErrRateLimited 等待时间超过上限
var ErrRateLimited = errors.New("rate limited")

// BucketConfig { maxRequests, timeWindow, requestCost }
type BucketConfig struct {
	Category    string
	MaxRequests int
	TimeWindow  time.Duration
	RequestCost int
	MaxWait     time.Duration
}

// Bucket 令牌桶: 容量 maxRequests，每 timeWindow 补满
// 预约在 rate.Limiter 内部串行完成，先到先得
type Bucket struct {
	cfg     BucketConfig
	limiter *rate.Limiter
	clock   clock.Clock
}

// NewBucket 创建令牌桶
func NewBucket(cfg BucketConfig, clk clock.Clock) *Bucket {
	if cfg.RequestCost <= 0 {
		cfg.RequestCost = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	perSecond := float64(cfg.MaxRequests) / cfg.TimeWindow.Seconds()
	return &Bucket{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(perSecond), cfg.MaxRequests),
		clock:   clk,
	}
}

// Acquire 获取 cost 个令牌；cost<=0 时使用类别默认开销
// 有余量立即返回，否则挂起到恰好补足的时刻；超过 MaxWait 返回 ErrRateLimited
func (b *Bucket) Acquire(ctx context.Context, cost int) (time.Duration, error) {
	if cost <= 0 {
		cost = b.cfg.RequestCost
	}
	if cost > b.cfg.MaxRequests {
		return 0, fmt.Errorf("%w: cost %d exceeds bucket %q capacity %d", ErrRateLimited, cost, b.cfg.Category, b.cfg.MaxRequests)
	}

	now := b.clock.Now()
	r := b.limiter.ReserveN(now, cost)
	if !r.OK() {
		return 0, fmt.Errorf("%w: bucket %q cannot grant %d", ErrRateLimited, b.cfg.Category, cost)
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return 0, nil
	}
	if b.cfg.MaxWait > 0 && delay > b.cfg.MaxWait {
		r.CancelAt(now)
		return 0, fmt.Errorf("%w: bucket %q needs %s (max %s)", ErrRateLimited, b.cfg.Category, delay, b.cfg.MaxWait)
	}

	timer := b.clock.Timer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return delay, nil
	case <-ctx.Done():
		r.CancelAt(b.clock.Now())
		return 0, ctx.Err()
	}
}

// Config 桶配置
func (b *Bucket) Config() BucketConfig {
	return b.cfg
}

// WaitObserver 记录等待时长（指标）
type WaitObserver func(category string, waited time.Duration)

// Limiter 单个适配器的全部令牌桶
type Limiter struct {
	mu       sync.RWMutex
	buckets  map[string]*Bucket
	observer WaitObserver
}

// New 根据配置创建；没有 default 类别时补一个宽松的默认桶
func New(configs []BucketConfig, clk clock.Clock) *Limiter {
	l := &Limiter{buckets: make(map[string]*Bucket, len(configs)+1)}
	for _, cfg := range configs {
		if cfg.Category == "" {
			cfg.Category = DefaultCategory
		}
		l.buckets[cfg.Category] = NewBucket(cfg, clk)
	}
	if _, ok := l.buckets[DefaultCategory]; !ok {
		l.buckets[DefaultCategory] = NewBucket(BucketConfig{
			Category:    DefaultCategory,
			MaxRequests: 10,
			TimeWindow:  time.Second,
			RequestCost: 1,
			MaxWait:     10 * time.Second,
		}, clk)
	}
	return l
}

// SetObserver 设置等待观察者
func (l *Limiter) SetObserver(o WaitObserver) {
	l.mu.Lock()
	l.observer = o
	l.mu.Unlock()
}

// Acquire 在指定类别上获取令牌
func (l *Limiter) Acquire(ctx context.Context, category string, cost int) error {
	b := l.Bucket(category)
	waited, err := b.Acquire(ctx, cost)

	l.mu.RLock()
	observer := l.observer
	l.mu.RUnlock()
	if observer != nil && err == nil {
		observer(b.cfg.Category, waited)
	}
	return err
}

// Bucket 按类别取桶，未知类别返回默认桶
func (l *Limiter) Bucket(category string) *Bucket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.buckets[category]; ok {
		return b
	}
	return l.buckets[DefaultCategory]
}
