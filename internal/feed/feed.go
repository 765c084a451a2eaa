// Package feed 对外的套利机会列表与状态查询
package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"crypto-arbitrage-engine/internal/arbitrage"
	"crypto-arbitrage-engine/pkg/common"
)

// ExchangeStatus 单个交易所是否在为检测提供数据，以及原因
type ExchangeStatus struct {
	Exchange      common.Exchange `json:"exchange"`
	State         string          `json:"state"`
	Contributing  bool            `json:"contributing"`
	Reason        string          `json:"reason,omitempty"`
	PublicMode    bool            `json:"public_mode"`
	Subscriptions int             `json:"subscriptions"`
	LastTick      time.Time       `json:"last_tick,omitempty"`
	Reconnects    int64           `json:"reconnects"`
}

// Status 检测是否处于活跃状态
// 没有机会时可以据此区分是市场无价差还是数据源全部失效
type Status struct {
	Enabled         bool                     `json:"enabled"`
	ActiveExchanges []common.Exchange        `json:"active_exchanges"`
	AvailableTypes  []common.OpportunityKind `json:"available_arbitrage_types"`
	Reason          string                   `json:"reason,omitempty"`
	Exchanges       []ExchangeStatus         `json:"exchanges"`
	LastCycle       *arbitrage.CycleInfo     `json:"last_cycle,omitempty"`
}

// StatusSource 提供状态（引擎实现）
type StatusSource interface {
	Status() Status
}

// Feed 最新排名，整体原子替换，读者不会看到半更新的列表
type Feed struct {
	latest atomic.Pointer[common.Ranking]
	status StatusSource

	subMu sync.Mutex
	subs  map[int]chan common.Ranking
	subID int
}

// New 创建 Feed
func New(status StatusSource) *Feed {
	return &Feed{status: status, subs: make(map[int]chan common.Ranking)}
}

// SetStatusSource 设置状态来源
func (f *Feed) SetStatusSource(s StatusSource) { f.status = s }

// Publish 实现 arbitrage.Publisher
func (f *Feed) Publish(ranking common.Ranking) {
	r := ranking
	f.latest.Store(&r)

	f.subMu.Lock()
	defer f.subMu.Unlock()
	for _, ch := range f.subs {
		// 只保留最新一份：满了就丢弃旧的
		select {
		case ch <- r:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- r:
			default:
			}
		}
	}
}

// Latest 最新排名，尚未计算过时返回空排名
func (f *Feed) Latest() common.Ranking {
	if r := f.latest.Load(); r != nil {
		return *r
	}
	return common.Ranking{Opportunities: []common.Opportunity{}}
}

// Opportunities 按类型过滤并截断
func (f *Feed) Opportunities(kind string, limit int) []common.Opportunity {
	return arbitrage.Limit(arbitrage.FilterOpportunities(f.Latest().Opportunities, kind), limit)
}

// Status 当前状态
func (f *Feed) Status() Status {
	if f.status == nil {
		return Status{Reason: "engine not started"}
	}
	return f.status.Status()
}

// Subscribe 推送每次新的排名，慢消费者只会拿到最新一份
func (f *Feed) Subscribe() (<-chan common.Ranking, func()) {
	ch := make(chan common.Ranking, 1)
	f.subMu.Lock()
	id := f.subID
	f.subID++
	f.subs[id] = ch
	f.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.subMu.Lock()
			delete(f.subs, id)
			f.subMu.Unlock()
			close(ch)
		})
	}
}
