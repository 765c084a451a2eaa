package arbitrage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"crypto-arbitrage-engine/internal/pricestore"
	"crypto-arbitrage-engine/pkg/common"
)

// Snapshotter 检测使用的价格快照来源
type Snapshotter interface {
	Snapshot() *pricestore.Snapshot
}

// Publisher 接收每个周期的完整排名
type Publisher interface {
	Publish(ranking common.Ranking)
}

// Refresher 周期开始前的 REST 价格校验，返回本周期需要排除的交易所及原因
type Refresher interface {
	Refresh(ctx context.Context) map[common.Exchange]error
}

// CycleObserver 指标回调
type CycleObserver interface {
	DetectorCycle(duration time.Duration, counts map[common.OpportunityKind]int, stale int)
	DetectorSkipped()
}

// CycleInfo 最近一个周期的概况（状态查询）
type CycleInfo struct {
	Cycle     uint64                         `json:"cycle"`
	StartedAt time.Time                      `json:"started_at"`
	Duration  time.Duration                  `json:"duration"`
	Ticks     int                            `json:"ticks"`
	Stale     int                            `json:"stale"`
	Counts    map[common.OpportunityKind]int `json:"counts"`
	Excluded  map[common.Exchange]string     `json:"excluded,omitempty"`
	Skipped   uint64                         `json:"skipped"`
}

// Detector 定时检测器
// 上一个周期尚未结束时到期的 tick 直接跳过，不排队
type Detector struct {
	store     Snapshotter
	params    ParamsSource
	publisher Publisher
	refresher Refresher
	observer  CycleObserver
	clock     clock.Clock
	log       zerolog.Logger

	running atomic.Bool
	cycle   atomic.Uint64
	skipped atomic.Uint64
	last    atomic.Pointer[CycleInfo]

	mu     sync.Mutex
	cancel context.CancelFunc
	loop   sync.WaitGroup
	cycles sync.WaitGroup
}

// DetectorOptions 可选依赖
type DetectorOptions struct {
	Refresher Refresher
	Observer  CycleObserver
	Clock     clock.Clock
	Logger    zerolog.Logger
}

// NewDetector 创建检测器
func NewDetector(store Snapshotter, params ParamsSource, publisher Publisher, opts DetectorOptions) *Detector {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Detector{
		store:     store,
		params:    params,
		publisher: publisher,
		refresher: opts.Refresher,
		observer:  opts.Observer,
		clock:     opts.Clock,
		log:       opts.Logger,
	}
}

// Start 启动周期任务，间隔取启动时的参数
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	interval := d.params.Params().Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.loop.Add(1)
	go func() {
		defer d.loop.Done()
		ticker := d.clock.Ticker(interval)
		defer ticker.Stop()

		d.trigger()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.trigger()
			}
		}
	}()
	d.log.Info().Dur("interval", interval).Msg("arbitrage detector started")
}

// trigger 没有进行中的周期时启动一个新周期
func (d *Detector) trigger() {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		if d.observer != nil {
			d.observer.DetectorSkipped()
		}
		d.log.Warn().Msg("previous detection cycle still running, tick skipped")
		return
	}
	d.cycles.Add(1)
	go func() {
		defer d.cycles.Done()
		defer d.running.Store(false)
		d.RunCycle(context.Background())
	}()
}

// Stop 停止调度，等待进行中的周期完成
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.loop.Wait()
	d.cycles.Wait()
	d.log.Info().Msg("arbitrage detector stopped")
}

// RunCycle 同步执行一个完整周期并发布排名
func (d *Detector) RunCycle(ctx context.Context) common.Ranking {
	started := d.clock.Now()
	p := d.params.Params()
	n := d.cycle.Add(1)

	var excluded map[common.Exchange]string
	if d.refresher != nil {
		refreshCtx := ctx
		if p.RefreshTimeout > 0 {
			var cancel context.CancelFunc
			refreshCtx, cancel = context.WithTimeout(ctx, p.RefreshTimeout)
			defer cancel()
		}
		for ex, err := range d.refresher.Refresh(refreshCtx) {
			if excluded == nil {
				excluded = make(map[common.Exchange]string)
			}
			excluded[ex] = err.Error()
		}
	}

	snap := d.store.Snapshot()
	if len(excluded) > 0 {
		skip := make(map[common.Exchange]bool, len(excluded))
		for ex := range excluded {
			skip[ex] = true
		}
		snap = snap.Without(skip)
	}

	var direct []*common.DirectOpportunity
	var triangular []*common.TriangularOpportunity
	var futures []*common.FuturesOpportunity
	if p.Enabled(common.KindDirect) {
		direct = DetectDirect(snap, p)
	}
	if p.Enabled(common.KindTriangular) {
		triangular = DetectTriangular(snap, p)
	}
	if p.Enabled(common.KindFutures) {
		futures = DetectFutures(snap, p)
	}

	ranking := common.Ranking{
		Cycle:         n,
		ComputedAt:    d.clock.Now(),
		SnapshotAt:    snap.At,
		Opportunities: Rank(direct, triangular, futures),
	}
	if d.publisher != nil {
		d.publisher.Publish(ranking)
	}

	counts := map[common.OpportunityKind]int{
		common.KindDirect:     len(direct),
		common.KindTriangular: len(triangular),
		common.KindFutures:    len(futures),
	}
	info := &CycleInfo{
		Cycle:     n,
		StartedAt: started,
		Duration:  d.clock.Since(started),
		Ticks:     snap.Len(),
		Stale:     snap.Stale,
		Counts:    counts,
		Excluded:  excluded,
		Skipped:   d.skipped.Load(),
	}
	d.last.Store(info)
	if d.observer != nil {
		d.observer.DetectorCycle(info.Duration, counts, snap.Stale)
	}

	evt := d.log.Debug().Uint64("cycle", n).Int("ticks", snap.Len()).Int("stale", snap.Stale).
		Int("direct", len(direct)).Int("triangular", len(triangular)).Int("futures", len(futures)).
		Dur("took", info.Duration)
	if len(excluded) > 0 {
		evt = evt.Strs("excluded", excludedNames(excluded))
	}
	evt.Msg("detection cycle done")
	return ranking
}

// LastCycle 最近一个完成的周期，未运行过返回 nil
func (d *Detector) LastCycle() *CycleInfo { return d.last.Load() }

// Skipped 被跳过的 tick 数
func (d *Detector) Skipped() uint64 { return d.skipped.Load() }

func excludedNames(m map[common.Exchange]string) []string {
	out := make([]string, 0, len(m))
	for ex := range m {
		out = append(out, string(ex))
	}
	sort.Strings(out)
	return out
}
