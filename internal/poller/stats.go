package poller

import (
	"sort"
	"sync"
	"time"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/pkg/common"
)

// ExchangeStats 单个交易所的 REST 拉取统计
type ExchangeStats struct {
	Exchange       common.Exchange  `json:"exchange"`
	TotalFetches   int64            `json:"total_fetches"`
	SuccessFetches int64            `json:"success_fetches"`
	FailedFetches  int64            `json:"failed_fetches"`
	LastSuccess    time.Time        `json:"last_success,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	LastErrorAt    time.Time        `json:"last_error_at,omitempty"`
	ErrorsByKind   map[string]int64 `json:"errors_by_kind,omitempty"`
}

// StatsManager 统计管理器
type StatsManager struct {
	mu    sync.RWMutex
	stats map[common.Exchange]*ExchangeStats
}

// NewStatsManager 创建统计管理器
func NewStatsManager() *StatsManager {
	return &StatsManager{stats: make(map[common.Exchange]*ExchangeStats)}
}

// RecordFetch 记录一次拉取（含重试后的最终结果）
func (sm *StatsManager) RecordFetch(ex common.Exchange, at time.Time, err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	stats, exists := sm.stats[ex]
	if !exists {
		stats = &ExchangeStats{Exchange: ex, ErrorsByKind: make(map[string]int64)}
		sm.stats[ex] = stats
	}

	stats.TotalFetches++
	if err == nil {
		stats.SuccessFetches++
		stats.LastSuccess = at
		return
	}
	stats.FailedFetches++
	stats.LastError = err.Error()
	stats.LastErrorAt = at
	kind := string(exchange.KindOf(err))
	if kind == "" {
		kind = "UNKNOWN"
	}
	stats.ErrorsByKind[kind]++
}

// GetStats 单个交易所的统计副本
func (sm *StatsManager) GetStats(ex common.Exchange) (ExchangeStats, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	stats, ok := sm.stats[ex]
	if !ok {
		return ExchangeStats{}, false
	}
	return copyStats(stats), true
}

// GetAllStats 全部统计（按交易所排序）
func (sm *StatsManager) GetAllStats() []ExchangeStats {
	sm.mu.RLock()
	out := make([]ExchangeStats, 0, len(sm.stats))
	for _, s := range sm.stats {
		out = append(out, copyStats(s))
	}
	sm.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}

func copyStats(s *ExchangeStats) ExchangeStats {
	out := *s
	out.ErrorsByKind = make(map[string]int64, len(s.ErrorsByKind))
	for k, v := range s.ErrorsByKind {
		out.ErrorsByKind[k] = v
	}
	return out
}
