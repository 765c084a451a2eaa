// Package symbols 标准 symbol (BASE/QUOTE) 与交易所原生 symbol 的双向映射
package symbols

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"crypto-arbitrage-engine/pkg/common"

	"github.com/benbjohnson/clock"
)

// ErrUnsupported 映射和回退规则都无法解析
var ErrUnsupported = errors.New("unsupported symbol")

// Pair 交易所交易对列表中的一项
type Pair struct {
	Base   string
	Quote  string
	Native string
}

// Normalizer 单个交易所的 symbol 映射缓存
// 交易对列表中的映射是双向的；回退规则得到的别名只缓存 标准->原生 方向，
// 因此列表中的 symbol 往返转换保持不变
type Normalizer struct {
	exchange common.Exchange
	rules    Rules
	clock    clock.Clock

	mu          sync.RWMutex
	toNative    map[string]string // canonical -> native
	toCanonical map[string]string // native -> canonical
	aliases     map[string]string // canonical -> native (回退规则)
	listed      bool
	loadedAt    time.Time
}

// NewNormalizer 创建 symbol 标准化器
func NewNormalizer(exchange common.Exchange, rules Rules, clk clock.Clock) *Normalizer {
	if clk == nil {
		clk = clock.New()
	}
	n := &Normalizer{exchange: exchange, rules: rules, clock: clk}
	n.Reset()
	return n
}

// Load 用交易对列表替换映射（定期刷新时调用）
func (n *Normalizer) Load(pairs []Pair) {
	toNative := make(map[string]string, len(pairs))
	toCanonical := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if p.Base == "" || p.Quote == "" || p.Native == "" {
			continue
		}
		canonical := common.Canonical(p.Base, p.Quote)
		toNative[canonical] = p.Native
		toCanonical[p.Native] = canonical
	}

	n.mu.Lock()
	n.toNative = toNative
	n.toCanonical = toCanonical
	n.aliases = make(map[string]string)
	n.listed = len(pairs) > 0
	n.loadedAt = n.clock.Now()
	n.mu.Unlock()
}

// Reset 清空全部映射（适配器重置时）
func (n *Normalizer) Reset() {
	n.mu.Lock()
	n.toNative = make(map[string]string)
	n.toCanonical = make(map[string]string)
	n.aliases = make(map[string]string)
	n.listed = false
	n.loadedAt = time.Time{}
	n.mu.Unlock()
}

// NeedsRefresh 距离上次加载超过 interval
func (n *Normalizer) NeedsRefresh(interval time.Duration) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return !n.listed || n.clock.Now().Sub(n.loadedAt) >= interval
}

// ToCanonical 原生 -> 标准
func (n *Normalizer) ToCanonical(native string) (string, error) {
	n.mu.RLock()
	canonical, ok := n.toCanonical[native]
	listed := n.listed
	n.mu.RUnlock()
	if ok {
		return canonical, nil
	}
	if listed {
		return "", fmt.Errorf("%w: %s has no %s", ErrUnsupported, n.exchange, native)
	}

	base, quote, ok := n.rules.Parse(native)
	if !ok {
		return "", fmt.Errorf("%w: cannot parse %s symbol %s", ErrUnsupported, n.exchange, native)
	}
	canonical = common.Canonical(base, quote)

	n.mu.Lock()
	n.toCanonical[native] = canonical
	if _, exists := n.toNative[canonical]; !exists {
		n.toNative[canonical] = native
	}
	n.mu.Unlock()
	return canonical, nil
}

// ToNative 标准 -> 原生；未命中时按规则回退（例如 USDT -> USD）
func (n *Normalizer) ToNative(canonical string) (string, error) {
	base, quote, err := common.SplitCanonical(canonical)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	canonical = common.Canonical(base, quote)

	n.mu.RLock()
	native, ok := n.toNative[canonical]
	if !ok {
		native, ok = n.aliases[canonical]
	}
	listed := n.listed
	n.mu.RUnlock()
	if ok {
		return native, nil
	}

	primary := n.rules.Format(base, quote)
	if !listed {
		n.mu.Lock()
		n.toNative[canonical] = primary
		n.toCanonical[primary] = canonical
		n.mu.Unlock()
		return primary, nil
	}

	for _, alias := range n.rules.QuoteAliases(quote) {
		candidate := n.rules.Format(base, alias)
		n.mu.RLock()
		_, tradable := n.toCanonical[candidate]
		n.mu.RUnlock()
		if tradable {
			n.mu.Lock()
			n.aliases[canonical] = candidate
			n.mu.Unlock()
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s does not list %s", ErrUnsupported, n.exchange, canonical)
}

// Tradable 标准 symbol 在该交易所是否可交易（含回退）
func (n *Normalizer) Tradable(canonical string) bool {
	_, err := n.ToNative(canonical)
	return err == nil
}

// Symbols 列表中的全部标准 symbol（排序）
func (n *Normalizer) Symbols() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.toNative))
	for canonical := range n.toNative {
		out = append(out, canonical)
	}
	sort.Strings(out)
	return out
}

// NativeSymbols 列表中的全部原生 symbol（排序）
func (n *Normalizer) NativeSymbols() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.toCanonical))
	for native := range n.toCanonical {
		out = append(out, native)
	}
	sort.Strings(out)
	return out
}
