package symbols

import (
	"strings"

	"crypto-arbitrage-engine/pkg/common"
)

// Rules 交易所原生 symbol 的拼写规则
type Rules interface {
	// Format 标准 base/quote -> 原生 symbol
	Format(base, quote string) string
	// Parse 原生 symbol -> base/quote
	Parse(native string) (base, quote string, ok bool)
	// QuoteAliases 交易所没有该报价货币时按顺序尝试的替代
	QuoteAliases(quote string) []string
}

// ConcatRules BTCUSDT 形式（Binance、Bybit）
type ConcatRules struct {
	Aliases func(quote string) []string
}

func (ConcatRules) Format(base, quote string) string {
	return strings.ToUpper(base + quote)
}

func (ConcatRules) Parse(native string) (string, string, bool) {
	info, ok := common.ParseSymbol(native)
	if !ok {
		return "", "", false
	}
	return info.BaseAsset, string(info.QuoteAsset), true
}

func (r ConcatRules) QuoteAliases(quote string) []string {
	if r.Aliases == nil {
		return nil
	}
	return r.Aliases(quote)
}

// DelimitedRules BTC-USDT 形式（OKX、Coinbase）
type DelimitedRules struct {
	Sep     string
	Suffix  string // 例如 OKX 永续合约 "-SWAP"
	Aliases func(quote string) []string
}

func (r DelimitedRules) Format(base, quote string) string {
	return strings.ToUpper(base) + r.Sep + strings.ToUpper(quote) + r.Suffix
}

func (r DelimitedRules) Parse(native string) (string, string, bool) {
	native = strings.ToUpper(native)
	if r.Suffix != "" {
		if !strings.HasSuffix(native, r.Suffix) {
			return "", "", false
		}
		native = strings.TrimSuffix(native, r.Suffix)
	}
	parts := strings.Split(native, r.Sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (r DelimitedRules) QuoteAliases(quote string) []string {
	if r.Aliases == nil {
		return nil
	}
	return r.Aliases(quote)
}

// USDAliases 稳定币 <-> USD 替换
func USDAliases(quote string) []string {
	aliases := common.QuoteCurrency(strings.ToUpper(quote)).USDAliases()
	out := make([]string, len(aliases))
	for i, a := range aliases {
		out[i] = string(a)
	}
	return out
}
