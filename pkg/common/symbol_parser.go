package common

import (
	"fmt"
	"strings"
)

// CanonicalSeparator 标准symbol分隔符
const CanonicalSeparator = "/"

// SymbolInfo 解析后的symbol信息
type SymbolInfo struct {
	OriginalSymbol string        // 原始symbol (如 ETHUSDC, LITUSDT)
	BaseAsset      string        // 基础资产 (如 ETH, LIT)
	QuoteAsset     QuoteCurrency // 报价货币 (如 USDC, USDT)
}

// ParseSymbol 解析无分隔符的symbol,提取base asset和quote currency
// 按后缀长度从长到短匹配,避免FDUSD被误识别为USD
func ParseSymbol(symbol string) (*SymbolInfo, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	for _, qc := range knownQuotes {
		quoteSuffix := string(qc)
		if strings.HasSuffix(symbol, quoteSuffix) {
			baseAsset := symbol[:len(symbol)-len(quoteSuffix)]
			if baseAsset != "" {
				return &SymbolInfo{
					OriginalSymbol: symbol,
					BaseAsset:      baseAsset,
					QuoteAsset:     qc,
				}, true
			}
		}
	}
	return nil, false
}

// Canonical 生成标准symbol BASE/QUOTE
func Canonical(base, quote string) string {
	return strings.ToUpper(base) + CanonicalSeparator + strings.ToUpper(quote)
}

// SplitCanonical 拆分标准symbol
func SplitCanonical(symbol string) (base, quote string, err error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(symbol)), CanonicalSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid canonical symbol %q", symbol)
	}
	return parts[0], parts[1], nil
}

// ToCanonical 转换为标准symbol
func (si *SymbolInfo) ToCanonical() string {
	return Canonical(si.BaseAsset, string(si.QuoteAsset))
}
