package common

// QuoteCurrency 报价货币类型
type QuoteCurrency string

const (
	QuoteCurrencyUSDT  QuoteCurrency = "USDT"
	QuoteCurrencyUSDC  QuoteCurrency = "USDC"
	QuoteCurrencyUSDE  QuoteCurrency = "USDE"
	QuoteCurrencyFDUSD QuoteCurrency = "FDUSD"
	QuoteCurrencyUSD   QuoteCurrency = "USD"
	QuoteCurrencyBTC   QuoteCurrency = "BTC"
	QuoteCurrencyETH   QuoteCurrency = "ETH"
	QuoteCurrencyEUR   QuoteCurrency = "EUR"
)

// knownQuotes 按后缀长度从长到短排列，避免 FDUSD 被识别为 USD
var knownQuotes = []QuoteCurrency{
	QuoteCurrencyFDUSD,
	QuoteCurrencyUSDT,
	QuoteCurrencyUSDC,
	QuoteCurrencyUSDE,
	QuoteCurrencyUSD,
	QuoteCurrencyBTC,
	QuoteCurrencyETH,
	QuoteCurrencyEUR,
}

// IsStablecoin 判断是否为美元稳定币（含法币USD）
func (qc QuoteCurrency) IsStablecoin() bool {
	switch qc {
	case QuoteCurrencyUSDT, QuoteCurrencyUSDC, QuoteCurrencyUSDE, QuoteCurrencyFDUSD, QuoteCurrencyUSD:
		return true
	default:
		return false
	}
}

// USDAliases 没有该报价货币的交易所可以尝试的替代报价货币
// 例如 Coinbase 没有 USDT 交易对，BTC/USDT 退回到 BTC-USD
func (qc QuoteCurrency) USDAliases() []QuoteCurrency {
	switch qc {
	case QuoteCurrencyUSDT, QuoteCurrencyUSDC, QuoteCurrencyFDUSD:
		return []QuoteCurrency{QuoteCurrencyUSD}
	case QuoteCurrencyUSD:
		return []QuoteCurrency{QuoteCurrencyUSDT, QuoteCurrencyUSDC}
	default:
		return nil
	}
}

// String 实现Stringer接口
func (qc QuoteCurrency) String() string {
	return string(qc)
}
