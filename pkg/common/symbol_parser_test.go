package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		in    string
		base  string
		quote QuoteCurrency
	}{
		{"BTCUSDT", "BTC", QuoteCurrencyUSDT},
		{"ethfdusd", "ETH", QuoteCurrencyFDUSD},
		{"SOLUSDC", "SOL", QuoteCurrencyUSDC},
		{"ETHBTC", "ETH", QuoteCurrencyBTC},
		{"BTCUSD", "BTC", QuoteCurrencyUSD},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			info, ok := ParseSymbol(tt.in)
			require.True(t, ok)
			assert.Equal(t, tt.base, info.BaseAsset)
			assert.Equal(t, tt.quote, info.QuoteAsset)
		})
	}

	_, ok := ParseSymbol("USDT")
	assert.False(t, ok)
	_, ok = ParseSymbol("FOOBAR")
	assert.False(t, ok)
}

func TestSplitCanonical(t *testing.T) {
	base, quote, err := SplitCanonical("btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	for _, bad := range []string{"BTCUSDT", "/USDT", "BTC/", "A/B/C"} {
		_, _, err := SplitCanonical(bad)
		assert.Error(t, err, bad)
	}
}
