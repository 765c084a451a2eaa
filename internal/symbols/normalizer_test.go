package symbols

import (
	"testing"
	"time"

	"crypto-arbitrage-engine/pkg/common"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coinbaseListing() []Pair {
	return []Pair{
		{Base: "BTC", Quote: "USD", Native: "BTC-USD"},
		{Base: "ETH", Quote: "USD", Native: "ETH-USD"},
		{Base: "ETH", Quote: "BTC", Native: "ETH-BTC"},
		{Base: "USDT", Quote: "USD", Native: "USDT-USD"},
	}
}

func TestNormalizer_RoundTripForListedSymbols(t *testing.T) {
	listings := map[string]struct {
		rules Rules
		pairs []Pair
	}{
		"concat": {ConcatRules{}, []Pair{
			{Base: "BTC", Quote: "USDT", Native: "BTCUSDT"},
			{Base: "ETH", Quote: "BTC", Native: "ETHBTC"},
			{Base: "ETH", Quote: "FDUSD", Native: "ETHFDUSD"},
		}},
		"delimited": {DelimitedRules{Sep: "-", Aliases: USDAliases}, coinbaseListing()},
		"swap": {DelimitedRules{Sep: "-", Suffix: "-SWAP"}, []Pair{
			{Base: "BTC", Quote: "USDT", Native: "BTC-USDT-SWAP"},
		}},
	}

	for name, tc := range listings {
		t.Run(name, func(t *testing.T) {
			n := NewNormalizer(common.ExchangeOKX, tc.rules, clock.NewMock())
			n.Load(tc.pairs)

			for _, native := range n.NativeSymbols() {
				canonical, err := n.ToCanonical(native)
				require.NoError(t, err)
				back, err := n.ToNative(canonical)
				require.NoError(t, err)
				assert.Equal(t, native, back)
			}
		})
	}
}

func TestNormalizer_FallbackToUSDQuote(t *testing.T) {
	n := NewNormalizer(common.ExchangeCoinbase, DelimitedRules{Sep: "-", Aliases: USDAliases}, clock.NewMock())
	n.Load(coinbaseListing())

	native, err := n.ToNative("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", native)

	// 别名不影响反向映射
	canonical, err := n.ToCanonical("BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USD", canonical)

	assert.True(t, n.Tradable("ETH/USDC"))
}

func TestNormalizer_Unsupported(t *testing.T) {
	n := NewNormalizer(common.ExchangeCoinbase, DelimitedRules{Sep: "-", Aliases: USDAliases}, clock.NewMock())
	n.Load(coinbaseListing())

	_, err := n.ToNative("DOGE/USDT")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = n.ToNative("SOL/BTC")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = n.ToCanonical("DOGE-USD")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = n.ToNative("BTCUSDT")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, n.Tradable("DOGE/USDT"))
}

func TestNormalizer_LazyMappingWithoutListing(t *testing.T) {
	n := NewNormalizer(common.ExchangeBinance, ConcatRules{}, clock.NewMock())

	native, err := n.ToNative("btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", native)

	canonical, err := n.ToCanonical("ETHBTC")
	require.NoError(t, err)
	assert.Equal(t, "ETH/BTC", canonical)

	_, err = n.ToCanonical("???")
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.ElementsMatch(t, []string{"BTC/USDT", "ETH/BTC"}, n.Symbols())
}

func TestNormalizer_RefreshAndReset(t *testing.T) {
	mock := clock.NewMock()
	n := NewNormalizer(common.ExchangeBybit, ConcatRules{}, mock)
	assert.True(t, n.NeedsRefresh(time.Hour))

	n.Load([]Pair{{Base: "BTC", Quote: "USDT", Native: "BTCUSDT"}})
	assert.False(t, n.NeedsRefresh(time.Hour))

	mock.Add(time.Hour)
	assert.True(t, n.NeedsRefresh(time.Hour))

	n.Reset()
	assert.Empty(t, n.Symbols())
	assert.True(t, n.NeedsRefresh(time.Hour))
}
