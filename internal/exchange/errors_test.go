package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"crypto-arbitrage-engine/internal/ratelimit"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

func TestWrap_ClassifiesSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"rate limited", fmt.Errorf("bucket: %w", ratelimit.ErrRateLimited), KindRateLimited},
		{"unsupported", fmt.Errorf("x: %w", symbols.ErrUnsupported), KindUnsupportedSymbol},
		{"canceled", context.Canceled, KindConnection},
		{"other", errors.New("boom"), KindAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Wrap(common.ExchangeOKX, "op", tt.err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestWrap_KeepsAdapterError(t *testing.T) {
	orig := NewError(KindAuth, common.ExchangeBybit, "sign", errors.New("bad key"))
	err := Wrap(common.ExchangeBybit, "outer", fmt.Errorf("ctx: %w", orig))
	assert.True(t, IsKind(err, KindAuth))
	assert.Nil(t, Wrap(common.ExchangeBybit, "nil", nil))
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(NewError(KindAuth, common.ExchangeOKX, "", nil)))
	assert.True(t, Permanent(NewError(KindUnsupportedSymbol, common.ExchangeOKX, "", nil)))
	assert.False(t, Permanent(NewError(KindConnection, common.ExchangeOKX, "", nil)))
	assert.False(t, Permanent(errors.New("plain")))
}

func TestAdapterError_Message(t *testing.T) {
	err := &AdapterError{Kind: KindAPI, Exchange: common.ExchangeCoinbase, Context: "GET /products", StatusCode: 500, Err: errors.New("oops")}
	assert.Equal(t, "[COINBASE] API_ERROR: GET /products (status 500): oops", err.Error())
}
