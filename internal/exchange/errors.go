package exchange

import (
	"context"
	"errors"
	"fmt"

	"crypto-arbitrage-engine/internal/ratelimit"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

// ErrorKind 适配器错误分类
type ErrorKind string

const (
	KindConnection        ErrorKind = "CONNECTION_ERROR"
	KindAPI               ErrorKind = "API_ERROR"
	KindRateLimited       ErrorKind = "RATE_LIMITED"
	KindUnsupportedSymbol ErrorKind = "UNSUPPORTED_SYMBOL"
	KindAuth              ErrorKind = "AUTH_ERROR"
	KindStaleData         ErrorKind = "STALE_DATA"
)

// AdapterError 带交易所和上下文的错误
type AdapterError struct {
	Kind       ErrorKind
	Exchange   common.Exchange
	Context    string
	StatusCode int
	Err        error
}

func (e *AdapterError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Exchange, e.Kind, e.Context)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NewError 创建适配器错误
func NewError(kind ErrorKind, exchange common.Exchange, op string, err error) *AdapterError {
	return &AdapterError{Kind: kind, Exchange: exchange, Context: op, Err: err}
}

// Wrap 把底层错误归类，已经是 AdapterError 的原样返回
func Wrap(exchange common.Exchange, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return NewError(KindRateLimited, exchange, op, err)
	case errors.Is(err, symbols.ErrUnsupported):
		return NewError(KindUnsupportedSymbol, exchange, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewError(KindConnection, exchange, op, err)
	}
	return NewError(KindAPI, exchange, op, err)
}

// KindOf 返回错误分类，非适配器错误返回空
func KindOf(err error) ErrorKind {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind 判断错误分类
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Permanent 重试无意义的错误
func Permanent(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindUnsupportedSymbol:
		return true
	}
	return false
}
