package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/pkg/common"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	err     error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, append([]kafka.Message(nil), msgs...))
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type chanSource struct{ ch chan *common.PriceTick }

func (s chanSource) Subscribe(int) (<-chan *common.PriceTick, func()) { return s.ch, func() {} }

func testTick(i int64) *common.PriceTick {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second)
	return &common.PriceTick{
		Symbol: "BTC/USDT", Exchange: common.ExchangeBinance, MarketType: common.MarketTypeSpot,
		Bid: decimal.NewFromInt(100 + i), Ask: decimal.NewFromInt(101 + i),
		Timestamp: ts, Source: common.PriceSourceWebSocket,
	}
}

func TestMessage(t *testing.T) {
	msg, err := Message(testTick(1))
	require.NoError(t, err)
	assert.Equal(t, "BINANCE_SPOT_BTC/USDT", string(msg.Key))
	assert.Equal(t, "WEBSOCKET", string(msg.Headers[0].Value))

	var decoded common.PriceTick
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.True(t, decoded.Bid.Equal(decimal.NewFromInt(101)))
}

func TestRun_BatchesAndFlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	j := newJournal(w, config.KafkaConfig{BatchSize: 2, BatchTimeout: time.Hour}, zerolog.Nop())
	src := chanSource{ch: make(chan *common.PriceTick, 5)}
	for i := int64(0); i < 5; i++ {
		src.ch <- testTick(i)
	}
	close(src.ch)

	j.Run(context.Background(), src)

	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[0], 2)
	assert.Len(t, w.batches[2], 1)
	written, failed := j.Counts()
	assert.Equal(t, uint64(5), written)
	assert.Zero(t, failed)
}

func TestRun_WriteErrorCounted(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	j := newJournal(w, config.KafkaConfig{BatchSize: 10, BatchTimeout: time.Hour}, zerolog.Nop())
	src := chanSource{ch: make(chan *common.PriceTick, 3)}
	for i := int64(0); i < 3; i++ {
		src.ch <- testTick(i)
	}
	close(src.ch)

	j.Run(context.Background(), src)
	_, failed := j.Counts()
	assert.Equal(t, uint64(3), failed)
}

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(config.KafkaConfig{}, zerolog.Nop())
	assert.Error(t, err)
}
