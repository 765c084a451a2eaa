// Package journal 把被聚合器接受的 tick 写入 Kafka，供回放与离线分析
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/pkg/common"
)

// messageWriter kafka.Writer 的子集
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Source tick 来源（价格聚合器）
type Source interface {
	Subscribe(buffer int) (<-chan *common.PriceTick, func())
}

// Journal 批量写入 tick
type Journal struct {
	writer       messageWriter
	batchSize    int
	batchTimeout time.Duration
	buffer       int
	log          zerolog.Logger

	written uint64
	failed  uint64
}

// New 根据配置创建 Kafka writer
func New(cfg config.KafkaConfig, log zerolog.Logger) (*Journal, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        false,
	}
	return newJournal(w, cfg, log), nil
}

func newJournal(w messageWriter, cfg config.KafkaConfig, log zerolog.Logger) *Journal {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}
	return &Journal{
		writer:       w,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		buffer:       cfg.Buffer,
		log:          log,
	}
}

// Message tick 编码为 Kafka 消息，按 (交易所, 市场, symbol) 分区保证同 key 有序
func Message(tick *common.PriceTick) (kafka.Message, error) {
	value, err := json.Marshal(tick)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal tick: %w", err)
	}
	return kafka.Message{
		Key:   []byte(tick.Key().String()),
		Value: value,
		Time:  tick.Timestamp,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(tick.Source)},
		},
	}, nil
}

// Run 订阅并写入，攒满 batchSize 或超过 batchTimeout 时提交
func (j *Journal) Run(ctx context.Context, src Source) {
	ticks, cancel := src.Subscribe(j.buffer)
	defer cancel()

	timer := time.NewTimer(j.batchTimeout)
	defer timer.Stop()
	batch := make([]kafka.Message, 0, j.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// ctx 取消后仍尽量提交最后一批
		writeCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := j.writer.WriteMessages(writeCtx, batch...); err != nil {
			j.failed += uint64(len(batch))
			j.log.Warn().Err(err).Int("messages", len(batch)).Msg("kafka write failed")
		} else {
			j.written += uint64(len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case tick, ok := <-ticks:
			if !ok {
				flush()
				return
			}
			msg, err := Message(tick)
			if err != nil {
				j.log.Debug().Err(err).Msg("skip tick")
				continue
			}
			batch = append(batch, msg)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(j.batchTimeout)
		}
	}
}

// Counts 已写入与失败的消息数（仅在 Run 返回后读取）
func (j *Journal) Counts() (written, failed uint64) { return j.written, j.failed }

// Close 关闭 writer
func (j *Journal) Close() error { return j.writer.Close() }
