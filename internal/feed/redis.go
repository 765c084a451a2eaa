package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/pkg/common"
)

// redisClient RedisPublisher 用到的命令
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Notification 通道上的轻量通知，完整列表从 key 读取
type Notification struct {
	Cycle      uint64    `json:"cycle"`
	ComputedAt time.Time `json:"computed_at"`
	Count      int       `json:"count"`
	Key        string    `json:"key"`
}

// RedisPublisher 把最新排名写入 Redis（SET 完整 JSON + PUBLISH 通知）
type RedisPublisher struct {
	cli     redisClient
	closer  func() error
	key     string
	channel string
	ttl     time.Duration
	log     zerolog.Logger
}

// NewRedisPublisher 根据配置创建
func NewRedisPublisher(cfg config.RedisConfig, log zerolog.Logger) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	p := newRedisPublisher(rdb, cfg.Key, cfg.Channel, log)
	p.closer = rdb.Close
	return p
}

func newRedisPublisher(cli redisClient, key, channel string, log zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{cli: cli, key: key, channel: channel, ttl: 5 * time.Minute, log: log}
}

// Write 写入一份排名
func (p *RedisPublisher) Write(ctx context.Context, ranking common.Ranking) error {
	payload, err := json.Marshal(ranking)
	if err != nil {
		return fmt.Errorf("marshal ranking: %w", err)
	}
	if err := p.cli.Set(ctx, p.key, payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", p.key, err)
	}

	note, err := json.Marshal(Notification{
		Cycle:      ranking.Cycle,
		ComputedAt: ranking.ComputedAt,
		Count:      len(ranking.Opportunities),
		Key:        p.key,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.cli.Publish(ctx, p.channel, note).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

// Run 订阅 Feed 并持续写入，直到 ctx 取消
func (p *RedisPublisher) Run(ctx context.Context, f *Feed) {
	updates, cancel := f.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ranking, ok := <-updates:
			if !ok {
				return
			}
			writeCtx, done := context.WithTimeout(ctx, 5*time.Second)
			if err := p.Write(writeCtx, ranking); err != nil {
				p.log.Warn().Err(err).Uint64("cycle", ranking.Cycle).Msg("redis publish failed")
			}
			done()
		}
	}
}

// Close 关闭连接
func (p *RedisPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
