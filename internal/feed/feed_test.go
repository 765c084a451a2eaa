package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-arbitrage-engine/pkg/common"
)

func ranking(cycle uint64) common.Ranking {
	return common.Ranking{
		Cycle: cycle,
		Opportunities: []common.Opportunity{
			{Kind: common.KindDirect, Direct: &common.DirectOpportunity{ID: "d", NetProfit: decimal.NewFromInt(3)}},
			{Kind: common.KindFutures, Futures: &common.FuturesOpportunity{ID: "f", NetProfit: decimal.NewFromInt(2)}},
			{Kind: common.KindDirect, Direct: &common.DirectOpportunity{ID: "d2", NetProfit: decimal.NewFromInt(1)}},
		},
	}
}

type staticStatus Status

func (s staticStatus) Status() Status { return Status(s) }

func TestFeed_LatestAndFilter(t *testing.T) {
	f := New(nil)
	assert.Empty(t, f.Latest().Opportunities)
	assert.NotNil(t, f.Latest().Opportunities)

	f.Publish(ranking(1))
	assert.Equal(t, uint64(1), f.Latest().Cycle)
	assert.Len(t, f.Opportunities("direct", 0), 2)
	assert.Len(t, f.Opportunities("", 1), 1)
	assert.Empty(t, f.Opportunities("triangular", 0))

	f.Publish(ranking(2))
	assert.Equal(t, uint64(2), f.Latest().Cycle)
}

func TestFeed_Status(t *testing.T) {
	f := New(nil)
	assert.False(t, f.Status().Enabled)

	f.SetStatusSource(staticStatus{Enabled: true, ActiveExchanges: []common.Exchange{common.ExchangeBinance}})
	assert.True(t, f.Status().Enabled)
}

func TestFeed_SubscriberKeepsNewest(t *testing.T) {
	f := New(nil)
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Publish(ranking(1))
	f.Publish(ranking(2))
	f.Publish(ranking(3))

	got := <-ch
	assert.Equal(t, uint64(3), got.Cycle)
	select {
	case r := <-ch:
		t.Fatalf("unexpected ranking %d", r.Cycle)
	default:
	}
}

func TestFeed_ConcurrentReadersSeeWholeRanking(t *testing.T) {
	f := New(nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 200; i++ {
			f.Publish(ranking(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r := f.Latest()
			if r.Cycle != 0 {
				assert.Len(t, r.Opportunities, 3)
			}
		}
	}()
	wg.Wait()
}

type fakeRedis struct {
	mu        sync.Mutex
	sets      map[string][]byte
	published map[string][][]byte
	setErr    error
}

func (r *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setErr != nil {
		return redis.NewStatusResult("", r.setErr)
	}
	r.sets[key] = value.([]byte)
	return redis.NewStatusResult("OK", nil)
}

func (r *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[channel] = append(r.published[channel], message.([]byte))
	return redis.NewIntResult(1, nil)
}

func TestRedisPublisher_Write(t *testing.T) {
	cli := &fakeRedis{sets: map[string][]byte{}, published: map[string][][]byte{}}
	p := newRedisPublisher(cli, "arb:latest", "arb:updates", zerolog.Nop())

	require.NoError(t, p.Write(context.Background(), ranking(7)))

	var stored common.Ranking
	require.NoError(t, json.Unmarshal(cli.sets["arb:latest"], &stored))
	assert.Equal(t, uint64(7), stored.Cycle)
	assert.Len(t, stored.Opportunities, 3)

	require.Len(t, cli.published["arb:updates"], 1)
	var note Notification
	require.NoError(t, json.Unmarshal(cli.published["arb:updates"][0], &note))
	assert.Equal(t, 3, note.Count)
	assert.Equal(t, "arb:latest", note.Key)

	cli.setErr = errors.New("READONLY")
	assert.ErrorContains(t, p.Write(context.Background(), ranking(8)), "READONLY")
	assert.Len(t, cli.published["arb:updates"], 1)
	assert.NoError(t, p.Close())
}
