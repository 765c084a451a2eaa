package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/internal/arbitrage"
	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/pkg/common"
)

type quote struct{ bid, ask string }

// stubAdapter REST 报价固定，Connect 可配置失败
type stubAdapter struct {
	name       common.Exchange
	clock      clock.Clock
	quotes     map[string]quote
	connectErr error

	mu        sync.Mutex
	state     exchange.State
	subs      []string
	fetched   map[string]time.Time
	connected bool
}

func (s *stubAdapter) Name() common.Exchange { return s.name }

func (s *stubAdapter) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		s.state = exchange.StateDisconnected
		return s.connectErr
	}
	s.state = exchange.StateConnected
	s.connected = true
	return nil
}

func (s *stubAdapter) Disconnect() error {
	s.mu.Lock()
	s.state = exchange.StateDisconnected
	s.mu.Unlock()
	return nil
}

func (s *stubAdapter) listed(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.quotes[symbol]
	return ok
}

func (s *stubAdapter) delist(symbol string) {
	s.mu.Lock()
	delete(s.quotes, symbol)
	s.mu.Unlock()
}

func (s *stubAdapter) Subscribe(_ context.Context, symbol string) error {
	if !s.listed(symbol) {
		return exchange.NewError(exchange.KindUnsupportedSymbol, s.name, symbol, errors.New("not listed"))
	}
	s.mu.Lock()
	s.subs = append(s.subs, symbol)
	s.mu.Unlock()
	return nil
}

func (s *stubAdapter) Unsubscribe(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == symbol {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *stubAdapter) FetchPrice(_ context.Context, symbol string) (*common.PriceTick, error) {
	now := s.clock.Now()
	s.mu.Lock()
	q, ok := s.quotes[symbol]
	if ok {
		s.fetched[symbol] = now
	}
	s.mu.Unlock()
	if !ok {
		return nil, exchange.NewError(exchange.KindUnsupportedSymbol, s.name, symbol, errors.New("not listed"))
	}
	return &common.PriceTick{
		Symbol: symbol, Exchange: s.name, MarketType: common.MarketTypeSpot,
		Bid: decimal.RequireFromString(q.bid), Ask: decimal.RequireFromString(q.ask),
		Timestamp: now, ReceivedAt: now, Source: common.PriceSourceREST,
	}, nil
}

func (s *stubAdapter) SupportedSymbols(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.quotes))
	for sym := range s.quotes {
		out = append(out, sym)
	}
	return out, nil
}

func (s *stubAdapter) NormalizeSymbol(native string) (string, error) { return native, nil }
func (s *stubAdapter) DenormalizeSymbol(canonical string) (string, error) {
	if !s.listed(canonical) {
		return "", exchange.NewError(exchange.KindUnsupportedSymbol, s.name, canonical, errors.New("not listed"))
	}
	return canonical, nil
}

func (s *stubAdapter) State() exchange.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubAdapter) LastFetch(symbol string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched[symbol]
}

func (s *stubAdapter) Health() exchange.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return exchange.Health{Exchange: s.name, State: s.state, Subscriptions: len(s.subs)}
}

func testConfig(names ...string) *config.Config {
	cfg := config.Default()
	cfg.Exchanges = nil
	for _, n := range names {
		cfg.Exchanges = append(cfg.Exchanges, config.ExchangeConfig{
			Name:          n,
			Enabled:       true,
			Symbols:       []string{"BTC/USDT", "DOGE/USDT"},
			TakerFee:      0.001,
			PollInterval:  10 * time.Second,
			StaleAfter:    30 * time.Second,
			SymbolRefresh: time.Hour,
		})
	}
	cfg.Detector.InvestmentAmount = 30010
	cfg.Detector.Interval = time.Minute
	cfg.Poller.MaxRetries = 0
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, stubs map[string]*stubAdapter) (*Engine, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	factory := func(deps exchange.Deps) (exchange.Adapter, error) {
		s, ok := stubs[deps.Config.Name]
		if !ok {
			return nil, errors.New("unknown exchange")
		}
		s.clock = clk
		s.name = arbitrage.ExchangeID(deps.Config.Name)
		s.fetched = make(map[string]time.Time)
		return s, nil
	}
	e, err := New(cfg, Options{Clock: clk, Logger: zerolog.Nop(), Factory: factory})
	require.NoError(t, err)
	return e, clk
}

func TestEngine_DetectsDirectOpportunityEndToEnd(t *testing.T) {
	stubs := map[string]*stubAdapter{
		"alpha": {quotes: map[string]quote{"BTC/USDT": {"30000", "30010"}}},
		"beta":  {quotes: map[string]quote{"BTC/USDT": {"30300", "30310"}}},
	}
	e, _ := newTestEngine(t, testConfig("alpha", "beta"), stubs)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	require.Eventually(t, func() bool { return len(e.Feed.Latest().Opportunities) > 0 }, 2*time.Second, 10*time.Millisecond)
	opp := e.Feed.Latest().Opportunities[0]
	require.Equal(t, common.KindDirect, opp.Kind)
	assert.Equal(t, common.Exchange("ALPHA"), opp.Direct.FromExchange)
	assert.Equal(t, common.Exchange("BETA"), opp.Direct.ToExchange)
	assert.True(t, opp.Direct.NetProfit.Equal(decimal.RequireFromString("229.69")), opp.Direct.NetProfit.String())

	// DOGE/USDT 不在列表中，没有被订阅
	assert.Equal(t, []string{"BTC/USDT"}, stubs["alpha"].subs)

	status := e.Feed.Status()
	assert.True(t, status.Enabled)
	assert.ElementsMatch(t, []common.Exchange{"ALPHA", "BETA"}, status.ActiveExchanges)
	assert.Contains(t, status.AvailableTypes, common.KindDirect)
	assert.Empty(t, status.Reason)
}

func TestEngine_UpdateDetectorAppliesNextCycle(t *testing.T) {
	stubs := map[string]*stubAdapter{
		"alpha": {quotes: map[string]quote{"BTC/USDT": {"30000", "30010"}}},
		"beta":  {quotes: map[string]quote{"BTC/USDT": {"30300", "30310"}}},
	}
	cfg := testConfig("alpha", "beta")
	cfg.Detector.Interval = time.Hour
	e, _ := newTestEngine(t, cfg, stubs)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()
	require.Eventually(t, func() bool { return len(e.Feed.Latest().Opportunities) > 0 }, 2*time.Second, 10*time.Millisecond)

	bad := e.Config().Detector
	bad.InvestmentAmount = 0
	require.Error(t, e.UpdateDetector(bad))
	assert.Equal(t, 30010.0, e.Config().Detector.InvestmentAmount)

	strict := e.Config().Detector
	strict.MinSpreadPercent = 5
	require.NoError(t, e.UpdateDetector(strict))

	ranking := e.Detector.RunCycle(context.Background())
	assert.Empty(t, ranking.Opportunities)
	assert.Equal(t, 0.1, cfg.Detector.MinSpreadPercent, "original config is not mutated")
}

func TestEngine_SymbolRefreshTracksListing(t *testing.T) {
	alpha := &stubAdapter{quotes: map[string]quote{"BTC/USDT": {"30000", "30010"}}}
	e, clk := newTestEngine(t, testConfig("alpha"), map[string]*stubAdapter{"alpha": alpha})
	m := e.members[0]
	ctx := context.Background()

	e.syncSymbols(ctx, m, zerolog.Nop())
	assert.Equal(t, []string{"BTC/USDT"}, m.symbols)
	assert.Empty(t, e.Poller.Refresh(ctx))
	first := alpha.LastFetch("BTC/USDT")
	require.False(t, first.IsZero())

	// DOGE/USDT 上线后被订阅
	alpha.mu.Lock()
	alpha.quotes["DOGE/USDT"] = quote{"0.1", "0.1001"}
	alpha.mu.Unlock()
	e.syncSymbols(ctx, m, zerolog.Nop())
	assert.Equal(t, []string{"BTC/USDT", "DOGE/USDT"}, m.symbols)
	assert.ElementsMatch(t, []string{"BTC/USDT", "DOGE/USDT"}, alpha.subs)

	// 全部下线：取消订阅并移出 REST 轮询
	alpha.delist("BTC/USDT")
	alpha.delist("DOGE/USDT")
	e.syncSymbols(ctx, m, zerolog.Nop())
	assert.Empty(t, m.symbols)
	assert.Empty(t, alpha.subs)

	clk.Add(time.Minute)
	assert.Empty(t, e.Poller.Refresh(ctx))
	assert.Equal(t, first, alpha.LastFetch("BTC/USDT"), "removed target is not polled")
}

func TestEngine_StatusExplainsInactiveExchanges(t *testing.T) {
	stubs := map[string]*stubAdapter{
		"alpha": {
			quotes:     map[string]quote{"BTC/USDT": {"30000", "30010"}},
			connectErr: exchange.NewError(exchange.KindConnection, "ALPHA", "dial", errors.New("refused")),
		},
		"beta": {quotes: map[string]quote{}},
	}
	cfg := testConfig("alpha", "beta", "gamma")
	cfg.Detector.Interval = time.Hour
	e, clk := newTestEngine(t, cfg, stubs)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()
	require.Eventually(t, func() bool { return e.Detector.LastCycle() != nil }, 2*time.Second, 10*time.Millisecond)

	status := e.Feed.Status()
	require.Len(t, status.Exchanges, 3)
	byName := map[common.Exchange]string{}
	contributing := map[common.Exchange]bool{}
	for _, es := range status.Exchanges {
		byName[es.Exchange] = es.Reason
		contributing[es.Exchange] = es.Contributing
	}

	assert.True(t, contributing["ALPHA"], "REST keeps alpha contributing")
	assert.Contains(t, byName["ALPHA"], "using REST")
	assert.False(t, contributing["BETA"])
	assert.Equal(t, "no data received yet", byName["BETA"])
	assert.Contains(t, byName["GAMMA"], "adapter unavailable")

	assert.True(t, status.Enabled, "triangular still possible on one exchange")
	assert.NotContains(t, status.AvailableTypes, common.KindDirect)
	assert.Equal(t, "direct arbitrage needs at least 2 active exchanges", status.Reason)

	// 超过阈值后 alpha 也变为过期
	clk.Add(time.Minute + time.Second)
	status = e.Feed.Status()
	assert.False(t, status.Enabled)
	assert.Equal(t, "no exchange is delivering fresh prices", status.Reason)
}

func TestEngine_NoAdapters(t *testing.T) {
	_, err := New(testConfig("alpha"), Options{
		Logger:  zerolog.Nop(),
		Factory: func(exchange.Deps) (exchange.Adapter, error) { return nil, errors.New("boom") },
	})
	assert.Error(t, err)
}

func TestCredentialsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Credentials = map[string]config.CredentialConfig{
		"binance": {APIKey: "k", APISecret: "s"},
	}
	creds, ok := CredentialsFromConfig(cfg).Lookup("BINANCE")
	require.True(t, ok)
	assert.Equal(t, "k", creds.APIKey)
}
