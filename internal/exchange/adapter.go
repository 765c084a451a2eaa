package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/internal/credentials"
	"crypto-arbitrage-engine/pkg/common"
)

// Adapter 单个交易所的行情接入
// 所有对外返回的 symbol 都是标准格式 BASE/QUOTE
type Adapter interface {
	Name() common.Exchange
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error
	FetchPrice(ctx context.Context, symbol string) (*common.PriceTick, error)
	SupportedSymbols(ctx context.Context) ([]string, error)
	NormalizeSymbol(native string) (string, error)
	DenormalizeSymbol(canonical string) (string, error)
	State() State
	LastFetch(symbol string) time.Time
	Health() Health
}

// FuturesAdapter 支持永续合约行情（含资金费率）的适配器
type FuturesAdapter interface {
	Adapter
	FetchFutures(ctx context.Context, symbol string) (*common.PriceTick, error)
}

// Health 状态接口使用的适配器健康信息
type Health struct {
	Exchange      common.Exchange `json:"exchange"`
	State         State           `json:"state"`
	PublicMode    bool            `json:"public_mode"` // 凭证无效后降级为公开接口
	Subscriptions int             `json:"subscriptions"`
	LastError     string          `json:"last_error,omitempty"`
	LastErrorAt   time.Time       `json:"last_error_at,omitempty"`
	Reconnects    int64           `json:"reconnects"`
}

// Observer 指标回调，nil 表示不采集
type Observer interface {
	RateLimitWait(exchange, category string, waited time.Duration)
	TickDropped(exchange string)
	Reconnect(exchange string)
	RESTRequest(exchange, endpoint string, status int, elapsed time.Duration)
}

// Deps 创建适配器需要的依赖
type Deps struct {
	Config      config.ExchangeConfig
	Credentials credentials.Provider
	Sink        chan<- *common.PriceTick
	Logger      zerolog.Logger
	Clock       clock.Clock
	HTTPClient  *http.Client
	Observer    Observer
}

// Factory 根据依赖构造适配器
type Factory func(deps Deps) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register 注册交易所工厂，名称不区分大小写
func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		panic("exchange: empty adapter name")
	}
	if factory == nil {
		panic(fmt.Sprintf("exchange: nil factory for %s", name))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("exchange: duplicate registration for %s", key))
	}
	registry[key] = factory
}

// New 按配置里的交易所名称创建适配器
func New(deps Deps) (Adapter, error) {
	registryMu.RLock()
	factory := registry[strings.ToLower(strings.TrimSpace(deps.Config.Name))]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("exchange %q is not registered", deps.Config.Name)
	}
	return factory(deps.WithDefaults())
}

// WithDefaults 补齐未设置的时钟、凭证和 HTTP 客户端
func (d Deps) WithDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Credentials == nil {
		d.Credentials = credentials.None{}
	}
	if d.HTTPClient == nil {
		d.HTTPClient = NewHTTPClient()
	}
	return d
}

// Registered 已注册的交易所名称（排序后）
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
