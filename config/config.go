package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"crypto-arbitrage-engine/pkg/logger"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Log         logger.Config               `yaml:"log"`
	HTTP        HTTPConfig                  `yaml:"http"`
	Metrics     MetricsConfig               `yaml:"metrics"`
	Redis       RedisConfig                 `yaml:"redis"`
	Kafka       KafkaConfig                 `yaml:"kafka"`
	Poller      PollerConfig                `yaml:"poller"`
	Detector    DetectorConfig              `yaml:"detector"`
	Networks    map[string][]NetworkConfig  `yaml:"networks" validate:"dive,dive"`
	Exchanges   []ExchangeConfig            `yaml:"exchanges" validate:"dive"`
	Credentials map[string]CredentialConfig `yaml:"credentials"`

	// 适配器 -> 聚合器 tick 通道容量
	TickBuffer int `yaml:"tick_buffer" default:"4096" validate:"gt=0"`
}

// HTTPConfig 只读 HTTP API
type HTTPConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr" default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
}

// MetricsConfig Prometheus 指标
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"/metrics"`
}

// RedisConfig 套利结果发布到 Redis
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key" default:"arbitrage:latest"`
	Channel  string `yaml:"channel" default:"arbitrage:updates"`
}

// KafkaConfig 价格 tick 落盘到 Kafka
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"price-ticks"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
	Buffer       int           `yaml:"buffer" default:"1024"`
}

// PollerConfig REST 轮询线程池
type PollerConfig struct {
	Workers        int           `yaml:"workers" default:"8" validate:"gt=0"`
	MaxRetries     int           `yaml:"max_retries" default:"3" validate:"gte=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" default:"200ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" default:"2s"`
}

// DetectorConfig 套利检测参数（每个周期开始时读取一次）
type DetectorConfig struct {
	Interval              time.Duration `yaml:"interval" default:"15s" validate:"gt=0"`
	MinSpreadPercent      float64       `yaml:"min_spread_percent" default:"0.1" validate:"gte=0"`
	InvestmentAmount      float64       `yaml:"investment_amount" default:"1000" validate:"gt=0"`
	MaxWaitMinutes        int           `yaml:"max_wait_minutes" default:"30" validate:"gt=0"`
	AllowHighCongestion   bool          `yaml:"allow_high_congestion"`
	EnabledTypes          []string      `yaml:"enabled_types" default:"[\"direct\",\"triangular\",\"futures\"]" validate:"dive,oneof=direct triangular futures"`
	FuturesHoldingPeriod  time.Duration `yaml:"futures_holding_period" default:"8h"`
	TriangularStartAssets []string      `yaml:"triangular_start_assets" default:"[\"USDT\",\"USDC\",\"USD\"]"`
	RefreshTimeout        time.Duration `yaml:"refresh_timeout" default:"5s"`
}

// NetworkConfig 提币网络
type NetworkConfig struct {
	Name                 string  `yaml:"name" validate:"required"`
	Fee                  float64 `yaml:"fee" validate:"gte=0"`
	EstimatedTimeMinutes int     `yaml:"estimated_time_minutes" validate:"gte=0"`
	Congestion           string  `yaml:"congestion" default:"MEDIUM" validate:"oneof=LOW MEDIUM HIGH"`
}

// ExchangeConfig 单个交易所的静态配置，适配器生命周期内不可变
type ExchangeConfig struct {
	Name           string            `yaml:"name" validate:"required"`
	Enabled        bool              `yaml:"enabled"`
	RESTURL        string            `yaml:"rest_url"`
	WSURL          string            `yaml:"ws_url"`
	FuturesRESTURL string            `yaml:"futures_rest_url"`
	FuturesWSURL   string            `yaml:"futures_ws_url"`
	Symbols        []string          `yaml:"symbols" validate:"dive,contains=/"`
	Futures        bool              `yaml:"futures"`
	TakerFee       float64           `yaml:"taker_fee" default:"0.001" validate:"gte=0,lt=1"`
	PollInterval   time.Duration     `yaml:"poll_interval" default:"10s"`
	StaleAfter     time.Duration     `yaml:"stale_after" default:"30s"`
	SymbolRefresh  time.Duration     `yaml:"symbol_refresh" default:"1h"`
	RateLimits     []RateLimitConfig `yaml:"rate_limits" validate:"dive"`
}

// RateLimitConfig 令牌桶: maxRequests / timeWindow
type RateLimitConfig struct {
	Category    string        `yaml:"category" default:"default"`
	MaxRequests int           `yaml:"max_requests" validate:"gt=0"`
	TimeWindow  time.Duration `yaml:"time_window" validate:"gt=0"`
	RequestCost int           `yaml:"request_cost" default:"1" validate:"gt=0"`
	MaxWait     time.Duration `yaml:"max_wait" default:"5s"`
}

// CredentialConfig 交易所 API 凭证（可选）
type CredentialConfig struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase"`
}

var validate = validator.New()

// Default 默认配置（四个交易所，常见交易对）
func Default() *Config {
	cfg := &Config{
		Exchanges: []ExchangeConfig{
			{Name: "binance", Enabled: true, Futures: true, Symbols: defaultSymbols()},
			{Name: "okx", Enabled: true, Futures: true, Symbols: defaultSymbols()},
			{Name: "bybit", Enabled: true, Futures: true, Symbols: defaultSymbols()},
			{Name: "coinbase", Enabled: true, Symbols: defaultSymbols()},
		},
	}
	if err := applyDefaults(cfg); err != nil {
		panic(err)
	}
	return cfg
}

func defaultSymbols() []string {
	return []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "ETH/BTC", "SOL/BTC"}
}

// Load 加载配置: YAML 文件 -> 默认值 -> 环境变量覆盖 -> 校验
// path 为空时只使用默认配置
func Load(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if len(cfg.Exchanges) == 0 {
			cfg.Exchanges = Default().Exchanges
		}
		if err := applyDefaults(cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool)
	for _, ex := range c.Exchanges {
		key := strings.ToLower(ex.Name)
		if seen[key] {
			return fmt.Errorf("invalid config: duplicate exchange %q", ex.Name)
		}
		seen[key] = true
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("invalid config: kafka enabled without brokers")
	}
	return nil
}

// EnabledExchanges 已启用的交易所
func (c *Config) EnabledExchanges() []ExchangeConfig {
	out := make([]ExchangeConfig, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, ex)
		}
	}
	return out
}

// TypeEnabled 套利类型是否启用
func (d DetectorConfig) TypeEnabled(kind string) bool {
	for _, t := range d.EnabledTypes {
		if strings.EqualFold(t, kind) {
			return true
		}
	}
	return false
}

func applyDefaults(cfg *Config) error {
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	for i := range cfg.Exchanges {
		if err := defaults.Set(&cfg.Exchanges[i]); err != nil {
			return fmt.Errorf("apply defaults for %s: %w", cfg.Exchanges[i].Name, err)
		}
		for j := range cfg.Exchanges[i].RateLimits {
			if err := defaults.Set(&cfg.Exchanges[i].RateLimits[j]); err != nil {
				return fmt.Errorf("apply defaults for %s rate limit: %w", cfg.Exchanges[i].Name, err)
			}
		}
	}
	for asset, networks := range cfg.Networks {
		for i := range networks {
			if err := defaults.Set(&networks[i]); err != nil {
				return fmt.Errorf("apply defaults for %s network: %w", asset, err)
			}
		}
	}
	return nil
}

// applyEnv 环境变量优先于配置文件
func applyEnv(cfg *Config) {
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Kafka.Brokers = getEnvArray("KAFKA_BROKERS", cfg.Kafka.Brokers)

	cfg.Detector.MinSpreadPercent = getEnvFloat("MIN_SPREAD_PERCENT", cfg.Detector.MinSpreadPercent)
	cfg.Detector.InvestmentAmount = getEnvFloat("INVESTMENT_AMOUNT", cfg.Detector.InvestmentAmount)
	cfg.Detector.MaxWaitMinutes = getEnvInt("MAX_WAIT_MINUTES", cfg.Detector.MaxWaitMinutes)
	cfg.Detector.Interval = getEnvDuration("DETECTOR_INTERVAL", cfg.Detector.Interval)
	cfg.Detector.AllowHighCongestion = getEnvBool("ALLOW_HIGH_CONGESTION", cfg.Detector.AllowHighCongestion)
	cfg.Detector.EnabledTypes = getEnvArray("ENABLED_ARBITRAGE_TYPES", cfg.Detector.EnabledTypes)

	if enabled := getEnvArray("ENABLED_EXCHANGES", nil); enabled != nil {
		set := make(map[string]bool, len(enabled))
		for _, name := range enabled {
			set[strings.ToLower(strings.TrimSpace(name))] = true
		}
		for i := range cfg.Exchanges {
			cfg.Exchanges[i].Enabled = set[strings.ToLower(cfg.Exchanges[i].Name)]
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvArray(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
