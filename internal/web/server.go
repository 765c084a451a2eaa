// Package web HTTP 查询接口：套利机会、状态、价格、指标
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/internal/feed"
	"crypto-arbitrage-engine/internal/poller"
	"crypto-arbitrage-engine/internal/pricestore"
	"crypto-arbitrage-engine/pkg/common"
)

// Deps 服务器依赖，Metrics 为空时不暴露 /metrics
type Deps struct {
	Feed    *feed.Feed
	Store   *pricestore.PriceStore
	Poller  *poller.Poller
	Metrics http.Handler
	Logger  zerolog.Logger
}

// Server Web服务器
type Server struct {
	echo *echo.Echo
	cfg  config.HTTPConfig
	deps Deps
}

type requestValidator struct{ v *validator.Validate }

func (r requestValidator) Validate(i interface{}) error { return r.v.Struct(i) }

// NewServer 创建服务器并注册路由
func NewServer(cfg config.HTTPConfig, metricsPath string, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = requestValidator{v: validator.New()}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			deps.Logger.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("http request")
			return nil
		},
	}))

	s := &Server{echo: e, cfg: cfg, deps: deps}

	api := e.Group("/api")
	api.GET("/opportunities", s.handleOpportunities)
	api.GET("/status", s.handleStatus)
	api.GET("/prices", s.handlePrices)
	api.GET("/stats", s.handleStats)
	e.GET("/healthz", s.handleHealth)
	if deps.Metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		e.GET(metricsPath, echo.WrapHandler(deps.Metrics))
	}
	return s
}

// Handler 测试使用
func (s *Server) Handler() http.Handler { return s.echo }

// Start 在后台监听
func (s *Server) Start() {
	s.echo.Server.ReadTimeout = s.cfg.ReadTimeout
	s.echo.Server.WriteTimeout = s.cfg.WriteTimeout
	go func() {
		s.deps.Logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Logger.Error().Err(err).Msg("http server error")
		}
	}()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

type envelope struct {
	Success bool        `json:"success"`
	Count   *int        `json:"count,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func okList(c echo.Context, n int, data interface{}) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Count: &n, Data: data})
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, envelope{Error: err.Error()})
}

// opportunitiesQuery 支持参数:
// - type: all|direct|triangular|futures
// - limit: 限制返回数量
type opportunitiesQuery struct {
	Type  string `query:"type" validate:"omitempty,oneof=all direct triangular futures"`
	Limit int    `query:"limit" validate:"gte=0,lte=1000"`
}

func (s *Server) handleOpportunities(c echo.Context) error {
	var q opportunitiesQuery
	if err := c.Bind(&q); err != nil {
		return badRequest(c, err)
	}
	q.Type = strings.ToLower(q.Type)
	if err := c.Validate(&q); err != nil {
		return badRequest(c, err)
	}

	latest := s.deps.Feed.Latest()
	opps := s.deps.Feed.Opportunities(q.Type, q.Limit)
	n := len(opps)
	return c.JSON(http.StatusOK, struct {
		envelope
		Cycle      uint64      `json:"cycle"`
		ComputedAt interface{} `json:"computed_at,omitempty"`
	}{
		envelope:   envelope{Success: true, Count: &n, Data: opps},
		Cycle:      latest.Cycle,
		ComputedAt: computedAt(latest),
	})
}

func computedAt(r common.Ranking) interface{} {
	if r.ComputedAt.IsZero() {
		return nil
	}
	return r.ComputedAt
}

func (s *Server) handleStatus(c echo.Context) error {
	return ok(c, s.deps.Feed.Status())
}

type pricesQuery struct {
	Symbol string `query:"symbol" validate:"required,contains=/"`
}

// handlePrices 同一 symbol 在各交易所、各市场的最新报价（含过期数据）
func (s *Server) handlePrices(c echo.Context) error {
	var q pricesQuery
	if err := c.Bind(&q); err != nil {
		return badRequest(c, err)
	}
	q.Symbol = strings.ToUpper(q.Symbol)
	if err := c.Validate(&q); err != nil {
		return badRequest(c, err)
	}
	prices := s.deps.Store.GetPricesBySymbol(q.Symbol)
	return okList(c, len(prices), prices)
}

// handleStats 处理统计信息请求
func (s *Server) handleStats(c echo.Context) error {
	data := map[string]interface{}{
		"store":   s.deps.Store.Stats(),
		"symbols": s.deps.Store.GetAllSymbols(),
		"rates":   s.deps.Store.ExchangeRates().GetAllRates(),
	}
	if s.deps.Poller != nil {
		data["rest"] = s.deps.Poller.Stats().GetAllStats()
	}
	return ok(c, data)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
