package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/internal/engine"
	"crypto-arbitrage-engine/internal/metrics"
	"crypto-arbitrage-engine/internal/ui"
	"crypto-arbitrage-engine/internal/web"
	"crypto-arbitrage-engine/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（为空时使用默认配置和环境变量）")
	tui := flag.Bool("tui", false, "启动终端界面")
	flag.Parse()

	if err := run(*configPath, *tui); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, tui bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// 终端界面占用 stdout，日志改写到文件
	if tui && (cfg.Log.Output == "" || cfg.Log.Output == "stdout") {
		cfg.Log.Output = "arbitrage.log"
	}
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	log.Info().Str("config", configPath).Msg("=== Starting Crypto Arbitrage Engine ===")

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	eng, err := engine.New(cfg, engine.Options{
		Logger:  log,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	if cfg.HTTP.Enabled {
		deps := web.Deps{
			Feed:   eng.Feed,
			Store:  eng.Store,
			Poller: eng.Poller,
			Logger: logger.Component(log, "web"),
		}
		if m != nil {
			deps.Metrics = m.Handler()
		}
		server := web.NewServer(cfg.HTTP, cfg.Metrics.Path, deps)
		server.Start()
		defer shutdown(server, cfg.HTTP, log)
	}

	if tui {
		program := tea.NewProgram(ui.NewModel(eng.Feed), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := program.Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("tui: %w", err)
		}
	} else {
		log.Info().Msg("engine is running. Press Ctrl+C to stop.")
		<-ctx.Done()
	}

	log.Info().Msg("shutting down gracefully...")
	return nil
}

func shutdown(server *web.Server, cfg config.HTTPConfig, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
}
