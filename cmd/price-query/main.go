package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/internal/engine"
	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/pkg/common"
	"crypto-arbitrage-engine/pkg/logger"
)

// PriceDisplay 价格显示
type PriceDisplay struct {
	Exchange   common.Exchange
	MarketType common.MarketType
	Tick       *common.PriceTick
	Spread     decimal.Decimal
	Elapsed    time.Duration
	Err        error
}

var hundred = decimal.NewFromInt(100)

func formatPrice(d decimal.Decimal) string {
	if !d.IsPositive() {
		return "-"
	}
	return d.String()
}

// fetchAll 并发查询所有交易所的现货和合约价格
func fetchAll(ctx context.Context, adapters []exchange.Adapter, futures map[common.Exchange]bool, symbol string) []*PriceDisplay {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		displays []*PriceDisplay
	)
	add := func(d *PriceDisplay) {
		mu.Lock()
		displays = append(displays, d)
		mu.Unlock()
	}

	for _, a := range adapters {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 先加载交易对列表，保证 symbol 映射可用
			if _, err := a.SupportedSymbols(ctx); err != nil {
				add(&PriceDisplay{Exchange: a.Name(), MarketType: common.MarketTypeSpot, Err: err})
				return
			}
			add(query(a.Name(), common.MarketTypeSpot, func() (*common.PriceTick, error) {
				return a.FetchPrice(ctx, symbol)
			}))
			if fa, ok := a.(exchange.FuturesAdapter); ok && futures[a.Name()] {
				add(query(a.Name(), common.MarketTypeFuture, func() (*common.PriceTick, error) {
					return fa.FetchFutures(ctx, symbol)
				}))
			}
		}()
	}
	wg.Wait()

	sort.Slice(displays, func(i, j int) bool {
		if displays[i].MarketType != displays[j].MarketType {
			return displays[i].MarketType > displays[j].MarketType // SPOT 在前
		}
		return displays[i].Exchange < displays[j].Exchange
	})
	return displays
}

func query(ex common.Exchange, market common.MarketType, fetch func() (*common.PriceTick, error)) *PriceDisplay {
	start := time.Now()
	tick, err := fetch()
	d := &PriceDisplay{Exchange: ex, MarketType: market, Tick: tick, Err: err, Elapsed: time.Since(start)}
	if err == nil && tick.HasBid() && tick.HasAsk() {
		d.Spread = tick.Ask.Sub(tick.Bid).Div(tick.Bid).Mul(hundred)
	}
	return d
}

func displayPrices(symbol string, displays []*PriceDisplay) {
	line := strings.Repeat("═", 103)
	fmt.Printf("\n%s\n", line)
	fmt.Printf("                              实时价格查询 - %s\n", symbol)
	fmt.Printf("%s\n\n", line)

	fmt.Printf("%-10s %-8s %20s %20s %10s %18s %10s\n",
		"交易所", "市场", "买价(Bid)", "卖价(Ask)", "价差%", "24h量", "耗时")
	fmt.Printf("%s\n", strings.Repeat("─", 103))

	for _, d := range displays {
		if d.Err != nil {
			kind := exchange.KindOf(d.Err)
			if kind == "" {
				kind = "ERROR"
			}
			fmt.Printf("%-10s %-8s  %s: %v\n", d.Exchange, d.MarketType, kind, d.Err)
			continue
		}
		fmt.Printf("%-10s %-8s %20s %20s %9s%% %18s %10s\n",
			d.Exchange,
			d.MarketType,
			formatPrice(d.Tick.Bid),
			formatPrice(d.Tick.Ask),
			d.Spread.StringFixed(3),
			d.Tick.Volume24h.StringFixed(2),
			d.Elapsed.Round(time.Millisecond),
		)
	}

	fmt.Printf("\n─────────────────────── 现货价差 ───────────────────────────────────\n")
	printBestSpread(displays)
	fmt.Printf("%s\n", line)
}

// printBestSpread 现货最低卖价与最高买价（未计手续费）
func printBestSpread(displays []*PriceDisplay) {
	var maxBid, minAsk *PriceDisplay
	for _, p := range displays {
		if p.Err != nil || p.MarketType != common.MarketTypeSpot {
			continue
		}
		if p.Tick.HasBid() && (maxBid == nil || p.Tick.Bid.GreaterThan(maxBid.Tick.Bid)) {
			maxBid = p
		}
		if p.Tick.HasAsk() && (minAsk == nil || p.Tick.Ask.LessThan(minAsk.Tick.Ask)) {
			minAsk = p
		}
	}
	if maxBid == nil || minAsk == nil || maxBid.Exchange == minAsk.Exchange {
		fmt.Printf("\n  数据不足，无法比较\n\n")
		return
	}
	if !maxBid.Tick.Bid.GreaterThan(minAsk.Tick.Ask) {
		fmt.Printf("\n  暂无明显价差\n\n")
		return
	}
	diff := maxBid.Tick.Bid.Sub(minAsk.Tick.Ask)
	fmt.Printf("\n  在 %s 买入: %s\n", minAsk.Exchange, minAsk.Tick.Ask)
	fmt.Printf("  在 %s 卖出: %s\n", maxBid.Exchange, maxBid.Tick.Bid)
	fmt.Printf("  价格差: %s (%s%%)\n\n", diff, diff.Div(minAsk.Tick.Ask).Mul(hundred).StringFixed(4))
}

func run(configPath, symbol string, timeout time.Duration) error {
	symbol = strings.ToUpper(symbol)
	if !strings.Contains(symbol, "/") {
		return errors.New("symbol must be BASE/QUOTE, e.g. BTC/USDT")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Log.Output = "stderr"
	if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	// 只使用引擎创建的适配器，不启动后台任务
	eng, err := engine.New(cfg, engine.Options{Logger: log})
	if err != nil {
		return err
	}
	futures := make(map[common.Exchange]bool)
	for _, a := range eng.Adapters() {
		for _, ex := range cfg.EnabledExchanges() {
			if strings.EqualFold(ex.Name, string(a.Name())) {
				futures[a.Name()] = ex.Futures
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	displayPrices(symbol, fetchAll(ctx, eng.Adapters(), futures, symbol))
	return nil
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（为空时使用默认配置和环境变量）")
	symbol := flag.String("symbol", "BTC/USDT", "要查询的标准交易对，如 BTC/USDT")
	timeout := flag.Duration("timeout", 15*time.Second, "查询超时")
	flag.Parse()

	if err := run(*configPath, *symbol, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
