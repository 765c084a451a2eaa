package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

type product struct {
	ID              string `json:"id"`
	BaseCurrency    string `json:"base_currency"`
	QuoteCurrency   string `json:"quote_currency"`
	Status          string `json:"status"`
	TradingDisabled bool   `json:"trading_disabled"`
}

type ticker struct {
	Ask    string    `json:"ask"`
	Bid    string    `json:"bid"`
	Price  string    `json:"price"`
	Volume string    `json:"volume"`
	Time   time.Time `json:"time"`
}

// fetchTicker GET /products/{id}/ticker
func (a *Adapter) fetchTicker(ctx context.Context, canonical, productID string) (*common.PriceTick, error) {
	body, err := a.rest.Get(ctx, "", "/products/"+productID+"/ticker", nil)
	if err != nil {
		var ae *exchange.AdapterError
		if errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound {
			ae.Kind = exchange.KindUnsupportedSymbol
		}
		return nil, err
	}
	var t ticker
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, exchange.NewError(exchange.KindAPI, common.ExchangeCoinbase, "decode ticker "+productID, err)
	}
	// volume 以基础货币计，换算成计价货币成交额
	volume := exchange.ParseDecimal(t.Volume).Mul(exchange.ParseDecimal(t.Price))
	return a.core.NewTick(canonical, common.MarketTypeSpot,
		exchange.ParseDecimal(t.Bid), exchange.ParseDecimal(t.Ask), volume,
		t.Time, common.PriceSourceREST), nil
}

// loadSymbols GET /products
func (a *Adapter) loadSymbols(ctx context.Context) error {
	body, err := a.rest.Get(ctx, "", "/products", nil)
	if err != nil {
		return err
	}
	var products []product
	if err := json.Unmarshal(body, &products); err != nil {
		return exchange.NewError(exchange.KindAPI, common.ExchangeCoinbase, "decode products", err)
	}
	pairs := make([]symbols.Pair, 0, len(products))
	for _, p := range products {
		if p.Status != "online" || p.TradingDisabled {
			continue
		}
		pairs = append(pairs, symbols.Pair{Base: p.BaseCurrency, Quote: p.QuoteCurrency, Native: p.ID})
	}
	a.core.Symbols.Load(pairs)
	a.core.Logger().Info().Int("pairs", len(pairs)).Msg("symbol listing loaded")
	return nil
}
