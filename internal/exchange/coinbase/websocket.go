package coinbase

import (
	"context"
	"encoding/json"
	"time"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/pkg/common"
)

type wsRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type wsTicker struct {
	Type      string    `json:"type"`
	ProductID string    `json:"product_id"`
	Price     string    `json:"price"`
	BestBid   string    `json:"best_bid"`
	BestAsk   string    `json:"best_ask"`
	Volume24h string    `json:"volume_24h"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason"`
}

func (a *Adapter) sendSubscription(ctx context.Context, typ string, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	return a.ws.WriteJSON(ctx, wsRequest{Type: typ, ProductIDs: productIDs, Channels: []string{"ticker"}})
}

func (a *Adapter) resubscribe(ctx context.Context) error {
	return a.sendSubscription(ctx, "subscribe", a.core.Subs.Natives())
}

// handleMessage ticker 频道；subscriptions、heartbeat 等消息忽略
func (a *Adapter) handleMessage(data []byte) {
	var msg wsTicker
	if err := json.Unmarshal(data, &msg); err != nil {
		a.core.Logger().Debug().Err(err).Msg("malformed message dropped")
		return
	}
	switch msg.Type {
	case "ticker":
	case "error":
		a.core.Logger().Warn().Str("message", msg.Message).Str("reason", msg.Reason).Msg("ws error")
		return
	default:
		return
	}

	volume := exchange.ParseDecimal(msg.Volume24h).Mul(exchange.ParseDecimal(msg.Price))
	for _, canonical := range a.core.Targets(msg.ProductID) {
		a.core.Publish(a.core.NewTick(canonical, common.MarketTypeSpot,
			exchange.ParseDecimal(msg.BestBid), exchange.ParseDecimal(msg.BestAsk), volume,
			msg.Time, common.PriceSourceWebSocket))
	}
}
