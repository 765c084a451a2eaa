package binance

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/pkg/common"
)

func streamName(native string) string {
	return strings.ToLower(native) + "@bookTicker"
}

func (a *Adapter) sendSubscription(ctx context.Context, method string, natives []string) error {
	if len(natives) == 0 {
		return nil
	}
	streams := make([]string, len(natives))
	for i, n := range natives {
		streams[i] = streamName(n)
	}
	return a.ws.WriteJSON(ctx, subscribeMessage{
		Method: method,
		Params: streams,
		ID:     a.msgID.Add(1),
	})
}

// resubscribe 连接（含重连）建立后订阅全部 symbol
func (a *Adapter) resubscribe(ctx context.Context) error {
	return a.sendSubscription(ctx, "SUBSCRIBE", a.core.Subs.Natives())
}

// handleMessage 解析推送，无法识别的消息记录后丢弃
func (a *Adapter) handleMessage(data []byte) {
	var combined wsMessage
	if err := json.Unmarshal(data, &combined); err == nil && len(combined.Data) > 0 {
		data = combined.Data
	}

	var bt wsBookTicker
	if err := json.Unmarshal(data, &bt); err == nil && bt.Symbol != "" && bt.BidPrice != "" {
		a.publishBookTicker(&bt)
		return
	}

	var resp wsResponse
	if err := json.Unmarshal(data, &resp); err == nil && resp.ID != 0 {
		if resp.Error != nil {
			a.core.Logger().Warn().Int("code", resp.Error.Code).Str("msg", resp.Error.Msg).Int64("id", resp.ID).Msg("subscription rejected")
		}
		return
	}

	a.core.Logger().Debug().Str("raw", truncate(data, 200)).Msg("unrecognized message dropped")
}

func (a *Adapter) publishBookTicker(bt *wsBookTicker) {
	ts := exchange.Millis(bt.EventTime)
	for _, canonical := range a.core.Targets(bt.Symbol) {
		tick := a.core.NewTick(canonical, common.MarketTypeSpot,
			exchange.ParseDecimal(bt.BidPrice), exchange.ParseDecimal(bt.AskPrice), decimal.Zero,
			ts, common.PriceSourceWebSocket)
		a.core.Publish(tick)
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
