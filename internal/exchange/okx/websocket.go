package okx

import (
	"context"

	"github.com/tidwall/gjson"

	"crypto-arbitrage-engine/pkg/common"
)

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

func (a *Adapter) sendSubscription(ctx context.Context, op string, instIDs []string) error {
	if len(instIDs) == 0 {
		return nil
	}
	args := make([]wsArg, len(instIDs))
	for i, id := range instIDs {
		args[i] = wsArg{Channel: "tickers", InstID: id}
	}
	return a.ws.WriteJSON(ctx, wsRequest{Op: op, Args: args})
}

func (a *Adapter) resubscribe(ctx context.Context) error {
	return a.sendSubscription(ctx, "subscribe", a.core.Subs.Natives())
}

// handleMessage tickers 推送；pong、订阅应答和错误事件不产生 tick
func (a *Adapter) handleMessage(data []byte) {
	if string(data) == "pong" {
		return
	}
	if !gjson.ValidBytes(data) {
		a.core.Logger().Debug().Str("raw", truncate(data, 200)).Msg("malformed message dropped")
		return
	}
	msg := gjson.ParseBytes(data)

	switch msg.Get("event").String() {
	case "":
	case "error":
		a.core.Logger().Warn().Str("code", msg.Get("code").String()).Str("msg", msg.Get("msg").String()).Msg("ws error event")
		return
	default:
		return
	}

	if msg.Get("arg.channel").String() != "tickers" {
		return
	}
	msg.Get("data").ForEach(func(_, t gjson.Result) bool {
		instID := t.Get("instId").String()
		for _, canonical := range a.core.Targets(instID) {
			a.core.Publish(a.tickFromJSON(canonical, common.MarketTypeSpot, t, common.PriceSourceWebSocket))
		}
		return true
	})
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
