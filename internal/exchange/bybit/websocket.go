package bybit

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"crypto-arbitrage-engine/internal/exchange"
	"crypto-arbitrage-engine/pkg/common"
)

// 一档深度即最优买卖价
const topicPrefix = "orderbook.1."

type wsRequest struct {
	Op    string   `json:"op"`
	Args  []string `json:"args,omitempty"`
	ReqID string   `json:"req_id,omitempty"`
}

func (a *Adapter) sendSubscription(ctx context.Context, op string, natives []string) error {
	if len(natives) == 0 {
		return nil
	}
	topics := make([]string, len(natives))
	for i, n := range natives {
		topics[i] = topicPrefix + n
	}
	// 单条请求最多 10 个 topic
	for start := 0; start < len(topics); start += 10 {
		end := start + 10
		if end > len(topics) {
			end = len(topics)
		}
		req := wsRequest{Op: op, Args: topics[start:end], ReqID: strconv.FormatInt(a.reqID.Add(1), 10)}
		if err := a.ws.WriteJSON(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) resubscribe(ctx context.Context) error {
	return a.sendSubscription(ctx, "subscribe", a.core.Subs.Natives())
}

func pingMessage() []byte { return []byte(`{"op":"ping"}`) }

// handleMessage orderbook.1 推送，pong 和订阅应答忽略
func (a *Adapter) handleMessage(data []byte) {
	if !gjson.ValidBytes(data) {
		a.core.Logger().Debug().Int("len", len(data)).Msg("malformed message dropped")
		return
	}
	msg := gjson.ParseBytes(data)

	if op := msg.Get("op").String(); op != "" {
		if op == "subscribe" && !msg.Get("success").Bool() {
			a.core.Logger().Warn().Str("ret_msg", msg.Get("ret_msg").String()).Msg("subscription rejected")
		}
		return
	}

	topic := msg.Get("topic").String()
	if !strings.HasPrefix(topic, topicPrefix) {
		return
	}
	book := msg.Get("data")
	native := book.Get("s").String()
	bid := level(book, "b")
	ask := level(book, "a")
	ts := exchange.Millis(msg.Get("ts").Int())

	for _, canonical := range a.core.Targets(native) {
		a.core.Publish(a.core.NewTick(canonical, common.MarketTypeSpot, bid, ask, decimal.Zero, ts, common.PriceSourceWebSocket))
	}
}

// level [[price, size], ...] 的第一档价格
func level(book gjson.Result, side string) decimal.Decimal {
	return exchange.ParseDecimal(book.Get(side + ".0.0").String())
}
