package binance

import "encoding/json"

// wsBookTicker 现货/合约 bookTicker 推送
type wsBookTicker struct {
	EventType string `json:"e"` // 合约推送带 "bookTicker"，现货没有
	UpdateID  int64  `json:"u"`
	EventTime int64  `json:"E"`
	TxnTime   int64  `json:"T"`
	Symbol    string `json:"s"`
	BidPrice  string `json:"b"`
	BidQty    string `json:"B"`
	AskPrice  string `json:"a"`
	AskQty    string `json:"A"`
}

// wsMessage 组合流 {"stream":"...","data":...}
type wsMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wsResponse 订阅请求的应答
type wsResponse struct {
	Result json.RawMessage `json:"result"`
	ID     int64           `json:"id"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// subscribeMessage SUBSCRIBE / UNSUBSCRIBE
type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// futuresBookTicker /fapi/v1/ticker/bookTicker
type futuresBookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
	Time     int64  `json:"time"`
}

// premiumIndex /fapi/v1/premiumIndex
type premiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// apiError Binance 错误体
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
