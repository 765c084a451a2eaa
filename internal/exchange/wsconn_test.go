package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-arbitrage-engine/config"
	"crypto-arbitrage-engine/internal/symbols"
	"crypto-arbitrage-engine/pkg/common"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsServer 每个连接先推一条消息，然后回显收到的消息；dropFirst 时第一条连接立即断开
func wsServer(t *testing.T, dropFirst bool) (*httptest.Server, *atomic.Int32) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)
		if dropFirst && n == 1 {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":true}`))
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(mt, msg)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newWSCore() *Core {
	return NewCore(common.ExchangeBybit, Deps{
		Config: config.ExchangeConfig{Name: "bybit"},
		Logger: zerolog.Nop(),
		Clock:  clock.New(),
	}, symbols.ConcatRules{})
}

func TestWSConn_ReadsAndWrites(t *testing.T) {
	srv, _ := wsServer(t, false)
	core := newWSCore()

	msgs := make(chan string, 8)
	var connects atomic.Int32
	ws := NewWSConn(core, WSConfig{URL: wsURL(srv)}, func(b []byte) { msgs <- string(b) }, func(context.Context) error {
		connects.Add(1)
		return nil
	})

	require.NoError(t, ws.Start(context.Background()))
	assert.Equal(t, StateConnected, core.States.Current())
	assert.Equal(t, int32(1), connects.Load())

	assert.Equal(t, `{"hello":true}`, <-msgs)
	require.NoError(t, ws.WriteJSON(context.Background(), map[string]string{"op": "subscribe"}))
	select {
	case got := <-msgs:
		assert.JSONEq(t, `{"op":"subscribe"}`, got)
	case <-time.After(2 * time.Second):
		t.Fatal("echo not received")
	}

	require.NoError(t, ws.Close())
	assert.Equal(t, StateDisconnected, core.States.Current())
	assert.False(t, ws.Connected())
}

func TestWSConn_ReconnectsAndResubscribes(t *testing.T) {
	srv, conns := wsServer(t, true)
	core := newWSCore()

	msgs := make(chan string, 8)
	var connects atomic.Int32
	ws := NewWSConn(core, WSConfig{
		URL:            wsURL(srv),
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}, func(b []byte) { msgs <- string(b) }, func(context.Context) error {
		connects.Add(1)
		return nil
	})
	require.NoError(t, ws.Start(context.Background()))
	defer ws.Close()

	select {
	case got := <-msgs:
		assert.Equal(t, `{"hello":true}`, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no message after reconnect")
	}
	assert.Equal(t, int32(2), connects.Load())
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
	assert.Equal(t, int64(1), core.Health().Reconnects)
	assert.Equal(t, StateConnected, core.States.Current())
}

func TestWSConn_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	core := newWSCore()
	ws := NewWSConn(core, WSConfig{URL: url}, func([]byte) {}, nil)
	err := ws.Start(context.Background())
	assert.True(t, IsKind(err, KindConnection))
	assert.Equal(t, StateDisconnected, core.States.Current())
	assert.NoError(t, ws.Close())
}

func TestWSConn_WriteWithoutConnection(t *testing.T) {
	ws := NewWSConn(newWSCore(), WSConfig{URL: "ws://127.0.0.1:1"}, func([]byte) {}, nil)
	err := ws.Write(context.Background(), []byte("x"))
	assert.True(t, IsKind(err, KindConnection))
}
