package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"crypto-arbitrage-engine/internal/ratelimit"
)

// WSConfig 单条 WebSocket 连接的参数
type WSConfig struct {
	URL            string
	PingInterval   time.Duration
	Ping           func() []byte // 应用层心跳，nil 时发送 ping 控制帧
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxLifetime    time.Duration // 超过后主动重连，0 为不限
}

func (c *WSConfig) setDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * c.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
}

var errNotConnected = errors.New("websocket not connected")

// WSConn 单条持久连接：一个读循环、一个写锁、断线指数退避重连
// 重连成功后调用 onConnect 重新订阅
type WSConn struct {
	core      *Core
	cfg       WSConfig
	handle    func(data []byte)
	onConnect func(ctx context.Context) error
	dialer    *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

// NewWSConn handle 在读循环 goroutine 中同步调用
func NewWSConn(core *Core, cfg WSConfig, handle func([]byte), onConnect func(ctx context.Context) error) *WSConn {
	cfg.setDefaults()
	return &WSConn{
		core:      core,
		cfg:       cfg,
		handle:    handle,
		onConnect: onConnect,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// Start 建立连接并启动读循环，重复调用无副作用
func (w *WSConn) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return nil
	}
	w.core.States.Transition(StateConnecting)
	conn, err := w.dial(ctx)
	if err != nil {
		w.mu.Unlock()
		w.core.States.Transition(StateDisconnected)
		ae := NewError(KindConnection, w.core.Name(), "dial "+w.cfg.URL, err)
		w.core.RecordError(ae)
		return ae
	}
	runCtx, cancel := context.WithCancel(context.Background())
	w.conn = conn
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	w.core.States.Transition(StateConnected)
	w.core.Logger().Info().Str("url", w.cfg.URL).Msg("websocket connected")
	w.resubscribe(runCtx)

	go w.run(runCtx, conn, done)
	return nil
}

// Connected 当前是否持有连接
func (w *WSConn) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

func (w *WSConn) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := w.dialer.DialContext(ctx, w.cfg.URL, nil)
	return conn, err
}

func (w *WSConn) resubscribe(ctx context.Context) {
	if w.onConnect == nil {
		return
	}
	if err := w.onConnect(ctx); err != nil {
		w.core.RecordError(err)
		w.core.Logger().Warn().Err(err).Msg("resubscribe failed")
	}
}

func (w *WSConn) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := w.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		w.core.RecordError(NewError(KindConnection, w.core.Name(), "read", err))
		w.core.States.Transition(StateDegraded)
		w.core.Logger().Warn().Err(err).Msg("websocket dropped, reconnecting")

		conn = w.reconnect(ctx)
		if conn == nil {
			return
		}
		w.core.RecordReconnect()
		w.core.States.Transition(StateConnected)
		w.core.Logger().Info().Msg("websocket reconnected")
		w.resubscribe(ctx)
	}
}

// serve 读循环，连接出错时返回
func (w *WSConn) serve(ctx context.Context, conn *websocket.Conn) error {
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(w.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	stop := make(chan struct{})
	defer close(stop)
	go w.keepalive(conn, stop)

	if w.cfg.MaxLifetime > 0 {
		t := w.core.Clock().AfterFunc(w.cfg.MaxLifetime, func() {
			w.core.Logger().Info().Msg("websocket lifetime reached, recycling connection")
			_ = conn.Close()
		})
		defer t.Stop()
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		extend()
		w.handle(msg)
	}
}

func (w *WSConn) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			var err error
			if w.cfg.Ping != nil {
				_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
				err = conn.WriteMessage(websocket.TextMessage, w.cfg.Ping())
			} else {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.cfg.WriteTimeout))
			}
			w.writeMu.Unlock()
			if err != nil {
				w.core.Logger().Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// reconnect 指数退避直到成功或 ctx 取消
func (w *WSConn) reconnect(ctx context.Context) *websocket.Conn {
	w.mu.Lock()
	w.conn = nil
	w.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		c, err := w.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		w.core.Logger().Warn().Err(err).Dur("retry_in", next).Msg("reconnect failed")
	})
	if err != nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
		return nil
	}
	w.conn = conn
	return conn
}

// WriteJSON 发送控制消息（订阅/退订），占用 subscribe 限流桶
func (w *WSConn) WriteJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return NewError(KindAPI, w.core.Name(), "encode control message", err)
	}
	return w.Write(ctx, data)
}

// Write 发送原始文本消息
func (w *WSConn) Write(ctx context.Context, data []byte) error {
	if err := w.core.Limiter.Acquire(ctx, ratelimit.CategorySubscribe, 1); err != nil {
		return Wrap(w.core.Name(), "ws write", err)
	}
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return NewError(KindConnection, w.core.Name(), "ws write", errNotConnected)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return NewError(KindConnection, w.core.Name(), "ws write", err)
	}
	return nil
}

// Close 停止读循环并关闭连接，等待读循环退出
func (w *WSConn) Close() error {
	w.mu.Lock()
	cancel, conn, done := w.cancel, w.conn, w.done
	w.cancel, w.conn, w.done = nil, nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	var err error
	if conn != nil {
		w.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = conn.Close()
	}
	<-done
	w.core.States.Transition(StateDisconnected)
	return err
}
