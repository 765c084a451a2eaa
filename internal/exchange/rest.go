package exchange

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crypto-arbitrage-engine/internal/ratelimit"
)

const maxResponseBytes = 8 << 20

// Signer 给 REST 请求加签名头或签名参数
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// NewHTTPClient 所有适配器共用的 HTTP 客户端
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Timeout:   15 * time.Second,
		Transport: transport,
	}
}

// Request 单次 REST 调用
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Body     []byte
	Category string // 限流类别，空为 default
	Cost     int
}

// RESTClient 限流、签名、错误归类后的 REST 客户端
type RESTClient struct {
	core    *Core
	baseURL string
	http    *http.Client

	mu     sync.RWMutex
	signer Signer
}

// NewRESTClient signer 为 nil 时只访问公开接口
func NewRESTClient(core *Core, baseURL string, httpClient *http.Client, signer Signer) *RESTClient {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &RESTClient{
		core:    core,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		signer:  signer,
	}
}

// BaseURL 基础地址
func (c *RESTClient) BaseURL() string { return c.baseURL }

// Signed 当前是否会签名
func (c *RESTClient) Signed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signer != nil
}

func (c *RESTClient) dropSigner(err error) {
	c.mu.Lock()
	c.signer = nil
	c.mu.Unlock()
	c.core.SetPublicMode(err)
}

// Get GET 请求
func (c *RESTClient) Get(ctx context.Context, category, path string, query url.Values) ([]byte, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, Category: category})
}

// Do 执行请求，非 2xx 状态按类别转换为 AdapterError
func (c *RESTClient) Do(ctx context.Context, r Request) ([]byte, error) {
	ctx, done := c.core.Bind(ctx)
	defer done()

	name := c.core.Name()
	op := r.Method + " " + r.Path
	if r.Category == "" {
		r.Category = ratelimit.DefaultCategory
	}
	if r.Cost <= 0 {
		r.Cost = 1
	}
	if err := c.core.Limiter.Acquire(ctx, r.Category, r.Cost); err != nil {
		return nil, Wrap(name, op, err)
	}

	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, NewError(KindAPI, name, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if len(r.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	signer := c.signer
	c.mu.RUnlock()
	signed := false
	if signer != nil {
		if err := signer.Sign(req, r.Body); err != nil {
			// 签名本身失败（密钥格式错误）时直接降级
			c.dropSigner(err)
			c.core.RecordError(NewError(KindAuth, name, op, err))
		} else {
			signed = true
		}
	}

	start := c.core.Clock().Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, NewError(KindConnection, name, op, cause(ctx, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if obs := c.core.Observer(); obs != nil {
		obs.RESTRequest(string(name), r.Path, resp.StatusCode, c.core.Clock().Now().Sub(start))
	}
	if err != nil {
		return nil, NewError(KindConnection, name, op, cause(ctx, err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		ae := &AdapterError{Kind: KindAuth, Exchange: name, Context: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(data))}
		if signed {
			c.dropSigner(ae)
		}
		return nil, ae
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		return nil, &AdapterError{Kind: KindRateLimited, Exchange: name, Context: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(data))}
	default:
		return nil, &AdapterError{Kind: KindAPI, Exchange: name, Context: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(data))}
	}
}

// cause 请求被取消时带上取消原因（如 ErrDisconnected）
func cause(ctx context.Context, err error) error {
	if c := context.Cause(ctx); c != nil && !errors.Is(err, c) {
		return fmt.Errorf("%w: %w", c, err)
	}
	return err
}

func snippet(data []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// LimitedTransport 为第三方 SDK 的 HTTP 客户端加限流
type LimitedTransport struct {
	Core     *Core
	Category string
	Base     http.RoundTripper
}

func (t *LimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	category := t.Category
	if category == "" {
		category = ratelimit.DefaultCategory
	}
	ctx, done := t.Core.Bind(req.Context())
	if err := t.Core.Limiter.Acquire(ctx, category, 1); err != nil {
		done()
		return nil, Wrap(t.Core.Name(), req.Method+" "+req.URL.Path, err)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	start := t.Core.Clock().Now()
	resp, err := base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		done()
		return nil, cause(ctx, err)
	}
	if obs := t.Core.Observer(); obs != nil {
		obs.RESTRequest(string(t.Core.Name()), req.URL.Path, resp.StatusCode, t.Core.Clock().Now().Sub(start))
	}
	// 响应体读完之前仍可被 Disconnect 取消
	resp.Body = &boundBody{ReadCloser: resp.Body, done: done}
	return resp, nil
}

type boundBody struct {
	io.ReadCloser
	done context.CancelFunc
}

func (b *boundBody) Close() error {
	err := b.ReadCloser.Close()
	b.done()
	return err
}
