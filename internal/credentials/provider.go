// Package credentials 交易所 API 凭证查询（持久化与加密不在此处）
package credentials

import (
	"os"
	"strings"
)

// Credentials API key/secret，OKX、Coinbase 需要 passphrase
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Complete key 与 secret 都存在
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Provider lookup(exchangeName) -> optional credentials
type Provider interface {
	Lookup(exchange string) (Credentials, bool)
}

// Static 固定凭证表（来自配置文件）
type Static map[string]Credentials

// Lookup 按交易所名称（不区分大小写）查找
func (s Static) Lookup(exchange string) (Credentials, bool) {
	for name, c := range s {
		if strings.EqualFold(name, exchange) && c.Complete() {
			return c, true
		}
	}
	return Credentials{}, false
}

// Env 从环境变量读取 <NAME>_API_KEY / <NAME>_API_SECRET / <NAME>_PASSPHRASE
type Env struct {
	Getenv func(string) string
}

// Lookup 读取环境变量
func (e Env) Lookup(exchange string) (Credentials, bool) {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	prefix := strings.ToUpper(exchange)
	c := Credentials{
		APIKey:     getenv(prefix + "_API_KEY"),
		APISecret:  getenv(prefix + "_API_SECRET"),
		Passphrase: getenv(prefix + "_PASSPHRASE"),
	}
	return c, c.Complete()
}

// Chain 依次查询，第一个命中的生效
type Chain []Provider

// Lookup 依次查询
func (c Chain) Lookup(exchange string) (Credentials, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if creds, ok := p.Lookup(exchange); ok {
			return creds, true
		}
	}
	return Credentials{}, false
}

// None 没有任何凭证，适配器全部工作在公共数据模式
type None struct{}

// Lookup 总是返回 false
func (None) Lookup(string) (Credentials, bool) { return Credentials{}, false }
