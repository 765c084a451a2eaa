package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"

	"github.com/benbjohnson/clock"
)

// Signer signature = Base64(HMAC-SHA256(timestamp + method + requestPath + body, secretKey))
type Signer struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	Clock      clock.Clock
}

func (s *Signer) Sign(req *http.Request, body []byte) error {
	// ISO 8601 UTC，毫秒精度
	timestamp := s.Clock.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	req.Header.Set("OK-ACCESS-KEY", s.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", s.signature(timestamp, req.Method, path, string(body)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", s.Passphrase)
	return nil
}

func (s *Signer) signature(timestamp, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(s.SecretKey))
	h.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
