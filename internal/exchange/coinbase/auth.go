package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	"github.com/benbjohnson/clock"
)

// Signer CB-ACCESS-SIGN = base64(HMAC-SHA256(base64decode(secret), timestamp + method + path + body))
type Signer struct {
	APIKey     string
	Secret     string // base64
	Passphrase string
	Clock      clock.Clock
}

func (s *Signer) Sign(req *http.Request, body []byte) error {
	key, err := base64.StdEncoding.DecodeString(s.Secret)
	if err != nil {
		return fmt.Errorf("decode coinbase secret: %w", err)
	}
	ts := strconv.FormatInt(s.Clock.Now().Unix(), 10)
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	h := hmac.New(sha256.New, key)
	h.Write([]byte(ts + req.Method + path + string(body)))

	req.Header.Set("CB-ACCESS-KEY", s.APIKey)
	req.Header.Set("CB-ACCESS-SIGN", base64.StdEncoding.EncodeToString(h.Sum(nil)))
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	req.Header.Set("CB-ACCESS-PASSPHRASE", s.Passphrase)
	return nil
}
