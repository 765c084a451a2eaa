package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/benbjohnson/clock"
)

const recvWindow = "5000"

// Signer v5 签名: hex(HMAC-SHA256(timestamp + apiKey + recvWindow + queryString|body))
type Signer struct {
	APIKey    string
	SecretKey string
	Clock     clock.Clock
}

func (s *Signer) Sign(req *http.Request, body []byte) error {
	ts := strconv.FormatInt(s.Clock.Now().UnixMilli(), 10)
	payload := req.URL.RawQuery
	if req.Method != http.MethodGet {
		payload = string(body)
	}
	req.Header.Set("X-BAPI-API-KEY", s.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", s.signature(ts+s.APIKey+recvWindow+payload))
	return nil
}

func (s *Signer) signature(prehash string) string {
	h := hmac.New(sha256.New, []byte(s.SecretKey))
	h.Write([]byte(prehash))
	return hex.EncodeToString(h.Sum(nil))
}
