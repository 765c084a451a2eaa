package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/benbjohnson/clock"
)

// Signer HMAC SHA256 查询串签名，API key 放在 X-MBX-APIKEY
type Signer struct {
	APIKey     string
	SecretKey  string
	RecvWindow int64
	Clock      clock.Clock
}

// Sign 追加 timestamp、recvWindow 和 signature 参数
func (s *Signer) Sign(req *http.Request, _ []byte) error {
	q := req.URL.Query()
	q.Set("timestamp", strconv.FormatInt(s.Clock.Now().UnixMilli(), 10))
	recv := s.RecvWindow
	if recv <= 0 {
		recv = 5000
	}
	q.Set("recvWindow", strconv.FormatInt(recv, 10))

	payload := q.Encode()
	req.URL.RawQuery = payload + "&signature=" + s.signature(payload)
	req.Header.Set("X-MBX-APIKEY", s.APIKey)
	return nil
}

func (s *Signer) signature(payload string) string {
	h := hmac.New(sha256.New, []byte(s.SecretKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
