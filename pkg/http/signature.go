package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Webhook requests are signed with a shared secret: the signature is
// an HMAC-SHA256, over the timestamp, the method, and the SHA256 of
// the body, each on its own line.
const (
	HeaderTimestamp = "X-Conveyor-Timestamp"
	HeaderSignature = "X-Conveyor-Signature"

	DefaultMaxSkew = 5 * time.Minute
)

func webhookMAC(secret, ts, method string, body []byte) []byte {
	sum := sha256.Sum256(body)
	msg := strings.Join([]string{
		ts,
		strings.ToUpper(method),
		hex.EncodeToString(sum[:]),
	}, "\n")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// SignRequest sets the timestamp and signature headers on a request
// with the body given.
func SignRequest(req *http.Request, secret string, body []byte, now time.Time) {
	ts := strconv.FormatInt(now.Unix(), 10)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, base64.RawURLEncoding.EncodeToString(webhookMAC(secret, ts, req.Method, body)))
}

// VerifyRequest checks the signature on a request with the body
// given, and that it was made within maxSkew of now.
func VerifyRequest(req *http.Request, secret string, body []byte, now time.Time, maxSkew time.Duration) error {
	ts := strings.TrimSpace(req.Header.Get(HeaderTimestamp))
	sig := strings.TrimSpace(req.Header.Get(HeaderSignature))
	if ts == "" || sig == "" {
		return errors.New("missing signature headers")
	}
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.Wrap(err, "invalid timestamp")
	}
	if maxSkew > 0 {
		signed := time.Unix(secs, 0)
		if signed.After(now.Add(maxSkew)) || signed.Before(now.Add(-maxSkew)) {
			return errors.New("timestamp outside allowed skew")
		}
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return errors.New("invalid signature encoding")
	}
	if !hmac.Equal(webhookMAC(secret, ts, req.Method, body), got) {
		return errors.New("invalid signature")
	}
	return nil
}
