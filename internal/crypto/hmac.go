package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names carried on signed asset-transfer requests.
const (
	HeaderAPIKey    = "X-Sealed-Api-Key"
	HeaderTimestamp = "X-Sealed-Timestamp"
	HeaderSignature = "X-Sealed-Signature"
)

// HMACAuth holds the credentials for HMAC-authenticated calls to the asset
// transfer service.
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers signs a request at the current time.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt returns the signed headers for a request at the given Unix time.
// The signature is base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(h.Secret), ts+method+path+body),
	}
}

// Verify checks a signature produced by HeadersAt, accepting timestamps
// within maxSkew of now.
func (h *HMACAuth) Verify(method, path, body, ts, sig string, now time.Time, maxSkew time.Duration) bool {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < -maxSkew || skew > maxSkew {
		return false
	}
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(sig))
}

// String returns a redacted form for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
