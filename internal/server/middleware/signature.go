package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/sealedmarket/internal/crypto"
)

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 4 << 20

// Signed returns middleware that requires the HMAC headers produced by
// crypto.HMACAuth. A nil auth disables the check.
func Signed(auth *crypto.HMACAuth, maxSkew time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get(crypto.HeaderAPIKey) != auth.Key {
				writeUnauthorized(w, "unknown api key")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeUnauthorized(w, "unreadable body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			ok := auth.Verify(r.Method, r.URL.Path, string(body),
				r.Header.Get(crypto.HeaderTimestamp),
				r.Header.Get(crypto.HeaderSignature),
				time.Now(), maxSkew)
			if !ok {
				writeUnauthorized(w, "invalid request signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
