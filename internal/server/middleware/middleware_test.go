package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/sealedmarket/internal/cache/memory"
	"github.com/alanyoungcy/sealedmarket/internal/crypto"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
})

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(okHandler)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"exempt path", "/api/health", nil, http.StatusOK},
		{"missing token", "/api/markets", nil, http.StatusUnauthorized},
		{"bearer", "/api/markets", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"api key header", "/api/markets", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"wrong key", "/api/markets", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	Auth("")(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "empty key disables auth")
}

func TestSigned(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "node", Secret: "s3cret"}
	h := Signed(auth, 30*time.Second)(okHandler)
	const body = `{"market_id":"m1"}`

	// signed builds a request to the resolve path carrying headers signed
	// over signPath and payload.
	signed := func(signPath, payload string, ts int64) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/mxe/resolve", strings.NewReader(body))
		for k, v := range auth.HeadersAt(http.MethodPost, signPath, payload, ts) {
			req.Header.Set(k, v)
		}
		return req
	}

	t.Run("valid signature passes body through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signed("/api/mxe/resolve", body, time.Now().Unix()))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, body, rec.Body.String())
	})

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"stale timestamp", signed("/api/mxe/resolve", body, time.Now().Add(-time.Hour).Unix())},
		{"tampered body", signed("/api/mxe/resolve", `{"market_id":"m2"}`, time.Now().Unix())},
		{"other path", signed("/api/other", body, time.Now().Unix())},
		{"unsigned", httptest.NewRequest(http.MethodPost, "/api/mxe/resolve", strings.NewReader(body))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tc.req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	Signed(nil, time.Second)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/mxe/resolve", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), crypto.HeaderSignature)

	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit_SeparatesReadsAndWrites(t *testing.T) {
	h := RateLimit(cachemem.NewRateLimiter(), 1, time.Minute)(okHandler)

	do := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/markets", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost).Code)
	rec := do(http.MethodGet)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestLogging_CapturesStatus(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	Logging(logger)(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/0xabc", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"market_id":"0xabc"`)
}
