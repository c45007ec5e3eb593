package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/sealedmarket/internal/crypto"
	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// TransfersPath is the asset-transfer service route for new transfers.
const TransfersPath = "/v1/transfers"

// Client is the REST client for the asset-transfer service. Requests are
// signed with HMAC headers and carry an Idempotency-Key header.
type Client struct {
	baseURL    string
	httpClient *http.Client
	hmacAuth   *crypto.HMACAuth
}

// NewClient creates a Client. hmac may be nil for unauthenticated services.
func NewClient(baseURL string, hmac *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		hmacAuth:   hmac,
	}
}

// Transfer posts req to the service. The service answers a replayed key
// with the original 2xx response.
func (c *Client) Transfer(ctx context.Context, req domain.TransferRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("transfer/client: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TransfersPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transfer/client: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if c.hmacAuth != nil {
		for k, v := range c.hmacAuth.Headers(http.MethodPost, TransfersPath, string(body)) {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("transfer/client: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("transfer/client: read response: %w", err)
	}
	return checkHTTPStatus(resp.StatusCode, respBody)
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(bytes.TrimSpace(body))
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("transfer/client: %w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("transfer/client: %w: %s", domain.ErrUnauthorized, msg)
	case http.StatusConflict:
		return fmt.Errorf("transfer/client: idempotency key reused: %s", msg)
	default:
		return fmt.Errorf("transfer/client: HTTP %d: %s", statusCode, msg)
	}
}

var _ domain.AssetTransferer = (*Client)(nil)
