package mxe

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

// ResolvePath is the route a computation node serves resolution requests on.
const ResolvePath = "/api/mxe/resolve"

// Client is a Computer backed by a remote computation node. The response is
// not trusted: the ledger verifies its attestation before settling.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewClient creates a Client for the node at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithAuth signs every request with auth. It returns the client for
// chaining.
func (c *Client) WithAuth(auth *crypto.HMACAuth) *Client {
	c.auth = auth
	return c
}

// Resolve posts req to the node and returns its attested response.
func (c *Client) Resolve(ctx context.Context, req domain.ResolutionRequest) (domain.ResolutionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.ResolutionResponse{}, fmt.Errorf("mxe/client: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ResolvePath, bytes.NewReader(body))
	if err != nil {
		return domain.ResolutionResponse{}, fmt.Errorf("mxe/client: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		for k, v := range c.auth.Headers(http.MethodPost, ResolvePath, string(body)) {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.ResolutionResponse{}, fmt.Errorf("mxe/client: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.ResolutionResponse{}, fmt.Errorf("mxe/client: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.ResolutionResponse{}, fmt.Errorf("mxe/client: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var out domain.ResolutionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return domain.ResolutionResponse{}, fmt.Errorf("mxe/client: decode response: %w", err)
	}
	return out, nil
}
