package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/mxe"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("ledger: get m1: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.Guard("creator_only", domain.ErrUnauthorized), http.StatusUnauthorized},
		{domain.Guard("market_open", domain.ErrInvalidState), http.StatusConflict},
		{domain.Guard("not_settled", domain.ErrAlreadySettled), http.StatusConflict},
		{domain.Guard("settlement_hash", domain.ErrSettlementConflict), http.StatusConflict},
		{domain.Guard("attestation", domain.ErrInvalidAttestation), http.StatusUnprocessableEntity},
		{domain.Guard("conservation", domain.ErrInvalidResult), http.StatusUnprocessableEntity},
		{&mxe.OracleDecodeError{Err: errors.New("truncated")}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: 0 of 3", mxe.ErrNoValidBets), http.StatusUnprocessableEntity},
		{domain.Guard("payout", domain.ErrTransferFailed), http.StatusBadGateway},
		{domain.Guard("fee_bps", domain.ErrInvalidFee), http.StatusBadRequest},
		{fmt.Errorf("mxe: validate: %w", mxe.ErrEmptyMarketID), http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}

func TestWriteDomainError(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	req := httptest.NewRequest(http.MethodGet, "/api/markets/m1", nil)

	rec := httptest.NewRecorder()
	writeDomainError(rec, req, logger, "get market", domain.Guard("market_open", domain.ErrInvalidState))
	require.Equal(t, http.StatusConflict, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "market_open", body.Guard)
	assert.Contains(t, body.Error, "invalid market state")

	rec = httptest.NewRecorder()
	writeDomainError(rec, req, logger, "get market", errors.New("pq: connection refused"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body = errorResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "get market failed", body.Error)
	assert.Empty(t, body.Guard)
}

func TestParseListOpts(t *testing.T) {
	tests := []struct {
		query       string
		limit, skip int
	}{
		{"", 50, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=9999", 500, 0},
		{"limit=-1&offset=-5", 50, 0},
		{"limit=abc", 50, 0},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/markets?"+tc.query, nil)
			opts := parseListOpts(r)
			assert.Equal(t, tc.limit, opts.Limit)
			assert.Equal(t, tc.skip, opts.Offset)
		})
	}
}
