package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/ledger"
)

// Resolver queues resolution jobs.
type Resolver interface {
	Request(ctx context.Context, marketID string, p ledger.EnqueueParams) (domain.ResolutionJob, error)
}

// SettlementLedger is the subset of the ledger the resolution endpoints use.
type SettlementLedger interface {
	LatestJob(ctx context.Context, marketID string) (domain.ResolutionJob, error)
	Settle(ctx context.Context, marketID string, resultBytes, sig []byte) (domain.Market, error)
	GetSettlement(ctx context.Context, marketID string) (domain.Settlement, error)
}

// ResolutionHandler serves resolution requests, attested-result callbacks
// and settlement reads.
type ResolutionHandler struct {
	resolver Resolver
	ledger   SettlementLedger
	archive  domain.AttestationArchiver
	logger   *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler. archive may be nil, in
// which case attestations are served from the settlement record.
func NewResolutionHandler(resolver Resolver, l SettlementLedger, archive domain.AttestationArchiver, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		resolver: resolver,
		ledger:   l,
		archive:  archive,
		logger:   logHandler(logger, "resolution"),
	}
}

// Resolve closes betting and queues a resolution job. The body is optional.
// POST /api/markets/{id}/resolve
func (h *ResolutionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var p ledger.EnqueueParams
	if err := decodeJSON(r, &p); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.resolver.Request(r.Context(), pathParam(r, "id"), p)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// LatestJob returns the market's most recent resolution job.
// GET /api/markets/{id}/job
func (h *ResolutionHandler) LatestJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.ledger.LatestJob(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// callbackRequest carries an attested result. Both fields are base64 in JSON.
type callbackRequest struct {
	ResultBytes []byte `json:"result_bytes"`
	Signature   []byte `json:"signature"`
}

// Callback verifies an attested result and settles the market.
// POST /api/markets/{id}/callback
func (h *ResolutionHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.ledger.Settle(r.Context(), pathParam(r, "id"), req.ResultBytes, req.Signature)
	if err != nil {
		writeDomainError(w, r, h.logger, "settle market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Settlement returns the payout cursor of a settling or settled market.
// GET /api/markets/{id}/settlement
func (h *ResolutionHandler) Settlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.ledger.GetSettlement(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// attestationResponse is the externally verifiable part of a settlement.
type attestationResponse struct {
	MarketID    string          `json:"market_id"`
	ResultHash  domain.Hash     `json:"result_hash"`
	ResultBytes []byte          `json:"result_bytes"`
	Signature   []byte          `json:"signature"`
	Payouts     []domain.Payout `json:"payouts"`
	Source      string          `json:"source"`
}

// Attestation returns the attested result a market settled with, preferring
// the archived copy.
// GET /api/markets/{id}/attestation
func (h *ResolutionHandler) Attestation(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if h.archive != nil {
		s, err := h.archive.Fetch(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, toAttestation(s, "archive"))
			return
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.WarnContext(r.Context(), "handler: archive fetch failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	s, err := h.ledger.GetSettlement(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get attestation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAttestation(s, "ledger"))
}

func toAttestation(s domain.Settlement, source string) attestationResponse {
	return attestationResponse{
		MarketID:    s.MarketID,
		ResultHash:  s.ResultHash,
		ResultBytes: s.ResultBytes,
		Signature:   s.Signature,
		Payouts:     s.Payouts,
		Source:      source,
	}
}
