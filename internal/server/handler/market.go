package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/ledger"
)

// MarketService defines the read methods that the market handler requires.
// It is declared locally so the handler package does not depend on the
// concrete service implementation.
type MarketService interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error)
}

// MarketLedger is the write side of the market lifecycle.
type MarketLedger interface {
	CreateMarket(ctx context.Context, p ledger.CreateMarketParams) (domain.Market, error)
	CancelMarket(ctx context.Context, marketID, caller string) (domain.Market, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	ledger  MarketLedger
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service, ledger and
// logger.
func NewMarketHandler(markets MarketService, l MarketLedger, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		ledger:  l,
		logger:  logHandler(logger, "markets"),
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	State   string          `json:"state,omitempty"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// createMarketRequest is a market creation signed by its creator.
type createMarketRequest struct {
	ledger.CreateMarketParams
	Signature []byte `json:"signature"`
}

// CreateMarket registers a new open market. The creator is the address that
// signed the request.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := req.CreateMarketParams
	creator, status, err := principal(req.Signature, p.Creator, ActionCreateMarket, CreateMarketFields(p)...)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	p.Creator = creator

	m, err := h.ledger.CreateMarket(r.Context(), p)
	if err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMarkets returns markets newest first, optionally filtered by state.
// GET /api/markets?state=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	state := domain.MarketState(r.URL.Query().Get("state"))
	if state != "" && !state.Valid() {
		writeError(w, http.StatusBadRequest, "unknown market state "+string(state))
		return
	}

	markets, err := h.markets.ListMarkets(r.Context(), state, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		State:   string(state),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type cancelRequest struct {
	Caller    string `json:"caller"`
	Signature []byte `json:"signature"`
}

// CancelMarket cancels an open market that has no bets. Only the creator may
// cancel, and the caller must sign the request.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, status, err := principal(req.Signature, req.Caller, ActionCancelMarket, CancelMarketFields(id)...)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	m, err := h.ledger.CancelMarket(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "cancel market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
