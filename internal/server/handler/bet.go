package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/ledger"
)

// BetLedger is the subset of the ledger the bet endpoints use.
type BetLedger interface {
	DepositBet(ctx context.Context, p ledger.DepositParams) (domain.BetLog, error)
	ListBets(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.BetLog, error)
}

// BetHandler serves the deposit and bet-log endpoints.
type BetHandler struct {
	ledger BetLedger
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(l BetLedger, logger *slog.Logger) *BetHandler {
	return &BetHandler{ledger: l, logger: logHandler(logger, "bets")}
}

// placeBetRequest is the deposit body. EncryptedBlob and Signature are base64
// in JSON. Sequence is the bet count the depositor expects the market to
// have, so a signed deposit is accepted at most once.
type placeBetRequest struct {
	Depositor     string `json:"depositor"`
	Amount        uint64 `json:"amount"`
	EncryptedBlob []byte `json:"encrypted_blob"`
	ChoiceHint    uint8  `json:"choice_hint"`
	Sequence      uint64 `json:"sequence"`
	Signature     []byte `json:"signature"`
}

// PlaceBet escrows a deposit and appends the encrypted bet. The depositor
// must sign the request.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := pathParam(r, "id")
	fields := DepositFields(id, req.Amount, req.Sequence, req.ChoiceHint, req.EncryptedBlob)
	depositor, status, err := principal(req.Signature, req.Depositor, ActionDepositBet, fields...)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	bet, err := h.ledger.DepositBet(r.Context(), ledger.DepositParams{
		MarketID:      id,
		Depositor:     depositor,
		Amount:        req.Amount,
		EncryptedBlob: req.EncryptedBlob,
		ChoiceHint:    req.ChoiceHint,
		Sequence:      &req.Sequence,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// ListBets returns a market's bet log in sequence order.
// GET /api/markets/{id}/bets?limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	bets, err := h.ledger.ListBets(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list bets", err)
		return
	}
	if bets == nil {
		bets = []domain.BetLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bets":   bets,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
