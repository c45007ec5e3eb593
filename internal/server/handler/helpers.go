package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/mxe"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// errorResponse is the JSON body of every non-2xx response. Guard is set when
// a ledger guard rejected the request.
type errorResponse struct {
	Error string `json:"error"`
	Guard string `json:"guard,omitempty"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps err to a status code and writes it. Server-side
// failures are logged and reported without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, status, op+" failed")
		return
	}

	resp := errorResponse{Error: err.Error()}
	var ge *domain.GuardError
	if errors.As(err, &ge) {
		resp.Guard = ge.Guard
	}
	if status == http.StatusBadGateway {
		logger.WarnContext(r.Context(), "handler: "+op+" upstream failure",
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, resp)
}

// statusFor maps domain and computation errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrStateConflict),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrSettlementConflict),
		errors.Is(err, domain.ErrDeadlineNotReached),
		errors.Is(err, domain.ErrDeadlinePassed),
		errors.Is(err, domain.ErrJobNotFailed),
		errors.Is(err, domain.ErrInvalidJobStatus),
		errors.Is(err, domain.ErrCannotCancelWithBet),
		errors.Is(err, domain.ErrBetCapReached),
		errors.Is(err, domain.ErrNoBets),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAttestation),
		errors.Is(err, domain.ErrMalformedResult),
		errors.Is(err, domain.ErrMarketMismatch),
		errors.Is(err, domain.ErrInvalidResult),
		errors.Is(err, mxe.ErrNoValidBets):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidDeadline),
		errors.Is(err, domain.ErrQuestionTooLong),
		errors.Is(err, domain.ErrBlobTooLarge),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidFee),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrPoolOverflow),
		errors.Is(err, domain.ErrInvalidHash),
		errors.Is(err, mxe.ErrEmptyMarketID):
		return http.StatusBadRequest
	}
	var oe *mxe.OracleDecodeError
	if errors.As(err, &oe) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
