package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
	"github.com/alanyoungcy/sealedmarket/internal/mxe"
)

// MXEHandler exposes the computation engine to remote ledgers.
type MXEHandler struct {
	computer mxe.Computer
	logger   *slog.Logger
}

// NewMXEHandler creates an MXEHandler.
func NewMXEHandler(computer mxe.Computer, logger *slog.Logger) *MXEHandler {
	return &MXEHandler{computer: computer, logger: logHandler(logger, "mxe")}
}

// Resolve decodes, resolves and attests one market. Only the attested
// result leaves the process.
// POST /api/mxe/resolve
func (h *MXEHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req domain.ResolutionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.computer.Resolve(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
