package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/tablepos/internal/domain"
)

// Reader is the read side the handler needs.
type Reader interface {
	ListMenu(ctx context.Context) ([]domain.MenuItem, error)
	TaxRates(ctx context.Context) ([]domain.TaxRate, error)
}

type Handler struct {
	catalog Reader
	logger  *slog.Logger
}

func NewHandler(catalog Reader, logger *slog.Logger) *Handler {
	return &Handler{
		catalog: catalog,
		logger:  logger,
	}
}

func (h *Handler) HandleListMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListMenu(r.Context())
	if err != nil {
		h.logger.Error("failed to list menu", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleListTaxRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.catalog.TaxRates(r.Context())
	if err != nil {
		h.logger.Error("failed to list tax rates", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, rates)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message, "kind": domain.KindDependency})
}
