// Package handlers provides HTTP handlers for ledger operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/modules/ledger"
	"github.com/rs/zerolog"
)

const maxLimit = 1000

// Reader is the read side of the ledger repository
type Reader interface {
	Recent(ctx context.Context, f ledger.Filter) ([]domain.LedgerRecord, error)
	ByCycle(ctx context.Context, cycleID string) ([]domain.LedgerRecord, error)
}

// Handler handles ledger HTTP requests
type Handler struct {
	reader Reader
	log    zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(reader Reader, log zerolog.Logger) *Handler {
	return &Handler{
		reader: reader,
		log:    log.With().Str("handler", "ledger").Logger(),
	}
}

// RecordResponse is the JSON form of a ledger record
type RecordResponse struct {
	Timestamp      string `json:"timestamp"`
	CycleID        string `json:"cycle_id"`
	Asset          string `json:"asset"`
	Action         string `json:"action"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	Fee            string `json:"fee"`
	Cash           string `json:"cash"`
	PortfolioValue string `json:"portfolio_value"`
	Note           string `json:"note"`
}

// HandleGetRecords handles GET /api/ledger
func (h *Handler) HandleGetRecords(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	filter := ledger.Filter{
		Asset:  domain.Asset(strings.ToUpper(r.URL.Query().Get("asset"))),
		Action: domain.Action(strings.ToUpper(r.URL.Query().Get("action"))),
		Limit:  limit,
	}

	records, err := h.reader.Recent(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query ledger")
		http.Error(w, "Failed to query ledger", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": toResponses(records),
		"count":   len(records),
	})
}

// HandleGetCycle handles GET /api/ledger/cycles/{id}
func (h *Handler) HandleGetCycle(w http.ResponseWriter, r *http.Request, cycleID string) {
	records, err := h.reader.ByCycle(r.Context(), cycleID)
	if err != nil {
		h.log.Error().Err(err).Str("cycle_id", cycleID).Msg("Failed to query cycle")
		http.Error(w, "Failed to query cycle", http.StatusInternalServerError)
		return
	}
	if len(records) == 0 {
		http.Error(w, "Cycle not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cycle_id": cycleID,
		"records":  toResponses(records),
	})
}

func toResponses(records []domain.LedgerRecord) []RecordResponse {
	out := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, RecordResponse{
			Timestamp:      rec.Timestamp.Format(time.RFC3339),
			CycleID:        rec.CycleID,
			Asset:          rec.Asset.String(),
			Action:         string(rec.Action),
			Price:          rec.Price.String(),
			Quantity:       rec.Quantity.String(),
			Fee:            rec.Fee.String(),
			Cash:           rec.Cash.String(),
			PortfolioValue: rec.PortfolioValue.String(),
			Note:           rec.Note,
		})
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
