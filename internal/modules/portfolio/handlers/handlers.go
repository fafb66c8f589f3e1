// Package handlers provides HTTP handlers for portfolio state.
package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/modules/portfolio"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	store    domain.StateStore
	market   domain.MarketData
	balances domain.BalanceSource
	assets   []domain.Asset
	log      zerolog.Logger
}

// NewHandler creates a new portfolio handler. market and balances may be
// nil, which disables valuation and the exchange balance view.
func NewHandler(
	store domain.StateStore,
	market domain.MarketData,
	balances domain.BalanceSource,
	assets []domain.Asset,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		store:    store,
		market:   market,
		balances: balances,
		assets:   assets,
		log:      log.With().Str("handler", "portfolio").Logger(),
	}
}

// PositionResponse is one tracked asset
type PositionResponse struct {
	Asset      string  `json:"asset"`
	Quantity   string  `json:"quantity"`
	LastWeight float64 `json:"last_weight"`
	Price      string  `json:"price,omitempty"`
	Value      string  `json:"value,omitempty"`
}

// HandleGetPortfolio handles GET /api/portfolio.
// With ?valued=true positions are valued at live quotes.
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.Load(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load portfolio state")
		h.writeError(w, http.StatusInternalServerError, "Failed to load portfolio state")
		return
	}

	positions := make([]PositionResponse, 0, len(h.assets))
	for _, a := range h.assets {
		positions = append(positions, PositionResponse{
			Asset:      a.String(),
			Quantity:   state.Holding(a).String(),
			LastWeight: state.LastWeights[a],
		})
	}

	data := map[string]interface{}{
		"cash":      state.Cash.String(),
		"positions": positions,
	}
	if !state.UpdatedAt.IsZero() {
		data["updated_at"] = state.UpdatedAt.Format(time.RFC3339)
	}

	if r.URL.Query().Get("valued") == "true" && h.market != nil {
		prices := make(map[domain.Asset]decimal.Decimal, len(h.assets))
		for _, a := range h.assets {
			price, err := h.market.GetCurrentPrice(r.Context(), a)
			if err != nil {
				h.log.Warn().Err(err).Str("asset", a.String()).Msg("Failed to fetch quote")
				h.writeError(w, http.StatusBadGateway, "Failed to fetch quote for "+a.String())
				return
			}
			prices[a] = price
		}

		snap, err := portfolio.BuildSnapshot(state, h.assets, prices)
		if err != nil {
			h.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		for i, a := range h.assets {
			positions[i].Price = snap.Prices[a].String()
			positions[i].Value = snap.CurrentValues[a].StringFixed(0)
		}
		data["total_value"] = snap.Value.StringFixed(0)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": data})
}

// HandleGetExchangeBalances handles GET /api/portfolio/exchange.
// It reports what the exchange holds without touching local state.
func (h *Handler) HandleGetExchangeBalances(w http.ResponseWriter, r *http.Request) {
	if h.balances == nil {
		h.writeError(w, http.StatusNotFound, "Exchange balances not available")
		return
	}

	b, err := portfolio.FetchRemoteBalances(r.Context(), h.balances)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch exchange balances")
		h.writeError(w, http.StatusBadGateway, "Failed to fetch exchange balances")
		return
	}

	holdings := make(map[string]string, len(b.Holdings))
	keys := make([]string, 0, len(b.Holdings))
	for a, q := range b.Holdings {
		holdings[a.String()] = q.String()
		keys = append(keys, a.String())
	}
	sort.Strings(keys)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"cash":     b.Cash.String(),
			"holdings": holdings,
			"assets":   keys,
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
