package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thenexusengine/tne_bidengine/internal/budget"
	"github.com/thenexusengine/tne_bidengine/pkg/logger"
)

// BudgetAdmin is the ledger surface exposed to operators
type BudgetAdmin interface {
	SetCampaignBudget(campaignID string, daily, total float64)
	Snapshot(campaignID string) (budget.CampaignSnapshot, error)
}

// CampaignBudgetRequest is the PUT /campaigns/{campaignID}/budget body
type CampaignBudgetRequest struct {
	DailyBudget float64 `json:"dailyBudget"`
	TotalBudget float64 `json:"totalBudget"`
}

// CampaignHandler serves operator endpoints for campaign budgets
type CampaignHandler struct {
	admin BudgetAdmin
}

// NewCampaignHandler creates a campaign admin handler
func NewCampaignHandler(admin BudgetAdmin) *CampaignHandler {
	return &CampaignHandler{admin: admin}
}

// SetBudget handles PUT /campaigns/{campaignID}/budget
func (h *CampaignHandler) SetBudget(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if campaignID == "" {
		writeError(w, "campaignID is required", http.StatusBadRequest)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req CampaignBudgetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	if req.DailyBudget <= 0 || req.TotalBudget <= 0 {
		writeError(w, "dailyBudget and totalBudget must be positive", http.StatusBadRequest)
		return
	}

	h.admin.SetCampaignBudget(campaignID, req.DailyBudget, req.TotalBudget)

	lg := logger.HTTP()
	lg.Info().
		Str("campaign_id", campaignID).
		Float64("daily_budget", req.DailyBudget).
		Float64("total_budget", req.TotalBudget).
		Msg("campaign budget updated")
	w.WriteHeader(http.StatusNoContent)
}

// GetBudget handles GET /campaigns/{campaignID}/budget
func (h *CampaignHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if campaignID == "" {
		writeError(w, "campaignID is required", http.StatusBadRequest)
		return
	}

	snap, err := h.admin.Snapshot(campaignID)
	if err != nil {
		if errors.Is(err, budget.ErrUnknownCampaign) {
			writeError(w, "campaign not found", http.StatusNotFound)
			return
		}
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		lg2 := logger.HTTP()
		lg2.Error().Err(err).Msg("failed to encode budget snapshot")
	}
}
