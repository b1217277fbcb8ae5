package endpoints

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/thenexusengine/tne_bidengine/pkg/logger"
)

// Notifier settles issued bids against the budget ledger
type Notifier interface {
	HandleWinNotification(bidID string, winPrice float64)
	HandleLossNotification(bidID string, winPrice float64, lossReason string)
}

// WinNotification is the /notify/win request body
type WinNotification struct {
	BidID    string  `json:"bidId"`
	WinPrice float64 `json:"winPrice"`
}

// LossNotification is the /notify/loss request body
type LossNotification struct {
	BidID      string  `json:"bidId"`
	WinPrice   float64 `json:"winPrice,omitempty"`
	LossReason string  `json:"lossReason,omitempty"`
}

// WinHandler handles /notify/win requests
type WinHandler struct {
	notifier Notifier
}

// NewWinHandler creates a win notification handler
func NewWinHandler(n Notifier) *WinHandler {
	return &WinHandler{notifier: n}
}

// ServeHTTP handles the win notification
func (h *WinHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var note WinNotification
	if !decodeNotification(w, r, &note) {
		return
	}
	if note.BidID == "" {
		writeError(w, "bidId is required", http.StatusBadRequest)
		return
	}
	if note.WinPrice < 0 {
		writeError(w, "winPrice cannot be negative", http.StatusBadRequest)
		return
	}

	h.notifier.HandleWinNotification(note.BidID, note.WinPrice)
	w.WriteHeader(http.StatusNoContent)
}

// LossHandler handles /notify/loss requests
type LossHandler struct {
	notifier Notifier
}

// NewLossHandler creates a loss notification handler
func NewLossHandler(n Notifier) *LossHandler {
	return &LossHandler{notifier: n}
}

// ServeHTTP handles the loss notification
func (h *LossHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var note LossNotification
	if !decodeNotification(w, r, &note) {
		return
	}
	if note.BidID == "" {
		writeError(w, "bidId is required", http.StatusBadRequest)
		return
	}

	h.notifier.HandleLossNotification(note.BidID, note.WinPrice, note.LossReason)
	w.WriteHeader(http.StatusNoContent)
}

// decodeNotification reads and parses a notification body; on failure it
// writes the error response and returns false
func decodeNotification(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		lg := logger.HTTP()
		lg.Warn().Err(err).Msg("invalid JSON in notification")
		writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return false
	}
	return true
}
