package endpoints

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/thenexusengine/tne_bidengine/pkg/logger"
)

// StatsProvider exposes aggregated engine counters
type StatsProvider interface {
	GetServerStatistics() map[string]any
}

// StatusHandler handles /status requests
type StatusHandler struct {
	stats StatsProvider
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(stats StatsProvider) *StatusHandler {
	return &StatusHandler{stats: stats}
}

// ServeHTTP handles status requests
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.stats != nil {
		body["statistics"] = h.stats.GetServerStatistics()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		lg := logger.HTTP()
		lg.Error().Err(err).Msg("failed to encode status response")
	}
}
