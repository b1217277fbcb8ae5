// Package endpoints provides HTTP endpoint handlers
package endpoints

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/thenexusengine/tne_bidengine/internal/config"
	"github.com/thenexusengine/tne_bidengine/internal/openrtb"
	"github.com/thenexusengine/tne_bidengine/pkg/logger"
)

// maxRequestBodySize limits request body reads to prevent OOM attacks
const maxRequestBodySize = config.DefaultMaxBodySize

// AuctionRunner is the engine surface the auction endpoint needs
type AuctionRunner interface {
	ProcessBidRequest(ctx context.Context, req *openrtb.BidRequest) *openrtb.BidResponse
}

// AuctionHandler handles /openrtb2/auction requests
type AuctionHandler struct {
	engine AuctionRunner
}

// NewAuctionHandler creates a new auction handler
func NewAuctionHandler(engine AuctionRunner) *AuctionHandler {
	return &AuctionHandler{engine: engine}
}

// ServeHTTP handles the auction request
func (h *AuctionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var bidRequest openrtb.BidRequest
	if err := json.Unmarshal(body, &bidRequest); err != nil {
		lg := logger.HTTP()
		lg.Warn().Err(err).Msg("invalid JSON in bid request")
		writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	response := h.engine.ProcessBidRequest(r.Context(), &bidRequest)
	duration := time.Since(start)

	bidCount := 0
	for _, seatBid := range response.SeatBid {
		bidCount += len(seatBid.Bid)
	}

	lg2 := logger.HTTP()
	lg2.Info().
		Str("request_id", bidRequest.ID).
		Int("imp_count", len(bidRequest.Imp)).
		Int("bid_count", bidCount).
		Str("nbr", response.NBR.String()).
		Dur("duration_ms", duration).
		Msg("auction completed")

	// An auction always answers 200 with a well-formed response; no-bids
	// carry an NBR code rather than an HTTP error.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		lg3 := logger.HTTP()
		lg3.Error().Err(err).Str("request_id", bidRequest.ID).
			Msg("failed to encode auction response")
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		lg4 := logger.HTTP()
		lg4.Error().Err(err).Str("message", message).
			Msg("failed to encode error response")
	}
}
