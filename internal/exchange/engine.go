// Package exchange orchestrates the auction pipeline: fraud check, candidate
// generation, filtering, pricing, ranking, winner selection, and budget
// reservation.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/thenexusengine/tne_bidengine/internal/bidding"
	"github.com/thenexusengine/tne_bidengine/internal/budget"
	"github.com/thenexusengine/tne_bidengine/internal/candidates"
	"github.com/thenexusengine/tne_bidengine/internal/config"
	"github.com/thenexusengine/tne_bidengine/internal/filter"
	"github.com/thenexusengine/tne_bidengine/internal/fraud"
	"github.com/thenexusengine/tne_bidengine/internal/openrtb"
	"github.com/thenexusengine/tne_bidengine/pkg/logger"
)

// maxAllowedTMax caps tmax to prevent resource exhaustion (10 seconds)
const maxAllowedTMax = 10000

// errNoCandidates marks an impression that produced no eligible candidates,
// as opposed to an internal fault. Both end in no bid; logs and metrics
// distinguish them.
var errNoCandidates = errors.New("no eligible candidates")

// MetricsRecorder receives pipeline events. A nil recorder disables metrics.
type MetricsRecorder interface {
	RecordAuction(status string)
	RecordBid(price float64)
	RecordFraudRejection()
	RecordBudgetEvent(event string)
	RecordImpressionError()
}

// Config holds engine configuration
type Config struct {
	Seat           string        // Seat identifier on outgoing seat bids
	DefaultCur     string        // Bid currency
	DefaultTimeout time.Duration // Deadline when the request carries no tmax
	BidExpiry      int           // Seconds until an issued bid offer is void
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		Seat:           "seat_1",
		DefaultCur:     "USD",
		DefaultTimeout: config.DefaultAuctionTimeout,
		BidExpiry:      3600,
	}
}

// validateConfig applies defaults for invalid values
func validateConfig(config *Config) *Config {
	defaults := DefaultConfig()
	if config.Seat == "" {
		config.Seat = defaults.Seat
	}
	if config.DefaultCur == "" {
		config.DefaultCur = defaults.DefaultCur
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.BidExpiry <= 0 {
		config.BidExpiry = defaults.BidExpiry
	}
	return config
}

// Engine runs auctions. One instance serves all requests concurrently; the
// only shared mutable state lives in the fraud scorer, the budget ledger,
// and the bid-to-reservation table.
type Engine struct {
	config  *Config
	scorer  *fraud.Scorer
	source  candidates.Source
	filter  *filter.Filter
	pricer  *bidding.Pricer
	ledger  *budget.Ledger
	metrics MetricsRecorder

	// bidReservations maps issued bid IDs to budget reservation IDs until a
	// win or loss notification settles them.
	bidReservations sync.Map // bidID string -> reservationID string

	requestsProcessed atomic.Int64
	bidsReturned      atomic.Int64
	noBidReturned     atomic.Int64
	fraudRejected     atomic.Int64
}

// New creates an engine. Config may be nil; all collaborators are required
// except metrics.
func New(config *Config, scorer *fraud.Scorer, source candidates.Source, f *filter.Filter, pricer *bidding.Pricer, ledger *budget.Ledger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	config = validateConfig(config)

	return &Engine{
		config: config,
		scorer: scorer,
		source: source,
		filter: f,
		pricer: pricer,
		ledger: ledger,
	}
}

// SetMetrics installs the metrics recorder
func (e *Engine) SetMetrics(m MetricsRecorder) {
	e.metrics = m
}

// RequestValidationError describes a malformed bid request
type RequestValidationError struct {
	Field  string
	Reason string
}

func (e *RequestValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s - %s", e.Field, e.Reason)
}

// ValidateRequest checks the request shape. Returns nil if valid.
func ValidateRequest(req *openrtb.BidRequest) *RequestValidationError {
	if req == nil {
		return &RequestValidationError{Field: "request", Reason: "nil request"}
	}
	if req.ID == "" {
		return &RequestValidationError{Field: "id", Reason: "missing required field"}
	}
	if len(req.Imp) == 0 {
		return &RequestValidationError{Field: "imp", Reason: "at least one impression is required"}
	}

	impIDs := make(map[string]struct{}, len(req.Imp))
	for i, imp := range req.Imp {
		if imp.ID == "" {
			return &RequestValidationError{
				Field:  fmt.Sprintf("imp[%d].id", i),
				Reason: "impression ID is required",
			}
		}
		if _, exists := impIDs[imp.ID]; exists {
			return &RequestValidationError{
				Field:  fmt.Sprintf("imp[%d].id", i),
				Reason: fmt.Sprintf("duplicate impression ID: %s", imp.ID),
			}
		}
		impIDs[imp.ID] = struct{}{}
		if imp.Banner == nil && imp.Video == nil {
			return &RequestValidationError{
				Field:  fmt.Sprintf("imp[%d]", i),
				Reason: "impression must contain a banner or video object",
			}
		}
	}

	if req.TMax < 0 {
		return &RequestValidationError{
			Field:  "tmax",
			Reason: fmt.Sprintf("tmax cannot be negative: %d", req.TMax),
		}
	}
	if req.TMax > maxAllowedTMax {
		return &RequestValidationError{
			Field:  "tmax",
			Reason: fmt.Sprintf("tmax exceeds maximum allowed: %d > %d", req.TMax, maxAllowedTMax),
		}
	}

	return nil
}

// ProcessBidRequest runs the full auction pipeline and always returns a
// well-formed response; internal faults become a technical-error no-bid.
func (e *Engine) ProcessBidRequest(ctx context.Context, req *openrtb.BidRequest) (resp *openrtb.BidResponse) {
	e.requestsProcessed.Add(1)

	defer func() {
		if r := recover(); r != nil {
			lg := logger.Auction()
			lg.Error().
				Interface("panic", r).
				Str("request_id", requestID(req)).
				Msg("auction pipeline panic recovered")
			resp = e.noBid(req, openrtb.NoBidTechnicalError)
		}
	}()

	if verr := ValidateRequest(req); verr != nil {
		lg2 := logger.Auction()
		lg2.Debug().Err(verr).Msg("bid request rejected")
		return e.noBid(req, openrtb.NoBidInvalidRequest)
	}

	ctx = logger.WithRequestID(ctx, req.ID)

	// Derive the deadline from tmax unless the caller already set one
	if _, ok := ctx.Deadline(); !ok {
		timeout := e.config.DefaultTimeout
		if req.TMax > 0 {
			timeout = time.Duration(req.TMax) * time.Millisecond
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if e.scorer != nil && e.scorer.IsFraudulent(req) {
		e.fraudRejected.Add(1)
		if e.metrics != nil {
			e.metrics.RecordFraudRejection()
			e.metrics.RecordAuction(openrtb.NoBidSuspectedNonHuman.String())
		}
		return e.noBid(req, openrtb.NoBidSuspectedNonHuman)
	}

	var bids []openrtb.Bid
	var reservations []string
	timedOut := false

	for i := range req.Imp {
		if ctx.Err() != nil {
			timedOut = true
			break
		}

		bid, resID, err := e.processImpression(ctx, req, &req.Imp[i])
		if err != nil {
			if errors.Is(err, errNoCandidates) || errors.Is(err, budget.ErrInsufficientBudget) {
				ctxlg1 := logger.FromContext(ctx)
				ctxlg1.Debug().
					Str("imp_id", req.Imp[i].ID).
					Err(err).
					Msg("no bid for impression")
			} else {
				if e.metrics != nil {
					e.metrics.RecordImpressionError()
				}
				ctxlg2 := logger.FromContext(ctx)
				ctxlg2.Error().
					Str("imp_id", req.Imp[i].ID).
					Err(err).
					Msg("impression processing failed")
			}
			continue
		}

		bids = append(bids, *bid)
		reservations = append(reservations, resID)
	}

	// A request past its deadline is discarded whole; nothing may stay
	// reserved for it.
	if timedOut {
		for i, resID := range reservations {
			e.bidReservations.Delete(bids[i].ID)
			if err := e.ledger.Release(resID); err != nil {
				ctxlg3 := logger.FromContext(ctx)
				ctxlg3.Warn().Err(err).
					Str("reservation_id", resID).
					Msg("failed to release reservation on timeout")
			}
		}
		if e.metrics != nil {
			e.metrics.RecordAuction(openrtb.NoBidTimeout.String())
		}
		return e.noBid(req, openrtb.NoBidTimeout)
	}

	if len(bids) == 0 {
		if e.metrics != nil {
			e.metrics.RecordAuction(openrtb.NoBidNoEligibleBid.String())
		}
		return e.noBid(req, openrtb.NoBidNoEligibleBid)
	}

	e.bidsReturned.Add(int64(len(bids)))
	if e.metrics != nil {
		e.metrics.RecordAuction("bid")
		for _, b := range bids {
			e.metrics.RecordBid(b.Price)
		}
	}

	return &openrtb.BidResponse{
		ID:    req.ID,
		BidID: uuid.New().String(),
		Cur:   e.config.DefaultCur,
		SeatBid: []openrtb.SeatBid{{
			Seat: e.config.Seat,
			Bid:  bids,
		}},
	}
}

// processImpression runs the per-impression pipeline. A panic in any stage
// is contained here so one bad impression cannot sink its siblings.
func (e *Engine) processImpression(ctx context.Context, req *openrtb.BidRequest, imp *openrtb.Imp) (bid *openrtb.Bid, resID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			bid, resID = nil, ""
			err = fmt.Errorf("impression pipeline panic: %v", r)
		}
	}()

	pool, err := e.source.Candidates(ctx, req, imp)
	if err != nil {
		return nil, "", fmt.Errorf("candidate source: %w", err)
	}
	if len(pool) == 0 {
		return nil, "", errNoCandidates
	}

	eligible, drops := e.filter.Apply(req, imp, pool)
	if len(eligible) == 0 {
		ctxlg4 := logger.FromContext(ctx)
		ctxlg4.Debug().
			Str("imp_id", imp.ID).
			Int("candidates", len(pool)).
			Int("dropped", drops.Total()).
			Msg("all candidates filtered out")
		return nil, "", errNoCandidates
	}

	priced := e.pricer.PriceAll(req, eligible, imp.BidFloor)
	if len(priced) == 0 {
		return nil, "", errNoCandidates
	}

	ranked := bidding.Rank(priced)

	// Walk the ranking until a winner clears its budget; losing a
	// reservation race falls through to the next candidate.
	for len(ranked) > 0 {
		winner, ok := bidding.Select(ranked, imp.BidFloor, e.pricer.Increment())
		if !ok {
			return nil, "", errNoCandidates
		}

		reservationID, rerr := e.ledger.Reserve(winner.CampaignID, imp.ID, winner.Price)
		if rerr == nil {
			if e.metrics != nil {
				e.metrics.RecordBudgetEvent("reserved")
			}
			b := e.buildBid(imp, &winner)
			e.bidReservations.Store(b.ID, reservationID)
			return b, reservationID, nil
		}
		if !errors.Is(rerr, budget.ErrInsufficientBudget) {
			return nil, "", fmt.Errorf("budget reservation: %w", rerr)
		}

		if e.metrics != nil {
			e.metrics.RecordBudgetEvent("rejected")
		}
		ctxlg5 := logger.FromContext(ctx)
		ctxlg5.Debug().
			Str("imp_id", imp.ID).
			Str("campaign_id", winner.CampaignID).
			Float64("price", winner.Price).
			Msg("winner over budget, trying next candidate")
		ranked = ranked[1:]
	}

	return nil, "", budget.ErrInsufficientBudget
}

// buildBid assembles the outgoing bid for a cleared winner
func (e *Engine) buildBid(imp *openrtb.Imp, winner *bidding.Priced) *openrtb.Bid {
	return &openrtb.Bid{
		ID:      uuid.New().String(),
		ImpID:   imp.ID,
		Price:   winner.Price,
		NURL:    winner.NURL,
		AdM:     winner.AdMarkup,
		AdID:    winner.CreativeID,
		ADomain: winner.ADomain,
		CID:     winner.CampaignID,
		CRID:    winner.CreativeID,
		Cat:     winner.Categories,
		W:       winner.W,
		H:       winner.H,
		Exp:     e.config.BidExpiry,
	}
}

// HandleWinNotification confirms the budget reservation behind a winning
// bid at the notified price. Unknown or already settled bid IDs are a
// no-op, so duplicate notifications are safe.
func (e *Engine) HandleWinNotification(bidID string, winPrice float64) {
	v, ok := e.bidReservations.LoadAndDelete(bidID)
	if !ok {
		lg3 := logger.Auction()
		lg3.Debug().Str("bid_id", bidID).Msg("win notification for unknown bid")
		return
	}

	resID := v.(string)
	if err := e.ledger.Confirm(resID, winPrice); err != nil {
		lg4 := logger.Auction()
		lg4.Warn().Err(err).
			Str("bid_id", bidID).
			Str("reservation_id", resID).
			Msg("win confirmation failed")
		return
	}

	if e.metrics != nil {
		e.metrics.RecordBudgetEvent("confirmed")
	}
	lg5 := logger.Auction()
	lg5.Info().
		Str("bid_id", bidID).
		Float64("win_price", winPrice).
		Msg("win notification processed")
}

// HandleLossNotification releases the budget reservation behind a losing
// bid. Unknown bid IDs are a no-op.
func (e *Engine) HandleLossNotification(bidID string, winPrice float64, lossReason string) {
	v, ok := e.bidReservations.LoadAndDelete(bidID)
	if !ok {
		lg6 := logger.Auction()
		lg6.Debug().Str("bid_id", bidID).Msg("loss notification for unknown bid")
		return
	}

	resID := v.(string)
	if err := e.ledger.Release(resID); err != nil {
		lg7 := logger.Auction()
		lg7.Warn().Err(err).
			Str("bid_id", bidID).
			Str("reservation_id", resID).
			Msg("loss release failed")
		return
	}

	if e.metrics != nil {
		e.metrics.RecordBudgetEvent("released")
	}
	lg8 := logger.Auction()
	lg8.Info().
		Str("bid_id", bidID).
		Float64("win_price", winPrice).
		Str("loss_reason", lossReason).
		Msg("loss notification processed")
}

// GetServerStatistics returns aggregated counters from every pipeline
// stage. Read-only and non-blocking.
func (e *Engine) GetServerStatistics() map[string]any {
	pending := 0
	e.bidReservations.Range(func(_, _ any) bool { pending++; return true })

	stats := map[string]any{
		"requestsProcessed": e.requestsProcessed.Load(),
		"bidsReturned":      e.bidsReturned.Load(),
		"noBidReturned":     e.noBidReturned.Load(),
		"fraudRejected":     e.fraudRejected.Load(),
		"pendingBids":       pending,
		"seat":              e.config.Seat,
	}
	if e.scorer != nil {
		stats["fraud"] = e.scorer.Stats()
	}
	if e.ledger != nil {
		stats["budget"] = e.ledger.Stats()
	}
	return stats
}

func (e *Engine) noBid(req *openrtb.BidRequest, reason openrtb.NoBidReason) *openrtb.BidResponse {
	e.noBidReturned.Add(1)
	return &openrtb.BidResponse{
		ID:  requestID(req),
		NBR: reason,
	}
}

func requestID(req *openrtb.BidRequest) string {
	if req == nil {
		return ""
	}
	return req.ID
}
