// Package budget implements campaign spend accounting with short-lived
// reservations between winning an auction and the impression notification.
package budget

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/thenexusengine/tne_bidengine/pkg/logger"
)

var (
	// ErrInsufficientBudget means the campaign cannot cover the requested amount
	ErrInsufficientBudget = errors.New("insufficient campaign budget")
	// ErrUnknownReservation means the reservation ID was never issued or is
	// already settled
	ErrUnknownReservation = errors.New("unknown or settled reservation")
	// ErrUnknownCampaign means no budget is tracked for the campaign
	ErrUnknownCampaign = errors.New("unknown campaign")
)

// Config holds budget ledger configuration
type Config struct {
	DefaultDailyBudget float64
	DefaultTotalBudget float64
	AlertThreshold     float64       // Fraction of budget spent that triggers an alert
	ReservationTTL     time.Duration // Unsettled reservations expire after this
}

// DefaultConfig returns production defaults
func DefaultConfig() *Config {
	return &Config{
		DefaultDailyBudget: 1000.0,
		DefaultTotalBudget: 30000.0,
		AlertThreshold:     0.8,
		ReservationTTL:     5 * time.Minute,
	}
}

// AlertFunc receives budget threshold notifications. kind is "daily" or
// "total". Called at most once per campaign per period crossing, outside
// any ledger lock.
type AlertFunc func(campaignID, kind string, spent, budget float64)

// campaignState is all mutable accounting for one campaign. Every read and
// write goes through mu, which makes check-and-reserve atomic.
type campaignState struct {
	mu sync.Mutex

	dailyBudget float64
	totalBudget float64
	dailySpent  float64
	totalSpent  float64
	reserved    float64

	day          int64 // Epoch day dailySpent belongs to
	dailyAlerted bool
	totalAlerted bool
}

type reservation struct {
	id         string
	campaignID string
	impID      string
	amount     float64
	createdAt  time.Time
}

// Ledger tracks per-campaign daily and total spend plus in-flight
// reservations. Safe for concurrent use.
type Ledger struct {
	config *Config
	alert  atomic.Value // AlertFunc
	now    func() time.Time

	campaigns sync.Map // campaignID -> *campaignState

	resMu        sync.Mutex
	reservations map[string]*reservation

	reservedCount  atomic.Int64
	confirmedCount atomic.Int64
	releasedCount  atomic.Int64
	expiredCount   atomic.Int64
	rejectedCount  atomic.Int64
}

// NewLedger creates a ledger from config (nil means defaults)
func NewLedger(config *Config) *Ledger {
	if config == nil {
		config = DefaultConfig()
	}
	return &Ledger{
		config:       config,
		now:          time.Now,
		reservations: make(map[string]*reservation),
	}
}

// SetClock replaces the time source, for deterministic expiry tests
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// SetAlertFunc installs the budget alert side channel
func (l *Ledger) SetAlertFunc(fn AlertFunc) {
	if fn != nil {
		l.alert.Store(fn)
	}
}

// SetCampaignBudget sets or replaces a campaign's budgets. Spend already
// recorded is kept.
func (l *Ledger) SetCampaignBudget(campaignID string, daily, total float64) {
	c := l.campaign(campaignID)
	c.mu.Lock()
	c.dailyBudget = daily
	c.totalBudget = total
	c.dailyAlerted = false
	c.totalAlerted = false
	c.mu.Unlock()

	lg := logger.Budget()
	lg.Info().
		Str("campaign_id", campaignID).
		Float64("daily_budget", daily).
		Float64("total_budget", total).
		Msg("campaign budget set")
}

// campaign returns the state for campaignID, creating it with default
// budgets on first touch.
func (l *Ledger) campaign(campaignID string) *campaignState {
	if v, ok := l.campaigns.Load(campaignID); ok {
		return v.(*campaignState)
	}
	fresh := &campaignState{
		dailyBudget: l.config.DefaultDailyBudget,
		totalBudget: l.config.DefaultTotalBudget,
		day:         epochDay(l.now()),
	}
	v, _ := l.campaigns.LoadOrStore(campaignID, fresh)
	return v.(*campaignState)
}

// rollDay resets daily spend when the ledger clock has crossed into a new
// epoch day. Caller holds c.mu.
func (c *campaignState) rollDay(now time.Time) {
	today := epochDay(now)
	if c.day != today {
		c.day = today
		c.dailySpent = 0
		c.dailyAlerted = false
	}
}

func epochDay(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}

// available returns spendable headroom after reservations. Caller holds c.mu.
func (c *campaignState) available() float64 {
	daily := c.dailyBudget - c.dailySpent
	total := c.totalBudget - c.totalSpent
	return math.Min(daily, total) - c.reserved
}

// Check reports whether the campaign could cover amount right now. Purely
// advisory; Reserve re-checks under the lock before committing.
func (l *Ledger) Check(campaignID string, amount float64) bool {
	c := l.campaign(campaignID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollDay(l.now())
	return c.available() >= amount
}

// Reserve atomically checks headroom and holds amount against the campaign.
// The returned reservation ID must be settled with Confirm or Release, or it
// expires after the configured TTL.
func (l *Ledger) Reserve(campaignID, impID string, amount float64) (string, error) {
	if amount <= 0 {
		return "", ErrInsufficientBudget
	}

	c := l.campaign(campaignID)
	now := l.now()

	c.mu.Lock()
	c.rollDay(now)
	if c.available() < amount {
		c.mu.Unlock()
		l.rejectedCount.Add(1)
		lg2 := logger.Budget()
		lg2.Debug().
			Str("campaign_id", campaignID).
			Str("imp_id", impID).
			Float64("amount", amount).
			Msg("reservation rejected, insufficient budget")
		return "", ErrInsufficientBudget
	}
	c.reserved += amount
	c.mu.Unlock()

	res := &reservation{
		id:         uuid.New().String(),
		campaignID: campaignID,
		impID:      impID,
		amount:     amount,
		createdAt:  now,
	}

	l.resMu.Lock()
	l.reservations[res.id] = res
	l.resMu.Unlock()

	l.reservedCount.Add(1)
	lg3 := logger.Budget()
	lg3.Debug().
		Str("campaign_id", campaignID).
		Str("reservation_id", res.id).
		Float64("amount", amount).
		Msg("budget reserved")
	return res.id, nil
}

// Confirm settles a reservation as spend at the given clearing price. The
// price is capped at the reserved amount; any difference returns to the
// campaign's headroom. Settling the same reservation twice returns
// ErrUnknownReservation.
func (l *Ledger) Confirm(reservationID string, price float64) error {
	res, ok := l.takeReservation(reservationID)
	if !ok {
		return ErrUnknownReservation
	}

	charge := math.Min(price, res.amount)
	if charge < 0 {
		charge = 0
	}

	c := l.campaign(res.campaignID)
	c.mu.Lock()
	c.rollDay(l.now())
	c.reserved -= res.amount
	if c.reserved < 0 {
		c.reserved = 0
	}
	c.dailySpent += charge
	c.totalSpent += charge
	alerts := c.pendingAlerts(res.campaignID, l.config.AlertThreshold)
	c.mu.Unlock()

	l.confirmedCount.Add(1)
	lg4 := logger.Budget()
	lg4.Debug().
		Str("campaign_id", res.campaignID).
		Str("reservation_id", reservationID).
		Float64("charged", charge).
		Msg("budget spend confirmed")

	l.fireAlerts(alerts)
	return nil
}

// Release returns a reservation's amount to the campaign without spend
func (l *Ledger) Release(reservationID string) error {
	res, ok := l.takeReservation(reservationID)
	if !ok {
		return ErrUnknownReservation
	}

	l.releaseAmount(res)
	l.releasedCount.Add(1)
	lg5 := logger.Budget()
	lg5.Debug().
		Str("campaign_id", res.campaignID).
		Str("reservation_id", reservationID).
		Float64("amount", res.amount).
		Msg("budget reservation released")
	return nil
}

func (l *Ledger) releaseAmount(res *reservation) {
	c := l.campaign(res.campaignID)
	c.mu.Lock()
	c.reserved -= res.amount
	if c.reserved < 0 {
		c.reserved = 0
	}
	c.mu.Unlock()
}

// takeReservation removes and returns the reservation, guaranteeing each ID
// settles at most once.
func (l *Ledger) takeReservation(reservationID string) (*reservation, bool) {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	res, ok := l.reservations[reservationID]
	if ok {
		delete(l.reservations, reservationID)
	}
	return res, ok
}

// CleanupExpired releases reservations older than the TTL and returns how
// many were released. Meant to run on a timer.
func (l *Ledger) CleanupExpired() int {
	cutoff := l.now().Add(-l.config.ReservationTTL)

	l.resMu.Lock()
	var expired []*reservation
	for id, res := range l.reservations {
		if res.createdAt.Before(cutoff) {
			expired = append(expired, res)
			delete(l.reservations, id)
		}
	}
	l.resMu.Unlock()

	for _, res := range expired {
		l.releaseAmount(res)
		l.expiredCount.Add(1)
		lg6 := logger.Budget()
		lg6.Info().
			Str("campaign_id", res.campaignID).
			Str("reservation_id", res.id).
			Float64("amount", res.amount).
			Msg("expired reservation released")
	}
	return len(expired)
}

// pendingAlerts collects threshold crossings not yet reported. Caller holds
// c.mu; the alerts fire after the lock is dropped.
type alertEvent struct {
	campaignID string
	kind       string
	spent      float64
	budget     float64
}

func (c *campaignState) pendingAlerts(campaignID string, threshold float64) []alertEvent {
	var events []alertEvent
	if c.dailyBudget > 0 && !c.dailyAlerted && c.dailySpent/c.dailyBudget >= threshold {
		c.dailyAlerted = true
		events = append(events, alertEvent{campaignID, "daily", c.dailySpent, c.dailyBudget})
	}
	if c.totalBudget > 0 && !c.totalAlerted && c.totalSpent/c.totalBudget >= threshold {
		c.totalAlerted = true
		events = append(events, alertEvent{campaignID, "total", c.totalSpent, c.totalBudget})
	}
	return events
}

func (l *Ledger) fireAlerts(events []alertEvent) {
	if len(events) == 0 {
		return
	}
	fn, _ := l.alert.Load().(AlertFunc)
	for _, e := range events {
		lg7 := logger.Budget()
		lg7.Warn().
			Str("campaign_id", e.campaignID).
			Str("kind", e.kind).
			Float64("spent", e.spent).
			Float64("budget", e.budget).
			Msg("budget alert threshold crossed")
		if fn != nil {
			fn(e.campaignID, e.kind, e.spent, e.budget)
		}
	}
}

// CampaignSnapshot is a point-in-time view of one campaign's accounting
type CampaignSnapshot struct {
	CampaignID  string  `json:"campaignId"`
	DailyBudget float64 `json:"dailyBudget"`
	TotalBudget float64 `json:"totalBudget"`
	DailySpent  float64 `json:"dailySpent"`
	TotalSpent  float64 `json:"totalSpent"`
	Reserved    float64 `json:"reserved"`
	Available   float64 `json:"available"`
}

// Snapshot returns the campaign's current accounting
func (l *Ledger) Snapshot(campaignID string) (CampaignSnapshot, error) {
	v, ok := l.campaigns.Load(campaignID)
	if !ok {
		return CampaignSnapshot{}, ErrUnknownCampaign
	}
	c := v.(*campaignState)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollDay(l.now())
	return CampaignSnapshot{
		CampaignID:  campaignID,
		DailyBudget: c.dailyBudget,
		TotalBudget: c.totalBudget,
		DailySpent:  c.dailySpent,
		TotalSpent:  c.totalSpent,
		Reserved:    c.reserved,
		Available:   c.available(),
	}, nil
}

// Stats returns aggregate counters for the status endpoint
func (l *Ledger) Stats() map[string]any {
	campaigns := 0
	l.campaigns.Range(func(_, _ any) bool { campaigns++; return true })

	l.resMu.Lock()
	pending := len(l.reservations)
	l.resMu.Unlock()

	return map[string]any{
		"campaignsTracked":      campaigns,
		"pendingReservations":   pending,
		"reservationsCreated":   l.reservedCount.Load(),
		"reservationsConfirmed": l.confirmedCount.Load(),
		"reservationsReleased":  l.releasedCount.Load(),
		"reservationsExpired":   l.expiredCount.Load(),
		"reservationsRejected":  l.rejectedCount.Load(),
	}
}
