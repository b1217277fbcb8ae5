// Package bidding prices candidates, ranks them, and runs the second-price
// auction for each impression.
package bidding

import (
	"math"
	"strings"
	"time"

	"github.com/thenexusengine/tne_bidengine/internal/candidates"
	"github.com/thenexusengine/tne_bidengine/internal/openrtb"
)

// Weights blends the four factor scores into the final score
type Weights struct {
	UserValue   float64
	Context     float64
	Competition float64
	Quality     float64
}

// Config holds pricing and auction configuration
type Config struct {
	MinBidPrice    float64 // Floor on any computed bid
	MaxBidPrice    float64 // Ceiling on any computed bid
	PriceIncrement float64 // Added to the second price at clearing

	Weights Weights

	// User value multiplier, starts at 1.0
	AgeBonus     float64 // Birth year implies age in [AgeMin, AgeMax]
	AgeMin       int
	AgeMax       int
	GenderBonus  float64 // Gender is declared
	KeywordBonus float64 // User keywords overlap candidate keywords
	UserValueCap float64

	// Context multiplier, starts at 1.0
	CategoryBonus float64 // Site category overlaps candidate categories
	MobileBonus   float64 // Mobile-class device
	ContextCap    float64

	// Competition multiplier by local hour
	EveningMultiplier float64 // Hours 19-23
	DaytimeMultiplier float64 // Hours 9-18
	OffPeakMultiplier float64 // Everything else
}

// DefaultConfig returns production defaults
func DefaultConfig() *Config {
	return &Config{
		MinBidPrice:    0.01,
		MaxBidPrice:    100.0,
		PriceIncrement: 0.01,
		Weights: Weights{
			UserValue:   0.30,
			Context:     0.25,
			Competition: 0.20,
			Quality:     0.25,
		},
		AgeBonus:          0.2,
		AgeMin:            25,
		AgeMax:            45,
		GenderBonus:       0.1,
		KeywordBonus:      0.15,
		UserValueCap:      2.0,
		CategoryBonus:     0.3,
		MobileBonus:       0.2,
		ContextCap:        1.8,
		EveningMultiplier: 1.3,
		DaytimeMultiplier: 1.1,
		OffPeakMultiplier: 0.9,
	}
}

// Estimator supplies click-through and conversion rate estimates for a
// candidate. The default uses the candidate's own historical rates; a
// prediction model plugs in here.
type Estimator interface {
	EstimateCTR(req *openrtb.BidRequest, c *candidates.Candidate) float64
	EstimateCVR(req *openrtb.BidRequest, c *candidates.Candidate) float64
}

type historicalEstimator struct{}

func (historicalEstimator) EstimateCTR(_ *openrtb.BidRequest, c *candidates.Candidate) float64 {
	return c.CTR
}

func (historicalEstimator) EstimateCVR(_ *openrtb.BidRequest, c *candidates.Candidate) float64 {
	return c.CVR
}

// Priced is a candidate with its computed bid price and factor scores
type Priced struct {
	candidates.Candidate

	Price       float64 // Computed bid, overwritten with the clearing price on win
	UserValue   float64
	Context     float64
	Competition float64
	Quality     float64
	FinalScore  float64
}

// Pricer computes bid prices and composite scores. Stateless apart from the
// injected clock, safe for concurrent use.
type Pricer struct {
	config    *Config
	estimator Estimator
	now       func() time.Time
}

// NewPricer creates a pricer (nil config or estimator means defaults)
func NewPricer(config *Config, estimator Estimator) *Pricer {
	if config == nil {
		config = DefaultConfig()
	}
	if estimator == nil {
		estimator = historicalEstimator{}
	}
	return &Pricer{config: config, estimator: estimator, now: time.Now}
}

// SetClock replaces the time source, for deterministic time-of-day tests
func (p *Pricer) SetClock(now func() time.Time) {
	p.now = now
}

// Increment returns the configured auction price increment
func (p *Pricer) Increment() float64 {
	return p.config.PriceIncrement
}

// Price computes the candidate's bid price and factor scores.
// finalBid = base x userValue x context x competition, clamped to the
// configured bid range and rounded to cents.
func (p *Pricer) Price(req *openrtb.BidRequest, c candidates.Candidate) Priced {
	cfg := p.config

	userValue := p.userValueMultiplier(req)
	context := p.contextMultiplier(req, &c)
	competition := p.competitionMultiplier()
	quality := p.qualityScore(req, &c)

	price := c.BasePrice * userValue * context * competition
	if price < cfg.MinBidPrice {
		price = cfg.MinBidPrice
	}
	if price > cfg.MaxBidPrice {
		price = cfg.MaxBidPrice
	}

	final := cfg.Weights.UserValue*userValue +
		cfg.Weights.Context*context +
		cfg.Weights.Competition*competition +
		cfg.Weights.Quality*quality

	return Priced{
		Candidate:   c,
		Price:       roundToCents(price),
		UserValue:   userValue,
		Context:     context,
		Competition: competition,
		Quality:     quality,
		FinalScore:  final,
	}
}

// PriceAll prices every candidate and drops those whose computed price is
// below the impression floor. Order is preserved.
func (p *Pricer) PriceAll(req *openrtb.BidRequest, cands []candidates.Candidate, floor float64) []Priced {
	out := make([]Priced, 0, len(cands))
	for _, c := range cands {
		priced := p.Price(req, c)
		if floor > 0 && priced.Price < floor {
			continue
		}
		out = append(out, priced)
	}
	return out
}

func (p *Pricer) userValueMultiplier(req *openrtb.BidRequest) float64 {
	cfg := p.config
	m := 1.0

	user := req.User
	if user == nil {
		return m
	}

	if user.YOB > 0 {
		age := p.now().Year() - user.YOB
		if age >= cfg.AgeMin && age <= cfg.AgeMax {
			m += cfg.AgeBonus
		}
	}
	if user.Gender != "" {
		m += cfg.GenderBonus
	}
	// Declared interests raise user value for every candidate; matching them
	// to the creative is the targeting matcher's job, not pricing's.
	if strings.TrimSpace(user.Keywords) != "" {
		m += cfg.KeywordBonus
	}

	if m > cfg.UserValueCap {
		m = cfg.UserValueCap
	}
	return m
}

func (p *Pricer) contextMultiplier(req *openrtb.BidRequest, c *candidates.Candidate) float64 {
	cfg := p.config
	m := 1.0

	if req.Site != nil && categoriesOverlap(req.Site.Cat, c.Categories) {
		m += cfg.CategoryBonus
	}
	if req.Device.IsMobile() {
		m += cfg.MobileBonus
	}

	if m > cfg.ContextCap {
		m = cfg.ContextCap
	}
	return m
}

func (p *Pricer) competitionMultiplier() float64 {
	cfg := p.config
	hour := p.now().Hour()
	switch {
	case hour >= 19 && hour <= 23:
		return cfg.EveningMultiplier
	case hour >= 9 && hour <= 18:
		return cfg.DaytimeMultiplier
	default:
		return cfg.OffPeakMultiplier
	}
}

// qualityScore rewards complete creatives and historical engagement,
// capped at 1.0
func (p *Pricer) qualityScore(req *openrtb.BidRequest, c *candidates.Candidate) float64 {
	q := 0.0
	if c.AdMarkup != "" {
		q += 0.3
	}
	if len(c.ADomain) > 0 {
		q += 0.2
	}
	q += 5 * p.estimator.EstimateCTR(req, c)
	q += 10 * p.estimator.EstimateCVR(req, c)

	if q > 1.0 {
		q = 1.0
	}
	return q
}

func categoriesOverlap(siteCats, candidateCats []string) bool {
	for _, sc := range siteCats {
		for _, cc := range candidateCats {
			if sc == cc {
				return true
			}
		}
	}
	return false
}

// roundToCents avoids floating point drift in prices
func roundToCents(v float64) float64 {
	return math.Round(v*100) / 100
}
