// Package candidates supplies the campaign ads eligible to compete for an
// impression.
package candidates

import (
	"context"
	"sync"

	"github.com/thenexusengine/tne_bidengine/internal/openrtb"
)

// Candidate is a campaign creative offered into an auction
type Candidate struct {
	CampaignID string   `json:"campaignId"`
	CreativeID string   `json:"creativeId"`
	AdMarkup   string   `json:"adm,omitempty"`
	ClickURL   string   `json:"clickUrl,omitempty"`
	NURL       string   `json:"nurl,omitempty"` // Win notification URL template
	ADomain    []string `json:"adomain,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	W          int      `json:"w"`
	H          int      `json:"h"`
	BasePrice  float64  `json:"basePrice"` // Advertiser's base bid in CPM
	Priority   int      `json:"priority"`  // Higher wins ties
	CTR        float64  `json:"ctr"`       // Historical click-through rate
	CVR        float64  `json:"cvr"`       // Historical conversion rate
	Active     bool     `json:"active"`
}

// Source yields the candidates that may bid on an impression. Implementations
// must be safe for concurrent use and must not retain the request.
type Source interface {
	Candidates(ctx context.Context, req *openrtb.BidRequest, imp *openrtb.Imp) ([]Candidate, error)
}

// StaticSource serves a fixed in-memory candidate set. Used for local
// development and as the fallback when no campaign store is configured.
type StaticSource struct {
	mu   sync.RWMutex
	pool []Candidate
}

// NewStaticSource creates a source over the given pool
func NewStaticSource(pool []Candidate) *StaticSource {
	return &StaticSource{pool: pool}
}

// Candidates returns a copy of the active pool entries
func (s *StaticSource) Candidates(_ context.Context, _ *openrtb.BidRequest, _ *openrtb.Imp) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Candidate, 0, len(s.pool))
	for _, c := range s.pool {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

// Add appends a candidate to the pool
func (s *StaticSource) Add(c Candidate) {
	s.mu.Lock()
	s.pool = append(s.pool, c)
	s.mu.Unlock()
}

// Len returns the pool size including inactive entries
func (s *StaticSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pool)
}

// SeedPool returns a small demo candidate set
func SeedPool() []Candidate {
	return []Candidate{
		{
			CampaignID: "camp_sports_1",
			CreativeID: "cr_sports_300x250",
			AdMarkup:   `<div class="ad">Sports Gear Sale</div>`,
			ClickURL:   "https://sportsgear.example.com/sale",
			NURL:       "https://engine.example.com/notify/win?bid=${AUCTION_BID_ID}",
			ADomain:    []string{"sportsgear.example.com"},
			Categories: []string{"IAB17"},
			Keywords:   []string{"sports", "fitness", "running"},
			W:          300, H: 250,
			BasePrice: 2.50,
			Priority:  5,
			CTR:       0.012,
			CVR:       0.002,
			Active:    true,
		},
		{
			CampaignID: "camp_tech_1",
			CreativeID: "cr_tech_300x250",
			AdMarkup:   `<div class="ad">Latest Laptops</div>`,
			ClickURL:   "https://techshop.example.com/laptops",
			NURL:       "https://engine.example.com/notify/win?bid=${AUCTION_BID_ID}",
			ADomain:    []string{"techshop.example.com"},
			Categories: []string{"IAB19"},
			Keywords:   []string{"laptop", "technology", "gadgets"},
			W:          300, H: 250,
			BasePrice: 3.10,
			Priority:  5,
			CTR:       0.009,
			CVR:       0.003,
			Active:    true,
		},
		{
			CampaignID: "camp_travel_1",
			CreativeID: "cr_travel_728x90",
			AdMarkup:   `<div class="ad">Summer Getaways</div>`,
			ClickURL:   "https://travel.example.com/deals",
			NURL:       "https://engine.example.com/notify/win?bid=${AUCTION_BID_ID}",
			ADomain:    []string{"travel.example.com"},
			Categories: []string{"IAB20"},
			Keywords:   []string{"travel", "vacation", "hotels"},
			W:          728, H: 90,
			BasePrice: 1.80,
			Priority:  3,
			CTR:       0.015,
			CVR:       0.001,
			Active:    true,
		},
	}
}
