package openrtb

import "encoding/json"

// BidResponse represents the auction result returned to the caller
type BidResponse struct {
	ID      string          `json:"id"`
	SeatBid []SeatBid       `json:"seatbid,omitempty"`
	BidID   string          `json:"bidid,omitempty"`
	Cur     string          `json:"cur,omitempty"`
	NBR     NoBidReason     `json:"nbr,omitempty"` // No-bid reason code
	Ext     json.RawMessage `json:"ext,omitempty"`
}

// SeatBid groups bids under a buyer seat
type SeatBid struct {
	Bid   []Bid  `json:"bid"`
	Seat  string `json:"seat,omitempty"`
	Group int    `json:"group,omitempty"`
}

// Bid represents a single winning bid for an impression
type Bid struct {
	ID      string   `json:"id"`
	ImpID   string   `json:"impid"`
	Price   float64  `json:"price"`
	NURL    string   `json:"nurl,omitempty"` // Win notification URL
	AdM     string   `json:"adm,omitempty"`  // Ad markup
	AdID    string   `json:"adid,omitempty"`
	ADomain []string `json:"adomain,omitempty"`
	CID     string   `json:"cid,omitempty"`  // Campaign ID
	CRID    string   `json:"crid,omitempty"` // Creative ID
	Cat     []string `json:"cat,omitempty"`
	W       int      `json:"w,omitempty"`
	H       int      `json:"h,omitempty"`
	Exp     int      `json:"exp,omitempty"` // Seconds until the bid offer is void
}

// NoBidReason represents no-bid reason codes per OpenRTB 2.5 Section 5.24
type NoBidReason int

const (
	NoBidUnknown           NoBidReason = 0 // Unknown Error
	NoBidTechnicalError    NoBidReason = 1 // Technical Error
	NoBidInvalidRequest    NoBidReason = 2 // Invalid Request
	NoBidKnownWebSpider    NoBidReason = 3 // Known Web Spider
	NoBidSuspectedNonHuman NoBidReason = 4 // Suspected Non-Human Traffic

	// Engine-specific codes (500+)
	NoBidNoEligibleBid NoBidReason = 500 // No candidate survived filtering/budget
	NoBidTimeout       NoBidReason = 501 // Request deadline exceeded
)

// String returns a short label for logs and metrics
func (r NoBidReason) String() string {
	switch r {
	case NoBidTechnicalError:
		return "technical_error"
	case NoBidInvalidRequest:
		return "invalid_request"
	case NoBidKnownWebSpider, NoBidSuspectedNonHuman:
		return "fraud"
	case NoBidNoEligibleBid:
		return "no_eligible_bid"
	case NoBidTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
