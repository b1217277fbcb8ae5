// Package filter narrows the candidate set for an impression to the ads
// actually eligible to compete.
package filter

import (
	"github.com/thenexusengine/tne_bidengine/internal/candidates"
	"github.com/thenexusengine/tne_bidengine/internal/openrtb"
)

// TargetingMatcher decides whether a candidate's targeting fits the request.
// The default matcher accepts everything; audience and contextual systems
// plug in here.
type TargetingMatcher interface {
	Matches(req *openrtb.BidRequest, imp *openrtb.Imp, c *candidates.Candidate) bool
}

type matchAll struct{}

func (matchAll) Matches(*openrtb.BidRequest, *openrtb.Imp, *candidates.Candidate) bool { return true }

// DropCounts records how many candidates each rule removed. Floor price is
// not checked here: prices exist only after the pricing stage, which
// enforces the floor itself.
type DropCounts struct {
	Inactive        int
	SizeMismatch    int
	InvalidCreative int
	Targeting       int
}

// Total returns the number of dropped candidates
func (d DropCounts) Total() int {
	return d.Inactive + d.SizeMismatch + d.InvalidCreative + d.Targeting
}

// Filter applies eligibility rules to candidate lists. Stateless and safe
// for concurrent use.
type Filter struct {
	matcher TargetingMatcher
}

// New creates a filter with the given targeting matcher (nil accepts all)
func New(matcher TargetingMatcher) *Filter {
	if matcher == nil {
		matcher = matchAll{}
	}
	return &Filter{matcher: matcher}
}

// Apply returns the eligible candidates in their original order, plus drop
// counts per rule. The input slice is never mutated.
func (f *Filter) Apply(req *openrtb.BidRequest, imp *openrtb.Imp, cands []candidates.Candidate) ([]candidates.Candidate, DropCounts) {
	var drops DropCounts
	eligible := make([]candidates.Candidate, 0, len(cands))

	for i := range cands {
		c := &cands[i]
		switch {
		case !c.Active:
			drops.Inactive++
		case !sizeMatches(imp, c):
			drops.SizeMismatch++
		case !creativeValid(c):
			drops.InvalidCreative++
		case !f.matcher.Matches(req, imp, c):
			drops.Targeting++
		default:
			eligible = append(eligible, *c)
		}
	}

	return eligible, drops
}

// sizeMatches checks the candidate's creative dimensions against the slot.
// A slot with no declared dimensions accepts any size.
func sizeMatches(imp *openrtb.Imp, c *candidates.Candidate) bool {
	if imp.Banner != nil {
		b := imp.Banner
		if b.W == 0 && b.H == 0 && len(b.Format) == 0 {
			return true
		}
		if b.W == c.W && b.H == c.H {
			return true
		}
		for _, f := range b.Format {
			if f.W == c.W && f.H == c.H {
				return true
			}
		}
		return false
	}
	if imp.Video != nil {
		v := imp.Video
		if v.W == 0 && v.H == 0 {
			return true
		}
		return v.W == c.W && v.H == c.H
	}
	return false
}

// creativeValid requires renderable markup, a landing URL, and a declared
// advertiser domain
func creativeValid(c *candidates.Candidate) bool {
	return c.AdMarkup != "" && c.ClickURL != "" && len(c.ADomain) > 0 &&
		c.CreativeID != "" && c.CampaignID != ""
}
