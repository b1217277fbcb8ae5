package bidding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thenexusengine/tne_bidengine/internal/candidates"
)

func priced(id string, priority int, score, price float64) Priced {
	return Priced{
		Candidate: candidates.Candidate{
			CampaignID: "camp_" + id,
			CreativeID: "cr_" + id,
			Priority:   priority,
		},
		Price:      price,
		FinalScore: score,
	}
}

func TestRankOrdering(t *testing.T) {
	input := []Priced{
		priced("a", 1, 0.5, 2.0),
		priced("b", 5, 0.2, 1.0), // highest priority wins regardless of score
		priced("c", 1, 0.9, 1.5),
		priced("d", 1, 0.9, 3.0), // same priority and score, higher price
	}

	ranked := Rank(input)

	got := make([]string, len(ranked))
	for i, r := range ranked {
		got[i] = r.CreativeID
	}
	assert.Equal(t, []string{"cr_b", "cr_d", "cr_c", "cr_a"}, got)

	// Input order untouched
	assert.Equal(t, "cr_a", input[0].CreativeID)
}

func TestRankStableForTies(t *testing.T) {
	input := []Priced{
		priced("first", 2, 0.5, 1.0),
		priced("second", 2, 0.5, 1.0),
		priced("third", 2, 0.5, 1.0),
	}

	ranked := Rank(input)
	assert.Equal(t, "cr_first", ranked[0].CreativeID)
	assert.Equal(t, "cr_second", ranked[1].CreativeID)
	assert.Equal(t, "cr_third", ranked[2].CreativeID)
}

func TestSelectSecondPrice(t *testing.T) {
	// Equal priority, prices 5.0 / 3.0 / 2.0, floor 1.0:
	// winner pays 3.0 + 0.01
	ranked := Rank([]Priced{
		priced("a", 1, 0.9, 5.0),
		priced("b", 1, 0.8, 3.0),
		priced("c", 1, 0.7, 2.0),
	})

	winner, ok := Select(ranked, 1.0, 0.01)
	assert.True(t, ok)
	assert.Equal(t, "cr_a", winner.CreativeID)
	assert.Equal(t, 3.01, winner.Price)
}

func TestSelectSecondPriceRespectsFloor(t *testing.T) {
	// Second price below the floor: floor takes its place
	ranked := []Priced{
		priced("a", 1, 0.9, 5.0),
		priced("b", 1, 0.8, 0.5),
	}

	winner, ok := Select(ranked, 2.0, 0.01)
	assert.True(t, ok)
	assert.Equal(t, 2.01, winner.Price)
}

func TestSelectSingleCandidate(t *testing.T) {
	// Single candidate priced 0.5, floor 1.0: pays the floor
	winner, ok := Select([]Priced{priced("a", 1, 0.9, 0.5)}, 1.0, 0.01)
	assert.True(t, ok)
	assert.Equal(t, 1.0, winner.Price)

	// Single candidate above the floor pays its own price
	winner, ok = Select([]Priced{priced("b", 1, 0.9, 4.2)}, 1.0, 0.01)
	assert.True(t, ok)
	assert.Equal(t, 4.2, winner.Price)
}

func TestSelectEmpty(t *testing.T) {
	_, ok := Select(nil, 1.0, 0.01)
	assert.False(t, ok)
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	ranked := []Priced{
		priced("a", 1, 0.9, 5.0),
		priced("b", 1, 0.8, 3.0),
	}

	_, ok := Select(ranked, 1.0, 0.01)
	assert.True(t, ok)
	assert.Equal(t, 5.0, ranked[0].Price)
}
