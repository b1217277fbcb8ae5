package bidding

import "math"

// Select runs a generalized second-price auction over ranked candidates.
//
// With two or more candidates the winner pays the second-highest price or
// the floor, whichever is greater, plus the increment. A single candidate
// pays the greater of its own price and the floor. Returns false when the
// input is empty.
//
// The winner's Price field is overwritten with the clearing price.
func Select(ranked []Priced, floor, increment float64) (Priced, bool) {
	if len(ranked) == 0 {
		return Priced{}, false
	}

	winner := ranked[0]

	if len(ranked) > 1 {
		winner.Price = roundToCents(math.Max(ranked[1].Price, floor) + increment)
	} else {
		winner.Price = roundToCents(math.Max(winner.Price, floor))
	}

	return winner, true
}
