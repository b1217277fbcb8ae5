package bidding

import "sort"

// Rank orders priced candidates best-first: higher priority wins, then
// higher final score, then higher price. The sort is stable so equally
// ranked candidates keep their source order, which keeps auctions
// deterministic for a fixed candidate feed.
func Rank(priced []Priced) []Priced {
	ranked := make([]Priced, len(priced))
	copy(ranked, priced)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		return a.Price > b.Price
	})

	return ranked
}
