package model

import "sort"

// Ranked is an item together with its position in the upstream list. The
// position survives concurrent fetching so that ranking stays deterministic.
type Ranked struct {
	Rank int
	Item Item
}

// Rank orders items by score, highest first. Items with equal scores keep
// their upstream order.
func Rank(ranked []Ranked) []Item {
	sorted := make([]Ranked, len(ranked))
	copy(sorted, ranked)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Item.Score != sorted[j].Item.Score {
			return sorted[i].Item.Score > sorted[j].Item.Score
		}
		return sorted[i].Rank < sorted[j].Rank
	})

	items := make([]Item, len(sorted))
	for i := range sorted {
		items[i] = sorted[i].Item
	}
	return items
}
