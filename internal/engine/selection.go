package engine

import (
	"container/heap"
	"sort"

	"github.com/roach88/knock/internal/market"
)

// outranks reports whether a beats b in daily selection: higher bid first,
// and for equal bids the earlier bucket position.
func outranks(a, b market.BucketEntry) bool {
	if c := a.Bid.Cmp(b.Bid); c != 0 {
		return c > 0
	}
	return a.Position < b.Position
}

// worstFirst is a min-heap of bucket entries ordered so the root is the
// entry every other entry outranks.
type worstFirst []market.BucketEntry

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return outranks(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *worstFirst) Push(x any) {
	*h = append(*h, x.(market.BucketEntry))
}

func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// selectTopK splits a day bucket into the slots best entries and the rest.
//
// A bounded heap of size slots holds the current winners; each further entry
// evicts the weakest winner if it outranks it. That is O(n log slots) time
// and O(slots) extra space for a bucket of n entries.
//
// Winners are returned best first. Losers are returned in bucket order.
// The result depends only on bids and positions, so the same bucket always
// settles the same way.
func selectTopK(bucket []market.BucketEntry, slots int) (winners, losers []market.BucketEntry) {
	winners = []market.BucketEntry{}
	losers = []market.BucketEntry{}
	if slots <= 0 {
		losers = append(losers, bucket...)
		return winners, losers
	}

	h := make(worstFirst, 0, min(slots, len(bucket))+1)
	for _, e := range bucket {
		if h.Len() < slots {
			heap.Push(&h, e)
			continue
		}
		if outranks(e, h[0]) {
			losers = append(losers, h[0])
			h[0] = e
			heap.Fix(&h, 0)
			continue
		}
		losers = append(losers, e)
	}

	for h.Len() > 0 {
		winners = append(winners, heap.Pop(&h).(market.BucketEntry))
	}
	// Popped worst first; reverse to best first.
	for i, j := 0, len(winners)-1; i < j; i, j = i+1, j-1 {
		winners[i], winners[j] = winners[j], winners[i]
	}

	sort.Slice(losers, func(i, j int) bool { return losers[i].Position < losers[j].Position })
	return winners, losers
}
