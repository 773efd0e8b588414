package index

import (
	"math"
	"sort"
)

// L2 is the Euclidean distance between a and b, which must have equal length.
func L2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

type sourceSet map[string]struct{}

// newSourceSet returns nil for a nil filter. A filter with no sources gives
// an empty set that allows nothing.
func newSourceSet(filter *Filter) sourceSet {
	if filter == nil {
		return nil
	}
	set := make(sourceSet, len(filter.Sources))
	for _, s := range filter.Sources {
		set[s] = struct{}{}
	}
	return set
}

// allows reports whether source passes; a nil set lets everything through.
func (s sourceSet) allows(source string) bool {
	if s == nil {
		return true
	}
	_, ok := s[source]
	return ok
}

// topK keeps the k closest hits. hits must be in insertion order so the
// stable sort leaves equal distances in that order.
func topK(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
