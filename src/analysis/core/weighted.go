package core

import (
	"math"
	"sort"
)

// -----------------------------------------------------------------------------

// Sample is one price observation with its weight.
type Sample struct {
	Price  float64
	Weight float64
}

// -----------------------------------------------------------------------------

// ValidSample reports whether s can take part in a weighted mean.
func ValidSample(s Sample) bool {
	return isFinite(s.Price) && isFinite(s.Weight) && s.Weight >= 0
}

// -----------------------------------------------------------------------------

// WeightedMean computes sum(price*weight)/sum(weight). The second result is
// false when the total weight is zero. Samples are summed in sorted order so
// the result does not depend on the order they were given in.
func WeightedMean(samples []Sample) (mean float64, weight float64, ok bool) {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Price != sorted[j].Price {
			return sorted[i].Price < sorted[j].Price
		}
		return sorted[i].Weight < sorted[j].Weight
	})

	var pv, w NeumaierSum
	for _, s := range sorted {
		pv.Add(s.Price * s.Weight)
		w.Add(s.Weight)
	}

	total := w.Value()
	if total == 0 {
		return 0, 0, false
	}
	return pv.Value() / total, total, true
}

// -----------------------------------------------------------------------------

// NeumaierSum is a compensated float64 accumulator.
type NeumaierSum struct {
	sum float64
	c   float64
}

func (n *NeumaierSum) Add(v float64) {
	t := n.sum + v
	if math.Abs(n.sum) >= math.Abs(v) {
		n.c += (n.sum - t) + v
	} else {
		n.c += (v - t) + n.sum
	}
	n.sum = t
}

func (n *NeumaierSum) Value() float64 {
	return n.sum + n.c
}

// -----------------------------------------------------------------------------

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
