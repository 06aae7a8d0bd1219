package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightedMean(t *testing.T) {
	mean, weight, ok := WeightedMean([]Sample{{Price: 10, Weight: 2}, {Price: 20, Weight: 1}})
	assert.True(t, ok)
	assert.InDelta(t, 13.3333333, mean, 1e-6)
	assert.Equal(t, 3.0, weight)
}

func TestWeightedMeanZeroWeight(t *testing.T) {
	_, _, ok := WeightedMean([]Sample{{Price: 10, Weight: 0}, {Price: 11, Weight: 0}})
	assert.False(t, ok)

	_, _, ok = WeightedMean(nil)
	assert.False(t, ok)
}

func TestWeightedMeanOrderIndependent(t *testing.T) {
	a := []Sample{{0.1, 3}, {1e9, 1e-9}, {7.3, 0.2}, {0.3, 11}}
	b := []Sample{a[3], a[1], a[0], a[2]}

	m1, w1, _ := WeightedMean(a)
	m2, w2, _ := WeightedMean(b)
	assert.Equal(t, m1, m2)
	assert.Equal(t, w1, w2)
}

func TestValidSample(t *testing.T) {
	assert.True(t, ValidSample(Sample{1, 0}))
	assert.False(t, ValidSample(Sample{math.NaN(), 1}))
	assert.False(t, ValidSample(Sample{1, math.Inf(1)}))
	assert.False(t, ValidSample(Sample{1, -1}))
}
