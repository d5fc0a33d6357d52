// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"math/rand/v2"
)

// InstanceSampler chooses the split points of a series of the given length: each split point t yields one
// instance with the past window ending before t and the future window starting at t.
type InstanceSampler interface {
	Sample(length int) []int
}

// ExpectedNumInstanceSampler samples each valid split point with a probability such that, on average,
// NumInstances split points are sampled per series.
//
// The probability is NumInstances divided by the running average of the number of valid split points of
// the series seen so far, so series longer than the average yield more instances.
type ExpectedNumInstanceSampler struct {
	NumInstances float64

	// MinPast and MinFuture restrict the split points to [MinPast, length-MinFuture].
	MinPast, MinFuture int

	rng         *rand.Rand
	totalLength int
	numSeries   int
}

// NewExpectedNumInstanceSampler returns an ExpectedNumInstanceSampler that requires the full future window
// (minFuture) to be observed, seeded with seed.
func NewExpectedNumInstanceSampler(numInstances float64, minFuture int, seed uint64) *ExpectedNumInstanceSampler {
	return &ExpectedNumInstanceSampler{
		NumInstances: numInstances,
		MinFuture:    minFuture,
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Sample implements InstanceSampler.
func (s *ExpectedNumInstanceSampler) Sample(length int) []int {
	first, last := s.MinPast, length-s.MinFuture
	windowSize := last - first + 1
	if windowSize <= 0 {
		return nil
	}
	s.totalLength += windowSize
	s.numSeries++
	averageLength := float64(s.totalLength) / float64(s.numSeries)
	prob := s.NumInstances / averageLength
	var points []int
	for ii := range windowSize {
		if s.rng.Float64() < prob {
			points = append(points, first+ii)
		}
	}
	return points
}

// ValidationSplitSampler takes the last split point that still has a complete future window of MinFuture
// values: used to evaluate against the last values of a series.
type ValidationSplitSampler struct {
	MinPast, MinFuture int
}

// Sample implements InstanceSampler.
func (s ValidationSplitSampler) Sample(length int) []int {
	point := length - s.MinFuture
	if point < s.MinPast || point < 0 {
		return nil
	}
	return []int{point}
}

// TestSplitSampler splits at the end of the series: the future window is beyond the known values.
type TestSplitSampler struct{}

// Sample implements InstanceSampler.
func (TestSplitSampler) Sample(length int) []int {
	return []int{length}
}

// Instance is one window of a series, cut by the InstanceSplitter, with the features of the input bundle.
type Instance struct {
	StaticCat  []int32
	StaticReal []float32

	// PastTimeFeat is [historyLength][numTimeFeatures], FutureTimeFeat is [predictionLength][numTimeFeatures].
	PastTimeFeat, FutureTimeFeat [][]float32

	PastTarget, PastObserved     []float32
	FutureTarget, FutureObserved []float32
}

// InstanceSplitter cuts windows of HistoryLength past values and PredictionLength future values out of a
// series.
type InstanceSplitter struct {
	HistoryLength, PredictionLength int
}

// Split the series values at splitPoint. Static features are not filled.
//
// target and observed are the outputs of AddObservedValuesIndicator, and timeFeat must cover
// splitPoint+PredictionLength periods. The past window is left-padded with zeros (observed 0) when there is
// not enough history, and the future window is right-padded likewise beyond the end of the target.
func (sp InstanceSplitter) Split(target, observed []float32, timeFeat [][]float32, splitPoint int) *Instance {
	inst := &Instance{
		PastTarget:     make([]float32, sp.HistoryLength),
		PastObserved:   make([]float32, sp.HistoryLength),
		PastTimeFeat:   make([][]float32, sp.HistoryLength),
		FutureTarget:   make([]float32, sp.PredictionLength),
		FutureObserved: make([]float32, sp.PredictionLength),
		FutureTimeFeat: make([][]float32, sp.PredictionLength),
	}
	numTimeFeat := len(timeFeat[0])
	for ii := range sp.HistoryLength {
		t := splitPoint - sp.HistoryLength + ii
		if t < 0 {
			inst.PastTimeFeat[ii] = make([]float32, numTimeFeat)
			continue
		}
		inst.PastTimeFeat[ii] = timeFeat[t]
		if t < len(target) {
			inst.PastTarget[ii] = target[t]
			inst.PastObserved[ii] = observed[t]
		}
	}
	for ii := range sp.PredictionLength {
		t := splitPoint + ii
		inst.FutureTimeFeat[ii] = timeFeat[t]
		if t < len(target) {
			inst.FutureTarget[ii] = target[t]
			inst.FutureObserved[ii] = observed[t]
		}
	}
	return inst
}
