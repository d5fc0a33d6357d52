// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lags builds lagged copies of a target series, used as explicit inputs of autoregressive models.
package lags

import (
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/timeseries/pkg/timefeatures"
)

// LaggedSequenceValues gathers, for each lag index l in indices and each position t of sequence, the value
// at position t-l of sequence, looking back into prior when needed.
//
// prior is shaped [batchSize, priorLength, ...] and sequence [batchSize, sequenceLength, ...], with matching
// trailing axes. The result is shaped [batchSize, sequenceLength, ..., len(indices)].
//
// Indices are 0-based offsets into the series formed by prior followed by sequence: index 0 is the current
// position. Models predicting the value following each position use the index L-1 for a lag of L periods.
//
// It panics if any index is larger than priorLength: the lag would reach before the available history.
func LaggedSequenceValues(indices []int, prior, sequence *Node) *Node {
	if len(indices) == 0 {
		exceptions.Panicf("LaggedSequenceValues requires at least one lag index")
	}
	if prior.Rank() < 2 || prior.Rank() != sequence.Rank() {
		exceptions.Panicf("LaggedSequenceValues requires prior and sequence with the same rank >= 2, got shapes %s and %s",
			prior.Shape(), sequence.Shape())
	}
	priorLength := prior.Shape().Dimensions[1]
	sequenceLength := sequence.Shape().Dimensions[1]
	maxIndex := slices.Max(indices)
	if maxIndex > priorLength {
		exceptions.Panicf("lags cannot go further than the prior sequence length, found lag index %d while prior "+
			"sequence is only %d-long", maxIndex, priorLength)
	}
	if slices.Min(indices) < 0 {
		exceptions.Panicf("lag indices must be >= 0, got %v", indices)
	}

	full := Concatenate([]*Node{prior, sequence}, 1)
	lagged := make([]*Node, len(indices))
	for ii, lagIndex := range indices {
		start := priorLength - lagIndex
		lagged[ii] = SliceAxis(full, 1, AxisRange(start, start+sequenceLength))
	}
	return Stack(lagged, -1)
}

// DefaultLagUpperBound is the largest lag returned by ForFrequency.
const DefaultLagUpperBound = 1200

// numDefaultLags are the lags 1..numDefaultLags always included.
const numDefaultLags = 7

// ratio is a multiple of the unit of a frequency, expressed as a fraction num/den of another unit.
type ratio struct{ num, den int }

// around returns the lags middle-delta..middle+delta, where middle is the number of periods of
// size r in `cycles` units.
func around(cycles int, r ratio, delta int) []int {
	middle := cycles * r.den / r.num
	lags := make([]int, 0, 2*delta+1)
	for lag := middle - delta; lag <= middle+delta; lag++ {
		lags = append(lags, lag)
	}
	return lags
}

func lagsForSecond(r ratio) (lags []int) {
	// Previous 3 minutes.
	for k := 1; k <= 3; k++ {
		lags = append(lags, around(k*60, r, 2)...)
	}
	return
}

func lagsForMinute(r ratio) (lags []int) {
	// Previous 3 hours.
	for k := 1; k <= 3; k++ {
		lags = append(lags, around(k*60, r, 2)...)
	}
	return
}

func lagsForHour(r ratio) (lags []int) {
	// Previous 7 days.
	for k := 1; k <= 7; k++ {
		lags = append(lags, around(k*24, r, 1)...)
	}
	return
}

func lagsForDay(r ratio, daysInWeek, daysInMonth int) (lags []int) {
	// Previous 4 weeks and the previous month.
	for k := 1; k <= 4; k++ {
		lags = append(lags, around(k*daysInWeek, r, 1)...)
	}
	return append(lags, around(daysInMonth, r, 1)...)
}

func lagsForWeek(r ratio) (lags []int) {
	// Previous 3 years, and 4, 8 and 12 weeks.
	for k := 1; k <= 3; k++ {
		lags = append(lags, around(k*52, r, 1)...)
	}
	for _, weeks := range []int{4, 8, 12} {
		lags = append(lags, weeks*r.den/r.num)
	}
	return
}

func lagsForMonth(r ratio) (lags []int) {
	// Previous 3 years.
	for k := 1; k <= 3; k++ {
		lags = append(lags, around(k*12, r, 1)...)
	}
	return
}

// ForFrequency returns the lags (1-based: lag L is the value L periods before) commonly useful for a series
// of the given frequency: 1 to 7, plus values at the same season of previous cycles (e.g.: the same day of
// previous weeks, for daily data), limited to lagUpperBound.
//
// The returned lags are sorted and unique.
func ForFrequency(freq timefeatures.Frequency, lagUpperBound int) []int {
	n := freq.Multiple
	var candidates []int
	switch freq.Unit {
	case timefeatures.Year:
	case timefeatures.Quarter:
		candidates = lagsForMonth(ratio{3 * n, 1})
	case timefeatures.Month:
		candidates = lagsForMonth(ratio{n, 1})
	case timefeatures.Week:
		candidates = lagsForWeek(ratio{n, 1})
	case timefeatures.Day:
		candidates = append(lagsForDay(ratio{n, 1}, 7, 30), lagsForWeek(ratio{n, 7})...)
	case timefeatures.BusinessDay:
		candidates = append(lagsForDay(ratio{n, 1}, 5, 22), lagsForWeek(ratio{n, 5})...)
	case timefeatures.Hour:
		candidates = lagsForHour(ratio{n, 1})
		candidates = append(candidates, lagsForDay(ratio{n, 24}, 7, 30)...)
		candidates = append(candidates, lagsForWeek(ratio{n, 24 * 7})...)
	case timefeatures.Minute:
		candidates = lagsForMinute(ratio{n, 1})
		candidates = append(candidates, lagsForHour(ratio{n, 60})...)
		candidates = append(candidates, lagsForDay(ratio{n, 60 * 24}, 7, 30)...)
		candidates = append(candidates, lagsForWeek(ratio{n, 60 * 24 * 7})...)
	case timefeatures.Second:
		candidates = lagsForSecond(ratio{n, 1})
		candidates = append(candidates, lagsForMinute(ratio{n, 60})...)
		candidates = append(candidates, lagsForHour(ratio{n, 60 * 60})...)
	}

	lags := make([]int, 0, numDefaultLags+len(candidates))
	for lag := 1; lag <= numDefaultLags; lag++ {
		lags = append(lags, lag)
	}
	var seasonal []int
	for _, lag := range candidates {
		if lag > numDefaultLags && lag <= lagUpperBound {
			seasonal = append(seasonal, lag)
		}
	}
	slices.Sort(seasonal)
	return append(lags, slices.Compact(seasonal)...)
}

// ToIndices converts 1-based lags to the 0-based indices used by LaggedSequenceValues.
func ToIndices(lags []int) []int {
	indices := make([]int, len(lags))
	for ii, lag := range lags {
		if lag < 1 {
			exceptions.Panicf("lags must be >= 1, got %v", lags)
		}
		indices[ii] = lag - 1
	}
	return indices
}
