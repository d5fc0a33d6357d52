// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// SyntheticStart is the start timestamp of the synthetic series.
var SyntheticStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ConstantSeries returns numSeries series of the given length, with every value equal to value.
// Each series has one static categorical feature, its index modulo 2.
func ConstantSeries(numSeries, length int, value float32) []*Series {
	series := make([]*Series, numSeries)
	for ii := range series {
		target := make([]float32, length)
		for jj := range target {
			target[jj] = value
		}
		series[ii] = &Series{
			ItemID:    fmt.Sprintf("constant_%d", ii),
			Start:     SyntheticStart,
			Target:    target,
			StaticCat: []int32{int32(ii % 2)},
		}
	}
	return series
}

// SeasonalCountSeries returns numSeries daily count series of the given length: a weekly seasonal level, with
// a different base level for each series, sampled with Poisson noise.
//
// Each series has one static categorical feature: its level group (series index modulo 3).
// The generation is deterministic for a given seed.
func SeasonalCountSeries(numSeries, length int, seed uint64) []*Series {
	src := rand.NewPCG(seed, seed+1)
	series := make([]*Series, numSeries)
	for ii := range series {
		group := ii % 3
		base := 5.0 * float64(group+1)
		target := make([]float32, length)
		for t := range target {
			level := base * (1 + 0.5*math.Sin(2*math.Pi*float64(t)/7))
			target[t] = float32(distuv.Poisson{Lambda: level, Src: src}.Rand())
		}
		series[ii] = &Series{
			ItemID:    fmt.Sprintf("seasonal_%d", ii),
			Start:     SyntheticStart,
			Target:    target,
			StaticCat: []int32{int32(group)},
		}
	}
	return series
}
