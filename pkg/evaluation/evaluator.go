// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"math"

	"github.com/gomlx/timeseries/pkg/deepar"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// DefaultQuantiles used by NewEvaluator.
var DefaultQuantiles = []float64{0.1, 0.5, 0.9}

// Evaluator computes forecast accuracy metrics from sampled forecasts, per series and aggregated.
type Evaluator struct {
	// Quantiles for which the quantile loss and coverage are computed.
	Quantiles []float64

	// Seasonality used by the seasonal naive error that scales MASE. Values < 1 are taken as 1.
	Seasonality int
}

// NewEvaluator returns an Evaluator for the DefaultQuantiles and the given seasonality
// (e.g. 7 for daily series).
func NewEvaluator(seasonality int) *Evaluator {
	return &Evaluator{Quantiles: DefaultQuantiles, Seasonality: seasonality}
}

// ItemMetrics are the metrics of one forecast.
type ItemMetrics struct {
	ItemID string

	// MSE of the forecast mean.
	MSE float64

	// AbsError is the sum of the absolute errors of the forecast median.
	AbsError float64

	AbsTargetSum, AbsTargetMean float64

	// SeasonalError is the mean absolute error of the seasonal naive forecast over the history.
	SeasonalError float64

	// MASE is the mean absolute error of the median, scaled by SeasonalError.
	MASE float64

	// RMSSE is the root of the MSE scaled by the mean squared one-step difference of the history. It is 1 if the
	// history has no variation (or no valid differences).
	RMSSE float64

	// QuantileLoss and Coverage for each of the Evaluator.Quantiles.
	QuantileLoss, Coverage []float64
}

// EvaluateItem computes the metrics of the forecast of one series.
//
// past is the history of the series before the forecast window (used for the scaled errors), and future
// holds the true values of the forecast window. Missing values (NaN) are ignored.
func (e *Evaluator) EvaluateItem(itemID string, past, future []float32, forecast *deepar.Forecast) (*ItemMetrics, error) {
	if forecast.Length() != len(future) {
		return nil, errors.Errorf("forecast of %q has length %d, but %d true values were given",
			itemID, forecast.Length(), len(future))
	}
	mean := forecast.Mean()
	median := forecast.Median()
	m := &ItemMetrics{
		ItemID:        itemID,
		MSE:           meanOver(future, mean, func(y, yHat float64) float64 { return (y - yHat) * (y - yHat) }),
		AbsError:      sumOver(future, median, func(y, yHat float64) float64 { return math.Abs(y - yHat) }),
		AbsTargetSum:  sumOver(future, future, func(y, _ float64) float64 { return math.Abs(y) }),
		AbsTargetMean: meanOver(future, future, func(y, _ float64) float64 { return math.Abs(y) }),
		SeasonalError: naiveError(past, max(e.Seasonality, 1), math.Abs),
	}
	m.MASE = meanOver(future, median, func(y, yHat float64) float64 { return math.Abs(y - yHat) }) / m.SeasonalError
	m.RMSSE = 1
	if denominator := naiveError(past, 1, func(x float64) float64 { return x * x }); denominator > 0 {
		m.RMSSE = math.Sqrt(m.MSE / denominator)
	}

	m.QuantileLoss = make([]float64, len(e.Quantiles))
	m.Coverage = make([]float64, len(e.Quantiles))
	for ii, q := range e.Quantiles {
		quantile := forecast.Quantile(q)
		m.QuantileLoss[ii] = sumOver(future, quantile, func(y, yHat float64) float64 {
			return quantileLoss(y, yHat, q)
		})
		m.Coverage[ii] = meanOver(future, quantile, func(y, yHat float64) float64 {
			if y < yHat {
				return 1
			}
			return 0
		})
	}
	return m, nil
}

// quantileLoss is 2 * |(yHat - y) * (1{y <= yHat} - q)|.
func quantileLoss(y, yHat, q float64) float64 {
	indicator := 0.0
	if y <= yHat {
		indicator = 1
	}
	return 2 * math.Abs((yHat-y)*(indicator-q))
}

// naiveError returns the mean of lossFn(x[t] - x[t-lag]) over the history, ignoring missing values.
// If the history is not longer than lag, a lag of 1 is used. It returns NaN without valid differences.
func naiveError[T constraints.Float](history []T, lag int, lossFn func(float64) float64) float64 {
	if len(history) <= lag {
		lag = 1
	}
	var sum float64
	var count int
	for t := lag; t < len(history); t++ {
		diff := float64(history[t]) - float64(history[t-lag])
		if math.IsNaN(diff) {
			continue
		}
		sum += lossFn(diff)
		count++
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}

// sumOver sums fn(y, yHat) over the pairs of values where y is not missing.
func sumOver[T constraints.Float](ys, yHats []T, fn func(y, yHat float64) float64) float64 {
	var sum float64
	for ii, y := range ys {
		if math.IsNaN(float64(y)) {
			continue
		}
		sum += fn(float64(y), float64(yHats[ii]))
	}
	return sum
}

// meanOver averages fn(y, yHat) over the pairs of values where y is not missing. It returns NaN if all are
// missing.
func meanOver[T constraints.Float](ys, yHats []T, fn func(y, yHat float64) float64) float64 {
	count := 0
	for _, y := range ys {
		if !math.IsNaN(float64(y)) {
			count++
		}
	}
	if count == 0 {
		return math.NaN()
	}
	return sumOver(ys, yHats, fn) / float64(count)
}

// Aggregate metrics over all series. Series without any true value in the forecast window are left out of
// the sums and means; MASE and RMSSE also leave out series where they are not finite.
type Aggregate struct {
	NumSeries int

	MSE, RMSE, NRMSE float64

	AbsError, AbsTargetSum float64

	// ND is the normalized deviation: AbsError / AbsTargetSum.
	ND float64

	// MASE and RMSSE are the means over the series with a finite value.
	MASE, RMSSE float64

	// Quantiles of the WeightedQuantileLoss and Coverage.
	Quantiles []float64

	// WeightedQuantileLoss is the sum of the quantile losses divided by AbsTargetSum.
	WeightedQuantileLoss []float64

	// Coverage is the mean over the series of the fraction of values below the quantile.
	Coverage []float64

	MeanWeightedQuantileLoss float64
}

// Aggregate the metrics of the individual series.
func (e *Evaluator) Aggregate(items []*ItemMetrics) *Aggregate {
	agg := &Aggregate{
		NumSeries:            len(items),
		Quantiles:            e.Quantiles,
		WeightedQuantileLoss: make([]float64, len(e.Quantiles)),
		Coverage:             make([]float64, len(e.Quantiles)),
	}
	var absTargetMean float64
	var numItems int
	for _, m := range items {
		if !isFinite(m.MSE) || !isFinite(m.AbsTargetMean) {
			// All true values missing.
			continue
		}
		numItems++
		agg.MSE += m.MSE
		agg.AbsError += m.AbsError
		agg.AbsTargetSum += m.AbsTargetSum
		absTargetMean += m.AbsTargetMean
		for ii := range e.Quantiles {
			agg.WeightedQuantileLoss[ii] += m.QuantileLoss[ii]
			agg.Coverage[ii] += m.Coverage[ii]
		}
	}
	if numItems == 0 {
		agg.MSE, absTargetMean = math.NaN(), math.NaN()
	} else {
		agg.MSE /= float64(numItems)
		absTargetMean /= float64(numItems)
	}
	agg.RMSE = math.Sqrt(agg.MSE)
	agg.NRMSE = agg.RMSE / absTargetMean
	agg.ND = agg.AbsError / agg.AbsTargetSum
	agg.MASE = finiteMean(items, func(m *ItemMetrics) float64 { return m.MASE })
	agg.RMSSE = finiteMean(items, func(m *ItemMetrics) float64 { return m.RMSSE })
	for ii := range e.Quantiles {
		agg.WeightedQuantileLoss[ii] /= agg.AbsTargetSum
		agg.Coverage[ii] /= float64(max(numItems, 1))
		agg.MeanWeightedQuantileLoss += agg.WeightedQuantileLoss[ii]
	}
	if len(e.Quantiles) > 0 {
		agg.MeanWeightedQuantileLoss /= float64(len(e.Quantiles))
	}
	return agg
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func finiteMean(items []*ItemMetrics, fn func(m *ItemMetrics) float64) float64 {
	var sum float64
	var count int
	for _, m := range items {
		v := fn(m)
		if !isFinite(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}
