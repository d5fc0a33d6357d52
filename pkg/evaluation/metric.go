// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluation measures the quality of forecasts: an RMSSE metric to use during training and evaluation
// loops, and an Evaluator of sampled forecasts on the host.
package evaluation

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/timeseries/pkg/deepar"
)

// ForecastMetricType is the metric type of the forecast error metrics.
const ForecastMetricType = "forecast_error"

// RMSSEGraph computes the mean over the batch of the root mean squared scaled error of the forecast mean
// (predictions[deepar.OutputForecastMean]) with respect to the future target (labels[0]), both shaped
// [batchSize, predictionLength].
//
// The squared error of each series is scaled by the mean squared one-step difference of its target. Series
// whose target is constant (or with a single step) have an RMSSE of 1.
func RMSSEGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	_ = ctx
	label := labels[0]
	forecast := ConvertDType(predictions[deepar.OutputForecastMean], label.DType())
	if !label.Shape().Equal(forecast.Shape()) {
		exceptions.Panicf("RMSSE requires labels and forecast of the same shape, got %s and %s",
			label.Shape(), forecast.Shape())
	}
	meanSquare := ReduceMean(Square(Sub(label, forecast)), 1)
	predictionLength := label.Shape().Dim(1)
	if predictionLength < 2 {
		return ReduceAllMean(OnesLike(meanSquare))
	}
	diffs := Sub(
		SliceAxis(label, 1, AxisRange(1, predictionLength)),
		SliceAxis(label, 1, AxisRange(0, predictionLength-1)))
	scaleDenom := ReduceMean(Square(diffs), 1)
	isConstant := Equal(scaleDenom, ZerosLike(scaleDenom))
	safeDenom := Where(isConstant, OnesLike(scaleDenom), scaleDenom)
	rmsse := Where(isConstant, OnesLike(meanSquare), Sqrt(Div(meanSquare, safeDenom)))
	return ReduceAllMean(rmsse)
}

// NewRMSSEMetric returns the RMSSE (see RMSSEGraph) as a mean metric over the batches.
func NewRMSSEMetric() metrics.Interface {
	return metrics.NewMeanMetric("Root Mean Squared Scaled Error", "rmsse", ForecastMetricType, RMSSEGraph,
		func(value *tensors.Tensor) string {
			return fmt.Sprintf("%.4f", shapes.ConvertTo[float64](value.Value()))
		})
}

// MAEGraph is the mean absolute error of the forecast mean with respect to the future target.
func MAEGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	_ = ctx
	forecast := ConvertDType(predictions[deepar.OutputForecastMean], labels[0].DType())
	return ReduceAllMean(Abs(Sub(labels[0], forecast)))
}

// NewMAEMetric returns the mean absolute error (see MAEGraph) as a mean metric over the batches.
func NewMAEMetric() metrics.Interface {
	return metrics.NewMeanMetric("Mean Absolute Error", "mae", ForecastMetricType, MAEGraph, nil)
}
