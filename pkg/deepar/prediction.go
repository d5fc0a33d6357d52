// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepar

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/timeseries/pkg/distribution"
	"github.com/gomlx/timeseries/pkg/lags"
)

// PredictionGraph samples cfg.NumParallelSamples future paths for each series.
//
// inputs are the first NumPredictionInputs inputs of the bundle (extra inputs are ignored), with
// future_time_feat covering the prediction window. It returns the sampled paths shaped
// [batchSize, numParallelSamples, predictionLength], in the original (unscaled) space.
//
// The network is unrolled over the context window, and then each future step is fed the value sampled at
// the previous step (never the ground truth), carrying the recurrent state of every layer.
func PredictionGraph(ctx *context.Context, cfg *Config, inputs []*Node) *Node {
	if len(inputs) < NumPredictionInputs {
		exceptions.Panicf("DeepAR prediction requires %d inputs, got %d", NumPredictionInputs, len(inputs))
	}
	pastTarget := ConvertDType(inputs[InputPastTarget], cfg.DType)
	futureTimeFeat := ConvertDType(inputs[InputFutureTimeFeat], cfg.DType)
	batchSize := pastTarget.Shape().Dim(0)
	predictionLength := cfg.PredictionLength
	futureTimeFeat.AssertDims(batchSize, predictionLength, cfg.NumTimeFeatures)
	numSamples := cfg.NumParallelSamples

	u := Unroll(ctx, cfg,
		inputs[InputStaticCat], inputs[InputStaticReal], inputs[InputPastTimeFeat],
		pastTarget, inputs[InputPastObserved],
		SliceAxis(futureTimeFeat, 1, AxisElem(0)), nil)

	// Each series is repeated numSamples times: the rows of series b are b*numSamples ... (b+1)*numSamples-1.
	scale := repeatBatch(u.Scale, 0, numSamples)
	staticFeat := ExpandAxes(repeatBatch(u.StaticFeat, 0, numSamples), 1)
	history := repeatBatch(divByScale(pastTarget, u.Scale), 0, numSamples)
	futureTimeFeat = repeatBatch(futureTimeFeat, 0, numSamples)
	states := make([]State, len(u.States))
	for ii, state := range u.States {
		states[ii] = State{Hidden: repeatBatch(state.Hidden, 1, numSamples), Cell: repeatBatch(state.Cell, 1, numSamples)}
	}
	params := make(distribution.Params, len(u.Params))
	for name, param := range u.Params {
		params[name] = repeatBatch(SliceAxis(param, 1, AxisElem(-1)), 0, numSamples)
	}

	// The variables were created by the unroll above.
	reuseCtx := ctx.Reuse()
	lagIndices := cfg.LagIndices()
	samples := make([]*Node, 0, predictionLength)
	for step := range predictionLength {
		sample := StopGradient(cfg.Distribution(params, scale).Sample(ctx, 0)) // [batchSize*numSamples, 1]
		samples = append(samples, sample)
		if step == predictionLength-1 {
			break
		}

		// Feed the sample as the input of the next step.
		history = Concatenate([]*Node{history, divByScale(sample, scale)}, 1)
		historyLength := history.Shape().Dim(1)
		lagged := lags.LaggedSequenceValues(lagIndices,
			SliceAxis(history, 1, AxisRange(0, historyLength-1)),
			SliceAxis(history, 1, AxisElem(-1)))
		stepInput := Concatenate([]*Node{
			lagged,
			staticFeat,
			SliceAxis(futureTimeFeat, 1, AxisElem(step+1)),
		}, -1)
		var outputs *Node
		outputs, states = RNN(reuseCtx, cfg, stepInput, states)
		params = distribution.ArgsProj(reuseCtx.In(ScopeParamProj), cfg.Output, outputs)
	}
	paths := Concatenate(samples, 1)
	return Reshape(paths, batchSize, numSamples, predictionLength)
}

// repeatBatch repeats each element of x along the given axis numRepeats times, consecutively.
func repeatBatch(x *Node, axis, numRepeats int) *Node {
	dims := x.Shape().Dimensions
	expandedDims := make([]int, 0, len(dims)+1)
	expandedDims = append(expandedDims, dims[:axis+1]...)
	expandedDims = append(expandedDims, numRepeats)
	expandedDims = append(expandedDims, dims[axis+1:]...)
	repeated := BroadcastToDims(ExpandAxes(x, axis+1), expandedDims...)
	newDims := make([]int, len(dims))
	copy(newDims, dims)
	newDims[axis] *= numRepeats
	return Reshape(repeated, newDims...)
}
