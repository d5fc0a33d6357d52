// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepar

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/timeseries/pkg/distribution"
)

// Positions of the outputs of the training model, in the order they are returned by TrainingModelFn.
// The distribution parameters follow, in the order of Config.Output.Args.
const (
	// OutputForecastMean is the mean of the predicted distribution over the prediction window, shaped
	// [batchSize, predictionLength], in the original (unscaled) space. It is the prediction used by metrics.
	OutputForecastMean = iota

	// OutputScale of each series, shaped [batchSize, 1].
	OutputScale

	// OutputTarget is the target of each unrolled position, shaped [batchSize, contextLength+predictionLength-1].
	OutputTarget

	// OutputWeights are the observed indicators of OutputTarget, used to weight the loss.
	OutputWeights

	// OutputParams is the position of the first distribution parameter.
	OutputParams
)

// TrainingModelFn returns the train.ModelFn used for training and evaluation.
//
// It takes the full input bundle (NumTrainingInputs inputs), unrolls the network over the context and the
// prediction windows with teacher forcing, and returns the forecast mean, scale, target, weights and the
// distribution parameters (see the Output* constants). Use it with TrainingLoss.
func TrainingModelFn(cfg *Config) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		_ = spec
		if len(inputs) != NumTrainingInputs {
			exceptions.Panicf("DeepAR training model requires %d inputs, got %d", NumTrainingInputs, len(inputs))
		}
		u := Unroll(ctx, cfg,
			inputs[InputStaticCat], inputs[InputStaticReal], inputs[InputPastTimeFeat],
			inputs[InputPastTarget], inputs[InputPastObserved],
			inputs[InputFutureTimeFeat], inputs[InputFutureTarget])

		target := unrolledTarget(cfg, inputs[InputPastTarget], inputs[InputFutureTarget])
		weights := unrolledTarget(cfg, inputs[InputPastObserved], inputs[InputFutureObserved])
		mean := cfg.Distribution(u.Params, u.Scale).Mean()
		mean = SliceAxis(mean, 1, AxisRangeToEnd(-cfg.PredictionLength))

		outputs := []*Node{mean, u.Scale, ConvertDType(target, cfg.DType), ConvertDType(weights, cfg.DType)}
		return append(outputs, distribution.ParamsToList(cfg.Output, u.Params)...)
	}
}

// unrolledTarget returns the values predicted by each position of the unrolled sequence: the last
// contextLength-1 values of past, followed by future.
func unrolledTarget(cfg *Config, past, future *Node) *Node {
	if cfg.ContextLength <= 1 {
		return future
	}
	historyLength := past.Shape().Dim(1)
	return Concatenate([]*Node{
		SliceAxis(past, 1, AxisRangeToEnd(historyLength-cfg.ContextLength+1)),
		future,
	}, 1)
}

// TrainingLoss returns the loss function to use with the outputs of TrainingModelFn: the negative
// log-likelihood of the target, weighted by the observed indicators, and averaged over the batch.
//
// The labels are not used: the target is part of the model outputs.
func TrainingLoss(cfg *Config) func(labels, predictions []*Node) *Node {
	return func(labels, predictions []*Node) *Node {
		_ = labels
		numArgs := len(cfg.Output.Args())
		if len(predictions) < OutputParams+numArgs {
			exceptions.Panicf("DeepAR loss requires %d outputs, got %d", OutputParams+numArgs, len(predictions))
		}
		params := distribution.ParamsFromList(cfg.Output, predictions[OutputParams:])
		dist := cfg.Distribution(params, predictions[OutputScale])
		loss := distribution.Loss(dist, predictions[OutputTarget], predictions[OutputWeights])
		cfg.NanLogger.TraceFirstNaN(loss, "loss")
		return loss
	}
}
