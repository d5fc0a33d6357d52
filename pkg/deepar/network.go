// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepar

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/nanlogger"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"
	"github.com/gomlx/timeseries/pkg/distribution"
	"github.com/gomlx/timeseries/pkg/embedder"
	"github.com/gomlx/timeseries/pkg/lags"
	"github.com/gomlx/timeseries/pkg/scaler"
)

// Scopes of the model variables.
const (
	ScopeEmbedder  = "feature_embedder"
	ScopeRNN       = "rnn"
	ScopeParamProj = "param_proj"
)

// State of one recurrent layer: hidden and cell states, each shaped [1, batchSize, numCells].
type State struct {
	Hidden, Cell *Node
}

// Unrolled holds the results of unrolling the recurrent network over a sequence.
type Unrolled struct {
	// Params of the distribution of the value following each position of the sequence, each shaped
	// [batchSize, sequenceLength], in the scaled space (see Config.Distribution).
	Params distribution.Params

	// Outputs of the last recurrent layer, shaped [batchSize, sequenceLength, numCells].
	Outputs *Node

	// States of each recurrent layer after the last position of the sequence.
	States []State

	// Scale of each series, shaped [batchSize, 1].
	Scale *Node

	// StaticFeat are the static features fed at every position: embeddings of the categorical features, static
	// real features and log(scale). Shaped [batchSize, cfg.StaticDim()].
	StaticFeat *Node
}

// Unroll the network over the context window followed by the given future steps (teacher forcing).
//
// Inputs (see the Input* constants for the bundle order):
//
//   - staticCat: [batchSize, numCat] of an integer dtype.
//   - staticReal: [batchSize, numStaticReal].
//   - pastTimeFeat: [batchSize, historyLength, numTimeFeatures].
//   - pastTarget, pastObserved: [batchSize, historyLength].
//   - futureTimeFeat: [batchSize, futureLength, numTimeFeatures], with futureLength >= 1.
//   - futureTarget: [batchSize, futureLength] or nil if futureLength is 1: only the first futureLength-1 values
//     are fed to the network.
//
// The unrolled sequence has length contextLength+futureLength-1: its last position predicts the value
// following the last fed value. Position t is fed the scaled target of t, its lags, the static features and the
// time features of the value being predicted.
//
// The scale is computed from the context window (the last contextLength values of pastTarget) only.
func Unroll(ctx *context.Context, cfg *Config, staticCat, staticReal, pastTimeFeat, pastTarget, pastObserved,
	futureTimeFeat, futureTarget *Node) *Unrolled {
	historyLength := cfg.HistoryLength()
	contextLength := cfg.ContextLength
	batchSize := pastTarget.Shape().Dim(0)
	pastTarget.AssertDims(batchSize, historyLength)
	pastObserved.AssertDims(batchSize, historyLength)
	pastTimeFeat.AssertDims(batchSize, historyLength, cfg.NumTimeFeatures)
	staticCat.AssertDims(batchSize, len(cfg.Cardinalities))
	staticReal.AssertDims(batchSize, cfg.NumStaticReal)
	futureLength := futureTimeFeat.Shape().Dim(1)
	futureTimeFeat.AssertDims(batchSize, futureLength, cfg.NumTimeFeatures)
	if futureLength > 1 {
		if futureTarget == nil {
			exceptions.Panicf("Unroll with %d future steps requires the future target", futureLength)
		}
		futureTarget.AssertDims(batchSize, futureLength)
	}
	nanLogger := cfg.NanLogger
	dtype := cfg.DType
	pastTarget = ConvertDType(pastTarget, dtype)

	// Scale from the context window.
	priorLength := historyLength - contextLength
	contextTarget := SliceAxis(pastTarget, 1, AxisRangeToEnd(priorLength))
	contextObserved := SliceAxis(pastObserved, 1, AxisRangeToEnd(priorLength))
	_, scale := scaler.FromContext(ctx, 1).Scale(contextTarget, contextObserved)
	scale = StopGradient(scale)
	nanLogger.TraceFirstNaN(scale, "scale")

	// Sequence fed to the network and its prior, used for lags.
	sequence := contextTarget
	if futureLength > 1 {
		futureFed := SliceAxis(ConvertDType(futureTarget, dtype), 1, AxisRange(0, futureLength-1))
		sequence = Concatenate([]*Node{sequence, futureFed}, 1)
	}
	sequenceLength := sequence.Shape().Dim(1)
	sequence = divByScale(sequence, scale)
	prior := divByScale(SliceAxis(pastTarget, 1, AxisRange(0, priorLength)), scale)
	lagged := lags.LaggedSequenceValues(cfg.LagIndices(), prior, sequence)

	// Static features repeated over the sequence.
	staticFeat := staticFeatures(ctx, cfg, staticCat, staticReal, scale)
	repeatedStatic := BroadcastToDims(ExpandAxes(staticFeat, 1), batchSize, sequenceLength, cfg.StaticDim())

	// Time features of the value being predicted at each position.
	timeFeat := futureTimeFeat
	if contextLength > 1 {
		timeFeat = Concatenate([]*Node{
			SliceAxis(pastTimeFeat, 1, AxisRangeToEnd(historyLength-contextLength+1)),
			futureTimeFeat,
		}, 1)
	}
	timeFeat = ConvertDType(timeFeat, dtype)

	rnnInput := Concatenate([]*Node{lagged, repeatedStatic, timeFeat}, -1)
	nanLogger.TraceFirstNaN(rnnInput, "rnn_input")
	outputs, states := RNN(ctx, cfg, rnnInput, nil)
	nanLogger.TraceFirstNaN(outputs, "rnn_outputs")
	params := distribution.ArgsProj(ctx.In(ScopeParamProj), cfg.Output, outputs)
	for _, arg := range cfg.Output.Args() {
		nanLogger.TraceFirstNaN(params[arg.Name], "param_"+arg.Name)
	}
	return &Unrolled{
		Params:     params,
		Outputs:    outputs,
		States:     states,
		Scale:      scale,
		StaticFeat: staticFeat,
	}
}

// divByScale divides x, shaped [batchSize, length], by scale, shaped [batchSize, 1].
func divByScale(x, scale *Node) *Node {
	return Div(x, BroadcastToDims(scale, x.Shape().Dimensions...))
}

// staticFeatures returns the concatenation of the embedded categorical features, the static real features
// and the log of the scale.
func staticFeatures(ctx *context.Context, cfg *Config, staticCat, staticReal, scale *Node) *Node {
	embed := embedder.New(cfg.Cardinalities, cfg.EmbeddingDims, cfg.DType)
	parts := []*Node{embed.Embed(ctx.In(ScopeEmbedder), staticCat)}
	if cfg.NumStaticReal > 0 {
		parts = append(parts, ConvertDType(staticReal, cfg.DType))
	}
	parts = append(parts, Log(scale))
	return Concatenate(parts, -1)
}

// RNN runs the stacked LSTM over x, shaped [batchSize, sequenceLength, inputDim], starting from the given states
// (one per layer) or from zeros if states is nil.
//
// It returns the outputs of the last layer, shaped [batchSize, sequenceLength, numCells], and the final state of
// each layer. During training, dropout is applied to the outputs of all layers but the last.
func RNN(ctx *context.Context, cfg *Config, x *Node, states []State) (*Node, []State) {
	if states != nil && len(states) != cfg.NumLayers {
		exceptions.Panicf("RNN requires one state per layer (%d), got %d", cfg.NumLayers, len(states))
	}
	g := x.Graph()
	batchSize, sequenceLength := x.Shape().Dim(0), x.Shape().Dim(1)
	newStates := make([]State, cfg.NumLayers)
	for layer := range cfg.NumLayers {
		layerCtx := ctx.In(ScopeRNN).Inf("layer_%d", layer)
		cell := lstm.New(layerCtx, x, cfg.NumCells)
		if states != nil {
			cell = cell.InitialStates(states[layer].Hidden, states[layer].Cell)
		}
		allHidden, lastHidden, lastCell := cell.Done()
		// allHidden is shaped [sequenceLength, numDirections=1, batchSize, numCells].
		x = Reshape(allHidden, sequenceLength, batchSize, cfg.NumCells)
		x = TransposeAllAxes(x, 1, 0, 2)
		newStates[layer] = State{Hidden: lastHidden, Cell: lastCell}
		if layer < cfg.NumLayers-1 && cfg.DropoutRate > 0 {
			x = layers.Dropout(layerCtx, x, Scalar(g, x.DType(), cfg.DropoutRate))
		}
	}
	return x, newStates
}

// Distribution of the target values in the original (unscaled) space, given the parameters projected by the
// network and the scale of each series, shaped [batchSize, 1].
func (cfg *Config) Distribution(params distribution.Params, scale *Node) distribution.Distribution {
	return cfg.Output.Distribution(params, nil, scale)
}

// NewNanLogger returns a NanLogger if enabled by the "nan_logger" hyperparameter, or nil otherwise.
func NewNanLogger(ctx *context.Context) *nanlogger.NanLogger {
	if !context.GetParamOr(ctx, "nan_logger", false) {
		return nil
	}
	return nanlogger.New()
}
