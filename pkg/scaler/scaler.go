// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scaler computes per-series scale factors used to normalize the magnitude of the target values
// before feeding them to a model.
//
// A Scaler takes the data and the mask of observed values, both shaped [batchSize, sequenceLength, ...], and
// returns the scaled data and the scale, computed along the configured axis (which can't be the batch axis).
package scaler

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

const (
	// ParamScaling is the context hyperparameter that selects the Mean scaler (true) or the NOP scaler (false).
	ParamScaling = "deepar_scaling"

	// ParamMinimumScale is the context hyperparameter with the floor applied to the Mean scale.
	ParamMinimumScale = "deepar_minimum_scale"

	// DefaultMinimumScale is the default floor of the Mean scale.
	DefaultMinimumScale = 1e-10
)

// Scaler computes the scale of data along an axis, considering only observed values.
type Scaler interface {
	// Scale returns data divided by the scale, and the scale. The scale has the rank of data if the scaler
	// was configured to keep the dimension, or the rank of data minus one otherwise.
	Scale(data, observed *Node) (scaled, scale *Node)
}

// base holds the configuration shared by the scalers.
type base struct {
	axis    int
	keepDim bool
}

func newBase(axis int) base {
	if axis <= 0 {
		exceptions.Panicf("cannot compute scale along axis %d: it must be > 0, axis 0 is the batch axis", axis)
	}
	return base{axis: axis}
}

// reduce sums x along the scaler axis, keeping the axis if configured.
func (b base) reduce(x *Node) *Node {
	if x.Rank() <= b.axis {
		exceptions.Panicf("cannot compute scale along axis %d of a value of rank %d", b.axis, x.Rank())
	}
	if b.keepDim {
		return ReduceAndKeep(x, ReduceSum, b.axis)
	}
	return ReduceSum(x, b.axis)
}

// Mean scaler: the scale is the mean of the absolute observed values along the axis.
//
// Series with no observed values, or whose observed values are all zero, take the default scale: the mean of
// the absolute observed values of the whole batch. The result is floored at a minimum scale, so it is
// always strictly positive.
type Mean struct {
	base
	minimumScale float64
}

var _ Scaler = (*Mean)(nil)

// NewMean creates a Mean scaler over the given axis, which must be > 0.
func NewMean(axis int) *Mean {
	return &Mean{base: newBase(axis), minimumScale: DefaultMinimumScale}
}

// KeepDim configures whether the scale keeps the reduced axis (with dimension 1). Default is false.
func (m *Mean) KeepDim(keepDim bool) *Mean {
	m.keepDim = keepDim
	return m
}

// MinimumScale sets the floor of the scale. It must be > 0.
func (m *Mean) MinimumScale(minimumScale float64) *Mean {
	if minimumScale <= 0 {
		exceptions.Panicf("scaler.Mean minimum scale must be > 0, got %g", minimumScale)
	}
	m.minimumScale = minimumScale
	return m
}

// Scale implements Scaler.
func (m *Mean) Scale(data, observed *Node) (scaled, scale *Node) {
	observed = ConvertDType(observed, data.DType())
	numObserved := m.reduce(observed)
	sumObserved := m.reduce(Mul(Abs(data), observed))

	// Default scale, from the whole batch.
	g := data.Graph()
	one := ScalarOne(g, data.DType())
	defaultScale := Div(ReduceAllSum(sumObserved), Max(ReduceAllSum(numObserved), one))

	scale = Div(sumObserved, Max(numObserved, OnesLike(numObserved)))
	scale = Where(GreaterThan(sumObserved, ZerosLike(sumObserved)), scale, BroadcastToShape(defaultScale, scale.Shape()))
	scale = MaxScalar(scale, m.minimumScale)
	return Div(data, m.broadcastScale(scale, data)), scale
}

// broadcastScale inserts back the reduced axis, if needed, so scale can be applied to data.
func (b base) broadcastScale(scale, data *Node) *Node {
	if !b.keepDim {
		scale = InsertAxes(scale, b.axis)
	}
	return BroadcastToDims(scale, data.Shape().Dimensions...)
}

// NOP scaler: it doesn't change the data, and the scale is always 1.
type NOP struct {
	base
}

var _ Scaler = (*NOP)(nil)

// NewNOP creates a NOP scaler over the given axis, which must be > 0.
func NewNOP(axis int) *NOP {
	return &NOP{base: newBase(axis)}
}

// KeepDim configures whether the scale keeps the reduced axis (with dimension 1). Default is false.
func (n *NOP) KeepDim(keepDim bool) *NOP {
	n.keepDim = keepDim
	return n
}

// Scale implements Scaler.
func (n *NOP) Scale(data, observed *Node) (scaled, scale *Node) {
	ones := OnesLike(data)
	if n.keepDim {
		return data, ReduceAndKeep(ones, ReduceMean, n.axis)
	}
	return data, ReduceMean(ones, n.axis)
}

// FromContext returns the scaler configured by the hyperparameters ParamScaling and ParamMinimumScale, for the
// given axis, keeping the reduced dimension.
func FromContext(ctx *context.Context, axis int) Scaler {
	if !context.GetParamOr(ctx, ParamScaling, true) {
		return NewNOP(axis).KeepDim(true)
	}
	return NewMean(axis).KeepDim(true).MinimumScale(context.GetParamOr(ctx, ParamMinimumScale, DefaultMinimumScale))
}
