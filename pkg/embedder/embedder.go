// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package embedder maps static categorical features to dense vectors, with one learned embedding table per
// feature.
package embedder

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gopjrt/dtypes"
)

// MaxEmbeddingDim is the largest dimension chosen by DefaultEmbeddingDims.
const MaxEmbeddingDim = 50

// DefaultEmbeddingDims returns the default embedding dimension for each cardinality: min(50, (c+1)/2).
func DefaultEmbeddingDims(cardinalities []int) []int {
	dims := make([]int, len(cardinalities))
	for ii, c := range cardinalities {
		dims[ii] = min(MaxEmbeddingDim, (c+1)/2)
	}
	return dims
}

// FeatureEmbedder holds the configuration of the embedding of categorical features.
type FeatureEmbedder struct {
	Cardinalities []int
	Dims          []int
	DType         dtypes.DType
}

// New creates a FeatureEmbedder. Cardinalities and dims must have the same length, and all values must be > 0.
// If dims is nil, DefaultEmbeddingDims is used.
func New(cardinalities, dims []int, dtype dtypes.DType) *FeatureEmbedder {
	if dims == nil {
		dims = DefaultEmbeddingDims(cardinalities)
	}
	if len(cardinalities) != len(dims) {
		exceptions.Panicf("embedder got %d cardinalities, but %d embedding dimensions", len(cardinalities), len(dims))
	}
	for ii := range cardinalities {
		if cardinalities[ii] <= 0 || dims[ii] <= 0 {
			exceptions.Panicf("embedder feature #%d has invalid cardinality %d or dimension %d",
				ii, cardinalities[ii], dims[ii])
		}
	}
	return &FeatureEmbedder{Cardinalities: cardinalities, Dims: dims, DType: dtype}
}

// OutputDim is the sum of the embedding dimensions.
func (e *FeatureEmbedder) OutputDim() int {
	var total int
	for _, dim := range e.Dims {
		total += dim
	}
	return total
}

// Embed the categorical features, shaped [..., numFeatures] with an integer dtype. It returns the
// concatenated embeddings shaped [..., OutputDim()].
//
// The tables are created in the scopes "embed_<i>" under ctx.
func (e *FeatureEmbedder) Embed(ctx *context.Context, features *Node) *Node {
	numFeatures := len(e.Cardinalities)
	if features.Rank() == 0 || features.Shape().Dim(-1) != numFeatures {
		exceptions.Panicf("embedder expected categorical features with last axis of dimension %d, got shape %s",
			numFeatures, features.Shape())
	}
	if !features.DType().IsInt() {
		exceptions.Panicf("embedder expected categorical features with an integer dtype, got %s", features.DType())
	}
	embedded := make([]*Node, numFeatures)
	for ii := range numFeatures {
		// The sliced feature keeps a last axis of dimension 1, which Embedding consumes as the index.
		feature := SliceAxis(features, -1, AxisElem(ii))
		embedded[ii] = layers.Embedding(ctx.Inf("embed_%d", ii), feature, e.DType, e.Cardinalities[ii], e.Dims[ii])
	}
	if numFeatures == 1 {
		return embedded[0]
	}
	return Concatenate(embedded, -1)
}
