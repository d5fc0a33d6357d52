// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embedder

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestDefaultEmbeddingDims(t *testing.T) {
	assert.Equal(t, []int{1, 2, 5, 50}, DefaultEmbeddingDims([]int{1, 3, 10, 3049}))
}

func TestEmbed(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	e := New([]int{3, 10}, nil, dtypes.Float32)
	require.Equal(t, 2+5, e.OutputDim())
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, features *Node) *Node {
		return e.Embed(ctx.In("feature_embedder"), features)
	}, [][]int32{{0, 1}, {2, 9}, {0, 1}})
	require.NoError(t, got.Shape().CheckDims(3, 7))
	values := tensors.MustCopyFlatData[float32](got)
	// Rows 0 and 2 have the same categories.
	assert.Equal(t, values[0:7], values[14:21])
	assert.NotEqual(t, values[0:7], values[7:14])

	// One table per feature.
	var numTables int
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Name() == "embeddings" {
			numTables++
		}
	})
	assert.Equal(t, 2, numTables)
}

func TestEmbedInvalid(t *testing.T) {
	require.Panics(t, func() { New([]int{3, 4}, []int{2}, dtypes.Float32) })
	require.Panics(t, func() { New([]int{0}, nil, dtypes.Float32) })

	backend := graphtest.BuildTestBackend()
	e := New([]int{3, 10}, nil, dtypes.Float32)
	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, features *Node) *Node {
			return e.Embed(ctx, features)
		}, [][]int32{{0, 1, 2}})
	})
}
