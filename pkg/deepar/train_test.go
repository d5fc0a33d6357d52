// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepar_test

import (
	"testing"

	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/timeseries/pkg/dataset"
	"github.com/gomlx/timeseries/pkg/deepar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	_ "github.com/gomlx/gomlx/backends/default"
)

// TestTrainConstantSeries trains on constant series, and checks the sampled forecasts center on the constant.
func TestTrainConstantSeries(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping training test in short mode.")
	}
	backend := graphtest.BuildTestBackend()
	if backend.Name() == simplego.BackendName {
		// The gradient of SliceAxis requires Pad, not implemented by the pure Go backend.
		t.Skipf("Skipping training test: backend %q can't differentiate the model.", backend.Name())
	}
	const (
		predictionLength = 4
		constant         = 10
	)
	ctx := deepar.CreateDefaultContext()
	require.NoError(t, ctx.SetRNGStateFromSeed(42))
	ctx.SetParams(map[string]any{
		deepar.ParamPredictionLength:   predictionLength,
		deepar.ParamContextLength:      8,
		deepar.ParamLags:               []int{1, 2, 7},
		deepar.ParamNumLayers:          1,
		deepar.ParamNumCells:           16,
		deepar.ParamDropoutRate:        0.0,
		deepar.ParamNumParallelSamples: 50,
		optimizers.ParamLearningRate:   1e-2,
		"train_steps":                  400,
		"rng_reset":                    false,
	})

	series := dataset.ConstantSeries(8, 60, constant)
	trainSeries, testSeries := dataset.SplitTrainTest(series, predictionLength)
	spec, err := dataset.NewFeatureSpec(ctx, trainSeries, nil)
	require.NoError(t, err)
	spec.SetDataParams(ctx)
	cfg, err := deepar.ConfigFromContext(ctx)
	require.NoError(t, err)
	trainDS, err := dataset.New("train", trainSeries, spec, cfg, dataset.ModeTrain)
	require.NoError(t, err)
	trainDS.BatchSize(16, true).WithSeed(1)

	_, cfg, err = deepar.TrainModel(ctx, backend, trainDS, deepar.TrainOptions{Verbosity: -1})
	require.NoError(t, err)

	predictor, err := deepar.NewPredictor(backend, ctx, cfg)
	require.NoError(t, err)
	testDS, err := dataset.New("test", testSeries, spec, cfg, dataset.ModeValidation)
	require.NoError(t, err)
	_, inputs, _, err := testDS.Yield()
	require.NoError(t, err)
	forecasts, err := predictor.Predict(inputs)
	require.NoError(t, err)
	require.Len(t, forecasts, len(testSeries))

	var means []float64
	for _, forecast := range forecasts {
		require.Equal(t, 50, forecast.NumSamples())
		require.Equal(t, predictionLength, forecast.Length())
		for _, mean := range forecast.Mean() {
			means = append(means, float64(mean))
		}
	}
	assert.InDelta(t, constant, stat.Mean(means, nil), 2.5)
}
