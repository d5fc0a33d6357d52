// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepar

import (
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ModelScope is the scope under which the model variables are created, by convention.
const ModelScope = "model"

// Predictor samples forecasts from a trained model.
//
// It is safe for concurrent use: calls are serialized, since the executor compiles and caches one graph per
// input shapes.
type Predictor struct {
	mu   sync.Mutex
	cfg  *Config
	exec *context.Exec
}

// NewPredictor creates a Predictor for the model stored in ctx, built with the given configuration.
// ctx should be the root context: the model variables are taken from ModelScope.
func NewPredictor(backend backends.Backend, ctx *context.Context, cfg *Config) (*Predictor, error) {
	p := &Predictor{cfg: cfg}
	var err error
	p.exec, err = context.NewExec(backend, ctx.In(ModelScope).Reuse(),
		func(ctx *context.Context, inputs []*Node) *Node {
			return ConvertDType(PredictionGraph(ctx, cfg, inputs), dtypes.Float32)
		})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create DeepAR prediction executor")
	}
	return p, nil
}

// LoadPredictor loads the model from the checkpoint directory, including its hyperparameters.
func LoadPredictor(backend backends.Backend, checkpointDir string) (*Predictor, error) {
	ctx := context.New()
	_, err := checkpoints.Load(ctx).Dir(checkpointDir).Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed while loading DeepAR model from %q", checkpointDir)
	}
	cfg, err := ConfigFromContext(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid hyperparameters in checkpoint %q", checkpointDir)
	}
	return NewPredictor(backend, ctx, cfg)
}

// Config returns the configuration of the model.
func (p *Predictor) Config() *Config { return p.cfg }

// Predict samples forecasts for a batch of series. inputs is the input bundle: only the first
// NumPredictionInputs are used.
//
// It returns one Forecast per series in the batch.
func (p *Predictor) Predict(inputs []*tensors.Tensor) ([]*Forecast, error) {
	if len(inputs) < NumPredictionInputs {
		return nil, errors.Errorf("DeepAR prediction requires %d inputs, got %d", NumPredictionInputs, len(inputs))
	}
	args := xslices.Map(inputs[:NumPredictionInputs], func(t *tensors.Tensor) any { return t })

	p.mu.Lock()
	defer p.mu.Unlock()
	var paths *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		var execErr error
		paths, execErr = p.exec.Exec1(args...)
		if execErr != nil {
			panic(execErr)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to sample DeepAR forecasts")
	}
	defer paths.FinalizeAll()

	dims := paths.Shape().Dimensions
	batchSize, numSamples, predictionLength := dims[0], dims[1], dims[2]
	flat := tensors.MustCopyFlatData[float32](paths)
	forecasts := make([]*Forecast, batchSize)
	for b := range batchSize {
		samples := make([][]float32, numSamples)
		for s := range numSamples {
			start := (b*numSamples + s) * predictionLength
			samples[s] = flat[start : start+predictionLength]
		}
		forecasts[b] = &Forecast{Samples: samples}
	}
	return forecasts, nil
}

// Forecast holds the sampled future paths of one series.
type Forecast struct {
	// Samples shaped [numSamples][predictionLength].
	Samples [][]float32
}

// NumSamples returns the number of sampled paths.
func (f *Forecast) NumSamples() int { return len(f.Samples) }

// Length of the forecast: the prediction length.
func (f *Forecast) Length() int {
	if len(f.Samples) == 0 {
		return 0
	}
	return len(f.Samples[0])
}

// column returns the sampled values at the given step, sorted.
func (f *Forecast) column(step int) []float64 {
	values := make([]float64, len(f.Samples))
	for ii, path := range f.Samples {
		values[ii] = float64(path[step])
	}
	slices.Sort(values)
	return values
}

// Mean returns the mean of the samples at each step.
func (f *Forecast) Mean() []float32 {
	mean := make([]float32, f.Length())
	for step := range mean {
		mean[step] = float32(stat.Mean(f.column(step), nil))
	}
	return mean
}

// Quantile returns the q-quantile (q in [0, 1]) of the samples at each step.
func (f *Forecast) Quantile(q float64) []float32 {
	quantile := make([]float32, f.Length())
	for step := range quantile {
		quantile[step] = float32(stat.Quantile(q, stat.Empirical, f.column(step), nil))
	}
	return quantile
}

// Median is the 0.5 quantile.
func (f *Forecast) Median() []float32 { return f.Quantile(0.5) }
