// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepar

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/graph/nanlogger"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/timeseries/pkg/distribution"
	"github.com/gomlx/timeseries/pkg/embedder"
	"github.com/gomlx/timeseries/pkg/lags"
	"github.com/gomlx/timeseries/pkg/scaler"
	"github.com/gomlx/timeseries/pkg/timefeatures"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// Hyperparameters of the model and training, stored as context parameters.
const (
	ParamFreq               = "freq"
	ParamPredictionLength   = "prediction_length"
	ParamContextLength      = "context_length"
	ParamNumLayers          = "deepar_num_layers"
	ParamNumCells           = "deepar_num_cells"
	ParamCellType           = "deepar_cell_type"
	ParamDropoutRate        = "deepar_dropout_rate"
	ParamDistribution       = "deepar_distribution"
	ParamNumParallelSamples = "deepar_num_parallel_samples"
	ParamLags               = "deepar_lags"
	ParamEmbeddingDims      = "deepar_embedding_dims"
	ParamDType              = "dtype"

	// ParamCardinalities, ParamNumStaticReal and ParamNumTimeFeatures describe the data the model was built for.
	// They are set with SetDataParams before training, and saved along with the checkpoints, so a Predictor
	// can rebuild the same model.
	ParamCardinalities   = "deepar_cardinalities"
	ParamNumStaticReal   = "deepar_num_static_real"
	ParamNumTimeFeatures = "deepar_num_time_features"
)

// CellTypeLSTM is the only supported recurrent cell type.
const CellTypeLSTM = "lstm"

// Indices of the inputs in the bundle fed to the model.
const (
	InputStaticCat = iota
	InputStaticReal
	InputPastTimeFeat
	InputPastTarget
	InputPastObserved
	InputFutureTimeFeat
	InputFutureTarget
	InputFutureObserved

	// NumTrainingInputs is the number of inputs of the training bundle.
	NumTrainingInputs

	// NumPredictionInputs is the number of inputs used for prediction: the future target and its observed
	// indicator are absent.
	NumPredictionInputs = InputFutureTarget
)

// CreateDefaultContext sets the context with default hyperparameters to use with TrainModel.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	must.M(ctx.ResetRNGState())
	ctx.SetParams(map[string]any{
		// Series description.
		ParamFreq:             "D",
		ParamPredictionLength: 28,
		ParamContextLength:    0, // 0 means the same as prediction_length.

		// Model.
		ParamNumLayers:           2,
		ParamNumCells:            40,
		ParamCellType:            CellTypeLSTM,
		ParamDropoutRate:         0.1,
		ParamDistribution:        distribution.NegativeBinomialName,
		scaler.ParamScaling:      true,
		scaler.ParamMinimumScale: scaler.DefaultMinimumScale,
		ParamNumParallelSamples:  100,
		ParamLags:                []int{}, // Empty means derived from freq, see lags.ForFrequency.
		ParamEmbeddingDims:       []int{}, // Empty means min(50, (cardinality+1)/2) for each feature.
		ParamDType:               "float32",

		// Data shape: overwritten by SetDataParams.
		ParamCardinalities:   []int{1},
		ParamNumStaticReal:   1,
		ParamNumTimeFeatures: 0,

		// Dataset.
		"num_instances_per_series": 1.0, // Expected number of training windows sampled per series per epoch.
		"use_feat_static_cat":      true,
		"use_feat_static_real":     false,
		"use_feat_dynamic_real":    false,

		// Training.
		"train_steps":          5000,
		"batch_size":           32,
		"eval_batch_size":      128,
		"num_checkpoints":      3,
		"checkpoint_frequency": "1m", // See time.ParseDuration.

		// rng_reset enables resetting the random number generator state with a new random value -- useful when continuing training.
		"rng_reset": true,

		// Debugging: add a NanLogger to help debug where NaNs may appear in the model.
		"nan_logger": false,

		optimizers.ParamOptimizer:           "adam",
		optimizers.ParamLearningRate:        1e-3,
		optimizers.ParamAdamEpsilon:         1e-7,
		optimizers.ParamClipStepByValue:     0.0,
		cosineschedule.ParamPeriodSteps:     0, // Enabled if > 0. Typically, the same value as 'train_steps'.
		cosineschedule.ParamMinLearningRate: 1e-5,
	})
	return ctx
}

// SetDataParams records in the context the description of the data the model is built for: the cardinality of
// each static categorical feature, the number of static real features and the number of time features.
func SetDataParams(ctx *context.Context, cardinalities []int, numStaticReal, numTimeFeatures int) {
	ctx.SetParams(map[string]any{
		ParamCardinalities:   slices.Clone(cardinalities),
		ParamNumStaticReal:   numStaticReal,
		ParamNumTimeFeatures: numTimeFeatures,
	})
}

// Config holds the validated configuration used to build the model graphs.
type Config struct {
	Freq             timefeatures.Frequency
	PredictionLength int
	ContextLength    int

	// Lags are 1-based: lag L is the value L periods before the predicted one.
	Lags []int

	NumLayers, NumCells int
	DropoutRate         float64

	Cardinalities, EmbeddingDims   []int
	NumStaticReal, NumTimeFeatures int

	Output             distribution.Output
	NumParallelSamples int
	DType              dtypes.DType

	// NanLogger, if not nil, traces the first NaN in the intermediary values of the model.
	NanLogger *nanlogger.NanLogger
}

// ConfigFromContext reads and validates the hyperparameters and data parameters stored in ctx.
func ConfigFromContext(ctx *context.Context) (*Config, error) {
	var err error
	cfg := &Config{
		PredictionLength:   context.GetParamOr(ctx, ParamPredictionLength, 0),
		ContextLength:      context.GetParamOr(ctx, ParamContextLength, 0),
		NumLayers:          context.GetParamOr(ctx, ParamNumLayers, 2),
		NumCells:           context.GetParamOr(ctx, ParamNumCells, 40),
		DropoutRate:        context.GetParamOr(ctx, ParamDropoutRate, 0.0),
		Cardinalities:      slices.Clone(context.GetParamOr(ctx, ParamCardinalities, []int{1})),
		EmbeddingDims:      slices.Clone(context.GetParamOr(ctx, ParamEmbeddingDims, []int{})),
		NumStaticReal:      context.GetParamOr(ctx, ParamNumStaticReal, 0),
		NumTimeFeatures:    context.GetParamOr(ctx, ParamNumTimeFeatures, 0),
		NumParallelSamples: context.GetParamOr(ctx, ParamNumParallelSamples, 100),
		Lags:               slices.Clone(context.GetParamOr(ctx, ParamLags, []int{})),
	}
	cfg.Freq, err = timefeatures.ParseFrequency(context.GetParamOr(ctx, ParamFreq, "D"))
	if err != nil {
		return nil, err
	}
	if cfg.PredictionLength <= 0 {
		return nil, errors.Errorf("%s must be > 0, got %d", ParamPredictionLength, cfg.PredictionLength)
	}
	if cfg.ContextLength == 0 {
		cfg.ContextLength = cfg.PredictionLength
	}
	if cfg.ContextLength < 0 {
		return nil, errors.Errorf("%s must be >= 0, got %d", ParamContextLength, cfg.ContextLength)
	}
	if cfg.NumLayers <= 0 || cfg.NumCells <= 0 {
		return nil, errors.Errorf("%s and %s must be > 0, got %d and %d",
			ParamNumLayers, ParamNumCells, cfg.NumLayers, cfg.NumCells)
	}
	if cellType := context.GetParamOr(ctx, ParamCellType, CellTypeLSTM); cellType != CellTypeLSTM {
		return nil, errors.Errorf("%s=%q not supported, only %q is available", ParamCellType, cellType, CellTypeLSTM)
	}
	if cfg.DropoutRate < 0 || cfg.DropoutRate >= 1 {
		return nil, errors.Errorf("%s must be in [0, 1), got %g", ParamDropoutRate, cfg.DropoutRate)
	}
	if cfg.NumParallelSamples <= 0 {
		return nil, errors.Errorf("%s must be > 0, got %d", ParamNumParallelSamples, cfg.NumParallelSamples)
	}

	if len(cfg.Cardinalities) == 0 {
		return nil, errors.Errorf("%s requires at least one static categorical feature: use a single "+
			"feature with cardinality 1 if there are none", ParamCardinalities)
	}
	if len(cfg.EmbeddingDims) == 0 {
		cfg.EmbeddingDims = embedder.DefaultEmbeddingDims(cfg.Cardinalities)
	}
	if len(cfg.EmbeddingDims) != len(cfg.Cardinalities) {
		return nil, errors.Errorf("%s=%v must have one value per categorical feature, %s=%v",
			ParamEmbeddingDims, cfg.EmbeddingDims, ParamCardinalities, cfg.Cardinalities)
	}
	for ii, card := range cfg.Cardinalities {
		if card <= 0 || cfg.EmbeddingDims[ii] <= 0 {
			return nil, errors.Errorf("cardinalities and embedding dimensions must be > 0, got %v and %v",
				cfg.Cardinalities, cfg.EmbeddingDims)
		}
	}
	if cfg.NumStaticReal < 0 || cfg.NumTimeFeatures < 0 {
		return nil, errors.Errorf("%s and %s must be >= 0, got %d and %d",
			ParamNumStaticReal, ParamNumTimeFeatures, cfg.NumStaticReal, cfg.NumTimeFeatures)
	}

	if len(cfg.Lags) == 0 {
		cfg.Lags = lags.ForFrequency(cfg.Freq, lags.DefaultLagUpperBound)
	}
	slices.Sort(cfg.Lags)
	cfg.Lags = slices.Compact(cfg.Lags)
	if cfg.Lags[0] < 1 {
		return nil, errors.Errorf("%s must all be >= 1, got %v", ParamLags, cfg.Lags)
	}

	cfg.Output, err = distribution.OutputFromName(context.GetParamOr(ctx, ParamDistribution, distribution.NegativeBinomialName))
	if err != nil {
		return nil, err
	}
	dtypeName := context.GetParamOr(ctx, ParamDType, "float32")
	cfg.DType, err = dtypes.DTypeString(dtypeName)
	if err != nil || !cfg.DType.IsFloat() {
		return nil, errors.Errorf("%s=%q must be a float dtype", ParamDType, dtypeName)
	}
	cfg.NanLogger = NewNanLogger(ctx)
	return cfg, nil
}

// MaxLag returns the largest configured lag.
func (cfg *Config) MaxLag() int {
	return slices.Max(cfg.Lags)
}

// HistoryLength is the length of the past window fed to the model: the context plus enough history for the
// largest lag.
func (cfg *Config) HistoryLength() int {
	return cfg.ContextLength + cfg.MaxLag()
}

// LagIndices returns the 0-based lag indices used with lags.LaggedSequenceValues.
func (cfg *Config) LagIndices() []int {
	return lags.ToIndices(cfg.Lags)
}

// StaticDim is the dimension of the static features fed at every time step: embeddings, static real features
// and the log of the scale.
func (cfg *Config) StaticDim() int {
	dim := cfg.NumStaticReal + 1
	for _, d := range cfg.EmbeddingDims {
		dim += d
	}
	return dim
}

// InputDim is the number of features fed to the recurrent network at each time step.
func (cfg *Config) InputDim() int {
	return len(cfg.Lags) + cfg.StaticDim() + cfg.NumTimeFeatures
}
