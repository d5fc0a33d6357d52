// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package deepar

import (
	"fmt"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParamsExcludedFromSaving is the list of parameters (see CreateDefaultContext) that shouldn't be saved
// along on the models checkpoints, and may be overwritten in further training sessions.
var ParamsExcludedFromSaving = []string{
	"train_steps", "num_checkpoints", "checkpoint_frequency", "nan_logger",
}

// TrainOptions configures TrainModel, beyond the hyperparameters in the context.
type TrainOptions struct {
	// CheckpointPath where to save (and resume from) the model. If empty, no checkpoints are saved.
	CheckpointPath string

	// ParamsSet are the hyperparameters explicitly set by the user: they are not saved with the checkpoint,
	// so they can be changed when resuming training.
	ParamsSet []string

	// EvalDatasets are used for the final report, if EvaluateOnEnd is set.
	EvalDatasets []train.Dataset

	// EvalMetrics are evaluated on the EvalDatasets, besides the loss.
	EvalMetrics []metrics.Interface

	EvaluateOnEnd bool
	Verbosity     int
}

// AttachCheckpoint creates (or loads, if it already exists) the checkpoint at dir, with the hyperparameters
// and variables in ctx. Loaded hyperparameters overwrite those in ctx, except for the paramsSet.
func AttachCheckpoint(ctx *context.Context, dir string, paramsSet []string) (*checkpoints.Handler, error) {
	numCheckpointsToKeep := context.GetParamOr(ctx, "num_checkpoints", 3)
	checkpoint, err := checkpoints.Build(ctx).
		Dir(dir).
		Keep(numCheckpointsToKeep).
		ExcludeParams(append(paramsSet, ParamsExcludedFromSaving...)...).
		Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create checkpoint in %q", dir)
	}
	return checkpoint, nil
}

// TrainModel trains the DeepAR model whose hyperparameters and data parameters (see SetDataParams) are in ctx,
// on trainDS.
//
// If opts.CheckpointPath is set, a checkpoint is created there (or loaded, resuming training from its global
// step) and saved periodically, according to the "checkpoint_frequency" hyperparameter.
// It trains until the global step reaches the "train_steps" hyperparameter.
//
// It returns the trainer, which can be used for further evaluations, and the configuration of the model.
func TrainModel(ctx *context.Context, backend backends.Backend, trainDS train.Dataset, opts TrainOptions) (
	*train.Trainer, *Config, error) {
	verbosity := opts.Verbosity
	if verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	// Checkpoints saving.
	var checkpoint *checkpoints.Handler
	if opts.CheckpointPath != "" {
		var err error
		checkpoint, err = AttachCheckpoint(ctx, opts.CheckpointPath, opts.ParamsSet)
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("Checkpointing model to %q\n", checkpoint.Dir())
	}
	if verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}
	if context.GetParamOr(ctx, "rng_reset", true) {
		// Reset RNG with some pseudo-random value.
		if err := ctx.ResetRNGState(); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := ConfigFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	klog.V(1).Infof("DeepAR: history length %d (context %d + max lag %d), lags=%v, %d input features",
		cfg.HistoryLength(), cfg.ContextLength, cfg.MaxLag(), cfg.Lags, cfg.InputDim())

	// Create a train.Trainer: this object will orchestrate running the model, feeding
	// results to the optimizer, evaluating the metrics, etc. (all happens in trainer.TrainStep)
	modelCtx := ctx.In(ModelScope)
	trainer := train.NewTrainer(backend, modelCtx, TrainingModelFn(cfg), TrainingLoss(cfg),
		optimizers.FromContext(modelCtx),
		nil,              // trainMetrics
		opts.EvalMetrics) // evalMetrics
	if cfg.NanLogger != nil {
		trainer.OnExecCreation(func(exec *context.Exec, _ train.GraphType) {
			cfg.NanLogger.AttachToExec(exec)
		})
	}

	// Use a standard training loop.
	loop := train.NewLoop(trainer)
	if verbosity >= 0 {
		commandline.AttachProgressBar(loop)
	}

	// Checkpoint saving.
	if checkpoint != nil {
		period, err := time.ParseDuration(context.GetParamOr(ctx, "checkpoint_frequency", "1m"))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "invalid checkpoint_frequency")
		}
		train.PeriodicCallback(loop, period, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	// Loop for given number of steps.
	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		trainer.SetContext(modelCtx.Reuse())
	}
	if globalStep < numTrainSteps {
		_, err := loop.RunSteps(trainDS, numTrainSteps-globalStep)
		if verbosity >= 1 {
			fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
				loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		}
		if err != nil {
			if checkpoint != nil && loop.LoopStep > loop.StartStep {
				klog.Infof("Debug checkpoint save before crashing at loop step %d", loop.LoopStep)
				if errSave := checkpoint.Save(); errSave != nil {
					klog.Errorf("Error while saving checkpoint before crashing: %+v", errSave)
				}
			}
			return nil, nil, errors.WithMessage(err, "failed training DeepAR model")
		}
		if checkpoint != nil {
			if err := checkpoint.Save(); err != nil {
				return nil, nil, err
			}
		}
	} else {
		fmt.Printf("\t - target train_steps=%d already reached. To train further, set a number additional "+
			"to current global step.\n", numTrainSteps)
	}

	// Finally, print an evaluation on the evaluation datasets.
	if opts.EvaluateOnEnd && len(opts.EvalDatasets) > 0 {
		if verbosity >= 1 {
			fmt.Println()
		}
		if err := commandline.ReportEval(trainer, opts.EvalDatasets...); err != nil {
			return nil, nil, err
		}
	}
	return trainer, cfg, nil
}
