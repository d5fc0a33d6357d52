// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// deepar trains a DeepAR probabilistic forecasting model on a wide CSV of series (one series per row, as the
// M5 sales tables), or on synthetic series, evaluates its forecasts on the last window of each series, and
// optionally plots one of them.
//
// Hyperparameters are set with -set, e.g.:
//
//	deepar -data=sales_train_validation.csv -features=m5.json -set="prediction_length=28;train_steps=10000"
package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/timeseries/pkg/dataset"
	"github.com/gomlx/timeseries/pkg/deepar"
	"github.com/gomlx/timeseries/pkg/evaluation"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagData        = flag.String("data", "", "Wide CSV file with one series per row. If empty, synthetic series are used.")
	flagFeatures    = flag.String("features", "", "JSON feature map for the CSV file: categorical columns and their value ids.")
	flagStart       = flag.String("start", "2011-01-29", "Date of the first value of the series in the CSV file.")
	flagCheckpoint  = flag.String("checkpoint", "", "Directory save and load checkpoints from. If left empty and -runs is set, a new run directory is created.")
	flagRuns        = flag.String("runs", "", "Base directory for new checkpoint directories, named with a unique run id, used if -checkpoint is not set.")
	flagEval        = flag.Bool("eval", true, "Whether to evaluate the forecasts on the last window of each series in the end.")
	flagPlot        = flag.String("plot", "", "If set, a forecast fan chart of one series is saved to this file (e.g. forecast.png).")
	flagPlotSeries  = flag.Int("plot_series", 0, "Index of the series to plot with -plot.")
	flagVerbosity   = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
	flagReadAhead   = flag.Int("read_ahead", 4, "Number of training batches prepared in parallel with training.")
	flagSeasonality = flag.Int("seasonality", 7, "Seasonality used to scale the MASE metric.")
)

func main() {
	ctx := deepar.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	if err := run(ctx, paramsSet); err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func run(ctx *context.Context, paramsSet []string) error {
	series, cardinalities, err := loadSeries()
	if err != nil {
		return err
	}
	predictionLength := context.GetParamOr(ctx, deepar.ParamPredictionLength, 0)
	trainSeries, testSeries := dataset.SplitTrainTest(series, predictionLength)
	if len(trainSeries) == 0 {
		return errors.Errorf("no series longer than the prediction length %d", predictionLength)
	}
	spec, err := dataset.NewFeatureSpec(ctx, trainSeries, cardinalities)
	if err != nil {
		return err
	}
	spec.SetDataParams(ctx)
	cfg, err := deepar.ConfigFromContext(ctx)
	if err != nil {
		return err
	}
	if *flagVerbosity >= 1 {
		fmt.Printf("%s series for training, %d time features, history length %d\n",
			humanize.Comma(int64(len(trainSeries))), spec.NumTimeFeatures(), cfg.HistoryLength())
	}

	trainDS, err := dataset.New("train", trainSeries, spec, cfg, dataset.ModeTrain)
	if err != nil {
		return err
	}
	trainDS.BatchSize(context.GetParamOr(ctx, "batch_size", 32), true).
		NumInstancesPerSeries(context.GetParamOr(ctx, "num_instances_per_series", 1.0)).
		WithSeed(uint64(time.Now().UnixNano()))
	evalDS, err := dataset.New("test", testSeries, spec, cfg, dataset.ModeValidation)
	if err != nil {
		return err
	}
	evalDS.BatchSize(context.GetParamOr(ctx, "eval_batch_size", 128), false)

	checkpointPath := *flagCheckpoint
	if checkpointPath == "" && *flagRuns != "" {
		checkpointPath = filepath.Join(*flagRuns, uuid.NewString())
	}
	if checkpointPath != "" {
		checkpointPath = must.M1(fsutil.ReplaceTildeInDir(checkpointPath))
	}

	backend := backends.MustNew()
	_, cfg, err = deepar.TrainModel(ctx, backend, datasets.ReadAhead(trainDS, *flagReadAhead), deepar.TrainOptions{
		CheckpointPath: checkpointPath,
		ParamsSet:      paramsSet,
		EvalDatasets:   []train.Dataset{evalDS},
		EvalMetrics:    []metrics.Interface{evaluation.NewRMSSEMetric(), evaluation.NewMAEMetric()},
		EvaluateOnEnd:  *flagEval,
		Verbosity:      *flagVerbosity,
	})
	if err != nil {
		return err
	}
	if *flagVerbosity >= 1 {
		var numParams int
		for v := range ctx.IterVariables() {
			if strings.HasPrefix(v.Scope(), context.ScopeSeparator+deepar.ModelScope) {
				numParams += v.Shape().Size()
			}
		}
		fmt.Printf("Model parameters: %s\n", humanize.Comma(int64(numParams)))
	}

	if !*flagEval && *flagPlot == "" {
		return nil
	}
	return evaluate(ctx, backend, cfg, evalDS)
}

// loadSeries from the CSV file given by -data, or generates synthetic series.
func loadSeries() ([]*dataset.Series, []int, error) {
	if *flagData == "" {
		return dataset.SeasonalCountSeries(30, 400, uint64(time.Now().UnixNano())), nil, nil
	}
	opts := dataset.CSVOptions{}
	start, err := time.Parse(time.DateOnly, *flagStart)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid -start=%q", *flagStart)
	}
	opts.Start = start
	if *flagFeatures != "" {
		opts.FeatureMap, err = dataset.LoadFeatureMap(must.M1(fsutil.ReplaceTildeInDir(*flagFeatures)))
		if err != nil {
			return nil, nil, err
		}
	}
	return dataset.LoadWideCSV(must.M1(fsutil.ReplaceTildeInDir(*flagData)), opts)
}

// evaluate samples forecasts for the last window of each series, prints the accuracy metrics and plots
// the requested series.
func evaluate(ctx *context.Context, backend backends.Backend, cfg *deepar.Config, evalDS *dataset.Dataset) error {
	predictor, err := deepar.NewPredictor(backend, ctx, cfg)
	if err != nil {
		return err
	}
	evaluator := evaluation.NewEvaluator(*flagSeasonality)
	var items []*evaluation.ItemMetrics
	evalDS.Reset()
	seriesIdx := 0
	for {
		_, inputs, labels, err := evalDS.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		forecasts, err := predictor.Predict(inputs)
		for _, t := range append(inputs, labels...) {
			t.FinalizeAll()
		}
		if err != nil {
			return err
		}
		for _, forecast := range forecasts {
			s := evalDS.Series(seriesIdx)
			split := s.Len() - cfg.PredictionLength
			past, future := s.Target[:split], s.Target[split:]
			item, err := evaluator.EvaluateItem(s.ItemID, past, future, forecast)
			if err != nil {
				return err
			}
			items = append(items, item)
			if *flagPlot != "" && seriesIdx == *flagPlotSeries {
				history := past[max(0, split-4*cfg.PredictionLength):]
				if err := evaluation.PlotForecast(*flagPlot, s.ItemID, history, future, forecast, 0.1, 0.9); err != nil {
					return err
				}
				fmt.Printf("Forecast of %q plotted to %q\n", s.ItemID, *flagPlot)
			}
			seriesIdx++
		}
	}
	if *flagEval {
		fmt.Println(evaluation.ReportTable(evaluator.Aggregate(items)))
		if *flagVerbosity >= 2 {
			fmt.Println(evaluation.ItemsTable(items))
		}
	}
	if *flagPlot != "" && *flagPlotSeries >= seriesIdx {
		klog.Warningf("-plot_series=%d out of range, there are only %d series", *flagPlotSeries, seriesIdx)
	}
	return nil
}
