// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/timeseries/pkg/deepar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestRMSSEGraph(t *testing.T) {
	graphtest.RunTestGraphFn(t, "RMSSE", func(g *Graph) (inputs, outputs []*Node) {
		labels := Const(g, [][]float32{{1, 2, 3}, {5, 5, 5}})
		forecast := Const(g, [][]float32{{1, 2, 4}, {6, 6, 6}})
		inputs = []*Node{labels, forecast}
		outputs = []*Node{RMSSEGraph(nil, []*Node{labels}, []*Node{forecast})}
		return
	}, []any{float32((math.Sqrt(1.0/3.0) + 1) / 2)}, 1e-5)

	graphtest.RunTestGraphFn(t, "MAE", func(g *Graph) (inputs, outputs []*Node) {
		labels := Const(g, [][]float32{{1, 2}, {5, 5}})
		forecast := Const(g, [][]float32{{1, 4}, {6, 5}})
		inputs = []*Node{labels, forecast}
		outputs = []*Node{MAEGraph(nil, []*Node{labels}, []*Node{forecast})}
		return
	}, []any{float32(0.75)}, 1e-5)
}

func TestEvaluator(t *testing.T) {
	forecast := &deepar.Forecast{Samples: [][]float32{{1, 2}, {2, 3}, {3, 4}}}
	e := &Evaluator{Quantiles: []float64{0.1, 0.5, 0.9}, Seasonality: 1}
	m, err := e.EvaluateItem("item", []float32{1, 3, 5}, []float32{2, 5}, forecast)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, m.MSE, 1e-6)
	assert.InDelta(t, 2.0, m.AbsError, 1e-6)
	assert.InDelta(t, 7.0, m.AbsTargetSum, 1e-6)
	assert.InDelta(t, 2.0, m.SeasonalError, 1e-6)
	assert.InDelta(t, 0.5, m.MASE, 1e-6)
	assert.InDelta(t, math.Sqrt(0.5), m.RMSSE, 1e-6)
	assert.InDeltaSlice(t, []float64{0.8, 2.0, 2.0}, m.QuantileLoss, 1e-5)
	assert.InDeltaSlice(t, []float64{0, 0, 0.5}, m.Coverage, 1e-6)

	agg := e.Aggregate([]*ItemMetrics{m})
	assert.Equal(t, 1, agg.NumSeries)
	assert.InDelta(t, 2.0/7.0, agg.ND, 1e-6)
	assert.InDelta(t, math.Sqrt(2), agg.RMSE, 1e-6)
	assert.InDelta(t, 2.0/7.0, agg.WeightedQuantileLoss[1], 1e-6)
	assert.InDelta(t, (0.8+2+2)/7.0/3.0, agg.MeanWeightedQuantileLoss, 1e-6)

	// Missing true values are ignored.
	m, err = e.EvaluateItem("missing", []float32{1, 3, 5}, []float32{2, float32(math.NaN())}, forecast)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, m.MSE, 1e-6)
	assert.InDelta(t, 2.0, m.AbsTargetSum, 1e-6)

	_, err = e.EvaluateItem("short", nil, []float32{1}, forecast)
	require.Error(t, err)
}

func TestEvaluatorConstantHistory(t *testing.T) {
	forecast := &deepar.Forecast{Samples: [][]float32{{3, 3}}}
	e := NewEvaluator(7)
	m, err := e.EvaluateItem("constant", []float32{3, 3, 3}, []float32{3, 4}, forecast)
	require.NoError(t, err)
	assert.True(t, math.IsInf(m.MASE, 1))
	assert.Equal(t, 1.0, m.RMSSE, "RMSSE is 1 without variation in the history")

	// Perfect forecast of a flat history: same as the training metric, RMSSE is 1 rather than 0/0.
	perfect, err := e.EvaluateItem("flat", []float32{5, 5, 5, 5, 5, 5, 5, 5}, []float32{5, 5},
		&deepar.Forecast{Samples: [][]float32{{5, 5}}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, perfect.RMSSE)

	agg := e.Aggregate([]*ItemMetrics{m, perfect})
	assert.True(t, math.IsNaN(agg.MASE), "series without a finite MASE are excluded")
	assert.InDelta(t, 1.0, agg.RMSSE, 1e-9)
}

func TestAggregateMissingFuture(t *testing.T) {
	forecast := &deepar.Forecast{Samples: [][]float32{{1, 2}, {2, 3}, {3, 4}}}
	e := &Evaluator{Quantiles: []float64{0.1, 0.5, 0.9}, Seasonality: 1}
	m, err := e.EvaluateItem("item", []float32{1, 3, 5}, []float32{2, 5}, forecast)
	require.NoError(t, err)
	missing, err := e.EvaluateItem("missing", []float32{1, 3, 5}, []float32{float32(math.NaN()), float32(math.NaN())}, forecast)
	require.NoError(t, err)
	require.True(t, math.IsNaN(missing.MSE))

	agg := e.Aggregate([]*ItemMetrics{m, missing})
	assert.Equal(t, 2, agg.NumSeries)
	assert.InDelta(t, 2.0, agg.MSE, 1e-6)
	assert.InDelta(t, math.Sqrt(2), agg.RMSE, 1e-6)
	assert.InDelta(t, math.Sqrt(2)/3.5, agg.NRMSE, 1e-6)
	assert.InDelta(t, 2.0/7.0, agg.ND, 1e-6)
	assert.InDeltaSlice(t, []float64{0, 0, 0.5}, agg.Coverage, 1e-6)
}

func TestReportTable(t *testing.T) {
	forecast := &deepar.Forecast{Samples: [][]float32{{1, 2}, {2, 3}, {3, 4}}}
	e := NewEvaluator(1)
	m, err := e.EvaluateItem("item_0", []float32{1, 3, 5}, []float32{2, 5}, forecast)
	require.NoError(t, err)
	report := ReportTable(e.Aggregate([]*ItemMetrics{m}))
	assert.Contains(t, report, "RMSSE")
	assert.Contains(t, report, "Coverage[0.9]")
	assert.Contains(t, ItemsTable([]*ItemMetrics{m}), "item_0")
}

func TestPlotForecast(t *testing.T) {
	forecast := &deepar.Forecast{Samples: [][]float32{{1, 2}, {2, 3}, {3, 4}}}
	filePath := filepath.Join(t.TempDir(), "forecast.png")
	err := PlotForecast(filePath, "item_0", []float32{1, 3, float32(math.NaN()), 5}, []float32{2, 5}, forecast, 0.1, 0.9)
	require.NoError(t, err)
	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
