// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"io"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/timeseries/pkg/deepar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nan = float32(math.NaN())

// testSetup returns a context with prediction length 2, context length 3 and lags {1, 2}: the history
// length is 5. Daily frequency: 3 calendar features plus the age.
func testSetup(t *testing.T, series []*Series) (*context.Context, *FeatureSpec, *deepar.Config) {
	ctx := deepar.CreateDefaultContext()
	ctx.SetParams(map[string]any{
		deepar.ParamPredictionLength: 2,
		deepar.ParamContextLength:    3,
		deepar.ParamLags:             []int{1, 2},
	})
	spec, err := NewFeatureSpec(ctx, series, nil)
	require.NoError(t, err)
	spec.SetDataParams(ctx)
	cfg, err := deepar.ConfigFromContext(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.HistoryLength())
	return ctx, spec, cfg
}

func rangeSeries(id string, n int, category int32) *Series {
	target := make([]float32, n)
	for ii := range target {
		target[ii] = float32(ii + 1)
	}
	return &Series{ItemID: id, Start: SyntheticStart, Target: target, StaticCat: []int32{category}}
}

func TestAddObservedValuesIndicator(t *testing.T) {
	values, observed := AddObservedValuesIndicator([]float32{1, nan, 3, nan})
	assert.Equal(t, []float32{1, 0, 3, 0}, values)
	assert.Equal(t, []float32{1, 0, 1, 0}, observed)
}

func TestSamplers(t *testing.T) {
	assert.Equal(t, []int{8}, ValidationSplitSampler{MinFuture: 2}.Sample(10))
	assert.Empty(t, ValidationSplitSampler{MinFuture: 2}.Sample(1))
	assert.Equal(t, []int{10}, TestSplitSampler{}.Sample(10))

	sampler := NewExpectedNumInstanceSampler(1.0, 5, 42)
	const numSeries = 1000
	total := 0
	for range numSeries {
		for _, point := range sampler.Sample(50) {
			require.GreaterOrEqual(t, point, 0)
			require.LessOrEqual(t, point, 45)
			total++
		}
	}
	assert.InDelta(t, 1.0, float64(total)/numSeries, 0.15)
	assert.Empty(t, sampler.Sample(4))
}

func TestInstanceSplitter(t *testing.T) {
	target, observed := AddObservedValuesIndicator([]float32{1, 2, nan, 4})
	timeFeat := [][]float32{{0}, {1}, {2}, {3}, {4}, {5}}
	sp := InstanceSplitter{HistoryLength: 3, PredictionLength: 2}

	inst := sp.Split(target, observed, timeFeat, 2)
	assert.Equal(t, []float32{0, 1, 2}, inst.PastTarget)
	assert.Equal(t, []float32{0, 1, 1}, inst.PastObserved)
	assert.Equal(t, [][]float32{{0}, {0}, {1}}, inst.PastTimeFeat)
	assert.Equal(t, []float32{0, 4}, inst.FutureTarget)
	assert.Equal(t, []float32{0, 1}, inst.FutureObserved)
	assert.Equal(t, [][]float32{{2}, {3}}, inst.FutureTimeFeat)

	// Split beyond the end of the target.
	inst = sp.Split(target, observed, timeFeat, 4)
	assert.Equal(t, []float32{2, 0, 4}, inst.PastTarget)
	assert.Equal(t, []float32{0, 0}, inst.FutureTarget)
	assert.Equal(t, []float32{0, 0}, inst.FutureObserved)
	assert.Equal(t, [][]float32{{4}, {5}}, inst.FutureTimeFeat)
}

func TestNewFeatureSpec(t *testing.T) {
	series := []*Series{rangeSeries("a", 10, 0), rangeSeries("b", 10, 4)}
	ctx := deepar.CreateDefaultContext()
	spec, err := NewFeatureSpec(ctx, series, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, spec.Cardinalities)
	assert.Equal(t, 1, spec.NumStaticReal)
	assert.False(t, spec.UseStaticReal)
	assert.Equal(t, 4, spec.NumTimeFeatures())

	_, err = NewFeatureSpec(ctx, series, []int{3})
	require.Error(t, err)

	ctx.SetParam("use_feat_static_cat", false)
	spec, err = NewFeatureSpec(ctx, series, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, spec.Cardinalities)
	assert.Equal(t, []int32{0}, spec.staticCat(series[1]))

	ctx.SetParam("use_feat_dynamic_real", true)
	series[0].DynamicReal = [][]float32{make([]float32, 10)}
	_, err = NewFeatureSpec(ctx, series, nil)
	require.Error(t, err, "inconsistent number of dynamic real features")
	series[1].DynamicReal = [][]float32{make([]float32, 10)}
	spec, err = NewFeatureSpec(ctx, series, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, spec.NumTimeFeatures())
}

func TestSplitTrainTest(t *testing.T) {
	trainSeries, testSeries := SplitTrainTest([]*Series{rangeSeries("a", 10, 0), rangeSeries("b", 2, 0)}, 2)
	require.Len(t, trainSeries, 1)
	require.Len(t, testSeries, 1)
	assert.Equal(t, 8, trainSeries[0].Len())
	assert.Equal(t, 10, testSeries[0].Len())
	assert.Equal(t, "a", trainSeries[0].ItemID)
}

func TestReadWideCSV(t *testing.T) {
	const contents = `id,state,size,d_1,d_2,d_10,d_3
a,TX,1.5,1,2,10,3
b,CA,2.5,4,NaN,40,6
`
	series, cardinalities, err := ReadWideCSV(strings.NewReader(contents), CSVOptions{
		CategoricalColumns: []string{"state"},
		StaticRealColumns:  []string{"size"},
	})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, []int{2}, cardinalities)
	assert.Equal(t, "a", series[0].ItemID)
	assert.Equal(t, []float32{1, 2, 3, 10}, series[0].Target)
	assert.Equal(t, []int32{1}, series[0].StaticCat)
	assert.Equal(t, []float32{1.5}, series[0].StaticReal)
	assert.Equal(t, []int32{0}, series[1].StaticCat)
	assert.True(t, math.IsNaN(float64(series[1].Target[1])))
	assert.Equal(t, float32(40), series[1].Target[3])

	// Explicit feature map.
	series, cardinalities, err = ReadWideCSV(strings.NewReader(contents), CSVOptions{
		FeatureMap: &FeatureMap{
			Categorical:  []string{"state"},
			FeatureToMap: map[string]map[string]int{"state": {"TX": 0, "CA": 1, "WI": 2}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, cardinalities)
	assert.Equal(t, []int32{0}, series[0].StaticCat)
	assert.Equal(t, []int32{1}, series[1].StaticCat)

	_, _, err = ReadWideCSV(strings.NewReader(contents), CSVOptions{TargetPrefix: "w_"})
	require.Error(t, err)
}

func TestVocabulary(t *testing.T) {
	assert.Equal(t, map[string]int{"CA": 0, "TX": 1, "WI": 2}, Vocabulary([]string{"WI", "CA", "TX", "CA"}))
}

func TestDatasetValidation(t *testing.T) {
	series := []*Series{rangeSeries("a", 8, 0), rangeSeries("b", 3, 1), rangeSeries("c", 8, 1)}
	_, spec, cfg := testSetup(t, series)
	ds, err := New("validation", series, spec, cfg, ModeValidation)
	require.NoError(t, err)
	ds.BatchSize(2, false)
	require.Equal(t, 3, ds.NumSeries())

	_, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	require.Len(t, inputs, deepar.NumTrainingInputs)
	require.Len(t, labels, 1)
	assert.Equal(t, []int{2, 1}, inputs[deepar.InputStaticCat].Shape().Dimensions)
	assert.Equal(t, []int{2, 5, 4}, inputs[deepar.InputPastTimeFeat].Shape().Dimensions)
	assert.Equal(t, []int{2, 2, 4}, inputs[deepar.InputFutureTimeFeat].Shape().Dimensions)
	assert.Equal(t, []int32{0, 1}, tensors.MustCopyFlatData[int32](inputs[deepar.InputStaticCat]))
	assert.Equal(t, []float32{2, 3, 4, 5, 6, 0, 0, 0, 0, 1},
		tensors.MustCopyFlatData[float32](inputs[deepar.InputPastTarget]))
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 0, 0, 0, 0, 1},
		tensors.MustCopyFlatData[float32](inputs[deepar.InputPastObserved]))
	assert.Equal(t, []float32{7, 8, 2, 3}, tensors.MustCopyFlatData[float32](inputs[deepar.InputFutureTarget]))
	assert.Equal(t, []float32{7, 8, 2, 3}, tensors.MustCopyFlatData[float32](labels[0]))

	_, inputs, _, err = ds.Yield()
	require.NoError(t, err)
	assert.Equal(t, 1, inputs[deepar.InputPastTarget].Shape().Dim(0))
	_, _, _, err = ds.Yield()
	require.ErrorIs(t, err, io.EOF)

	// Reset and drop the incomplete batch.
	ds.BatchSize(2, true)
	ds.Reset()
	_, _, _, err = ds.Yield()
	require.NoError(t, err)
	_, _, _, err = ds.Yield()
	require.ErrorIs(t, err, io.EOF)
}

func TestDatasetTest(t *testing.T) {
	series := []*Series{rangeSeries("a", 8, 0)}
	_, spec, cfg := testSetup(t, series)
	ds, err := New("test", series, spec, cfg, ModeTest)
	require.NoError(t, err)
	_, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 6, 7, 8}, tensors.MustCopyFlatData[float32](inputs[deepar.InputPastTarget]))
	assert.Equal(t, []float32{0, 0}, tensors.MustCopyFlatData[float32](inputs[deepar.InputFutureTarget]))
	assert.Equal(t, []float32{0, 0}, tensors.MustCopyFlatData[float32](inputs[deepar.InputFutureObserved]))

	// The last time feature is the age: log10(2+t), and the first future step is t=8.
	futureTimeFeat := tensors.MustCopyFlatData[float32](inputs[deepar.InputFutureTimeFeat])
	assert.InDelta(t, 1.0, futureTimeFeat[3], 1e-6)
	_, _, _, err = ds.Yield()
	require.ErrorIs(t, err, io.EOF)
}

func TestDatasetTrain(t *testing.T) {
	series := SeasonalCountSeries(5, 30, 1)
	_, spec, cfg := testSetup(t, series)
	ds, err := New("train", series, spec, cfg, ModeTrain)
	require.NoError(t, err)
	ds.BatchSize(4, true).WithSeed(7)
	for range 20 {
		_, inputs, labels, err := ds.Yield()
		require.NoError(t, err)
		assert.Equal(t, []int{4, 5}, inputs[deepar.InputPastTarget].Shape().Dimensions)
		assert.Equal(t, []int{4, 2}, labels[0].Shape().Dimensions)
		// The future window is always fully observed.
		for _, v := range tensors.MustCopyFlatData[float32](inputs[deepar.InputFutureObserved]) {
			require.Equal(t, float32(1), v)
		}
	}

	// Same seed, same batches.
	ds.Reset()
	_, first, _, err := ds.Yield()
	require.NoError(t, err)
	ds.Reset()
	_, again, _, err := ds.Yield()
	require.NoError(t, err)
	assert.Equal(t, tensors.MustCopyFlatData[float32](first[deepar.InputPastTarget]),
		tensors.MustCopyFlatData[float32](again[deepar.InputPastTarget]))
}

func TestDatasetConcurrentConfiguration(t *testing.T) {
	series := SeasonalCountSeries(5, 30, 1)
	_, spec, cfg := testSetup(t, series)
	ds, err := New("train", series, spec, cfg, ModeTrain)
	require.NoError(t, err)
	ds.BatchSize(2, true)

	var wg sync.WaitGroup
	for ii := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ds.WithSeed(uint64(ii)).NumInstancesPerSeries(float64(ii + 1))
		}()
		go func() {
			defer wg.Done()
			for range 5 {
				_, inputs, _, err := ds.Yield()
				assert.NoError(t, err)
				if err == nil {
					assert.Equal(t, []int{2, 5}, inputs[deepar.InputPastTarget].Shape().Dimensions)
				}
			}
		}()
	}
	wg.Wait()

	// After the configuration settles, the batches are those of a fresh dataset with the same settings.
	ds.WithSeed(11).NumInstancesPerSeries(1)
	_, got, _, err := ds.Yield()
	require.NoError(t, err)
	fresh, err := New("fresh", series, spec, cfg, ModeTrain)
	require.NoError(t, err)
	fresh.BatchSize(2, true).WithSeed(11)
	_, want, _, err := fresh.Yield()
	require.NoError(t, err)
	assert.Equal(t, tensors.MustCopyFlatData[float32](want[deepar.InputPastTarget]),
		tensors.MustCopyFlatData[float32](got[deepar.InputPastTarget]))
}

func TestDatasetMismatchedConfig(t *testing.T) {
	series := []*Series{rangeSeries("a", 8, 0)}
	ctx, spec, _ := testSetup(t, series)
	deepar.SetDataParams(ctx, spec.Cardinalities, spec.NumStaticReal, spec.NumTimeFeatures()+1)
	cfg, err := deepar.ConfigFromContext(ctx)
	require.NoError(t, err)
	_, err = New("bad", series, spec, cfg, ModeValidation)
	require.Error(t, err)
}
