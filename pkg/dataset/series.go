// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset turns collections of time series into batches of the fixed input bundle used by the
// DeepAR model (see the deepar.Input* constants).
//
// The pipeline for each series is: observed values indicator (missing values are NaN), time features
// (calendar features, age and the optional dynamic real features stacked together), and the instance
// splitter, that cuts a window of history (past) and prediction (future) values at a split point chosen by
// an InstanceSampler.
package dataset

import (
	"math"
	"slices"
	"time"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/timeseries/pkg/deepar"
	"github.com/gomlx/timeseries/pkg/timefeatures"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Series is one time series with its features.
type Series struct {
	// ItemID identifies the series, e.g. for reports and plots.
	ItemID string

	// Start is the timestamp of the first target value.
	Start time.Time

	// Target values; missing values are NaN.
	Target []float32

	// StaticCat holds the id of each static categorical feature.
	StaticCat []int32

	StaticReal []float32

	// DynamicReal is indexed [feature][time]. Each feature must cover the target, and also the prediction
	// window when forecasting beyond the end of the target.
	DynamicReal [][]float32
}

// Len returns the number of target values.
func (s *Series) Len() int { return len(s.Target) }

// Truncate returns a shallow copy of the series with only the first n target values.
// The dynamic real features are kept in full, since they are known in advance.
func (s *Series) Truncate(n int) *Series {
	c := *s
	c.Target = s.Target[:min(n, len(s.Target))]
	return &c
}

// SplitTrainTest splits each series into a training series, without the last predictionLength values, and
// a test series with all the values, whose last window is the one evaluated.
// Series shorter or equal to predictionLength are skipped, with a warning.
func SplitTrainTest(series []*Series, predictionLength int) (trainSeries, testSeries []*Series) {
	for _, s := range series {
		if s.Len() <= predictionLength {
			klog.Warningf("series %q has only %d values, not enough for a prediction length of %d: skipped",
				s.ItemID, s.Len(), predictionLength)
			continue
		}
		trainSeries = append(trainSeries, s.Truncate(s.Len()-predictionLength))
		testSeries = append(testSeries, s)
	}
	return
}

// FeatureSpec describes which features of the series are fed to the model, and their sizes.
type FeatureSpec struct {
	Freq         timefeatures.Frequency
	TimeFeatures []timefeatures.Feature

	UseStaticCat, UseStaticReal, UseDynamicReal bool

	// Cardinalities of the static categorical features. If UseStaticCat is false, it is [1], and every
	// series is given the category 0.
	Cardinalities []int

	// NumStaticReal is the number of static real features. If UseStaticReal is false, it is 1, and every
	// series is given the value 0.
	NumStaticReal int

	NumDynamicReal int
}

// NewFeatureSpec creates the FeatureSpec for the given series, with the frequency and the "use_feat_*" flags
// taken from the context hyperparameters.
//
// If cardinalities is nil, they are derived from the data (the largest id + 1 of each feature).
// It returns an error if the series are not consistent among themselves.
func NewFeatureSpec(ctx *context.Context, series []*Series, cardinalities []int) (*FeatureSpec, error) {
	freq, err := timefeatures.ParseFrequency(context.GetParamOr(ctx, deepar.ParamFreq, "D"))
	if err != nil {
		return nil, err
	}
	spec := &FeatureSpec{
		Freq:           freq,
		TimeFeatures:   timefeatures.ForFrequency(freq),
		UseStaticCat:   context.GetParamOr(ctx, "use_feat_static_cat", true),
		UseStaticReal:  context.GetParamOr(ctx, "use_feat_static_real", false),
		UseDynamicReal: context.GetParamOr(ctx, "use_feat_dynamic_real", false),
		Cardinalities:  []int{1},
		NumStaticReal:  1,
	}
	if len(series) == 0 {
		return nil, errors.New("no series given")
	}
	first := series[0]
	for _, s := range series {
		if spec.UseStaticCat && len(s.StaticCat) != len(first.StaticCat) {
			return nil, errors.Errorf("series %q has %d static categorical features, series %q has %d",
				s.ItemID, len(s.StaticCat), first.ItemID, len(first.StaticCat))
		}
		if spec.UseStaticReal && len(s.StaticReal) != len(first.StaticReal) {
			return nil, errors.Errorf("series %q has %d static real features, series %q has %d",
				s.ItemID, len(s.StaticReal), first.ItemID, len(first.StaticReal))
		}
		if spec.UseDynamicReal && len(s.DynamicReal) != len(first.DynamicReal) {
			return nil, errors.Errorf("series %q has %d dynamic real features, series %q has %d",
				s.ItemID, len(s.DynamicReal), first.ItemID, len(first.DynamicReal))
		}
	}

	if spec.UseStaticCat && len(first.StaticCat) > 0 {
		if cardinalities == nil {
			cardinalities = make([]int, len(first.StaticCat))
			for _, s := range series {
				for ii, id := range s.StaticCat {
					cardinalities[ii] = max(cardinalities[ii], int(id)+1)
				}
			}
		}
		if len(cardinalities) != len(first.StaticCat) {
			return nil, errors.Errorf("%d cardinalities given for %d static categorical features",
				len(cardinalities), len(first.StaticCat))
		}
		for _, s := range series {
			for ii, id := range s.StaticCat {
				if id < 0 || int(id) >= cardinalities[ii] {
					return nil, errors.Errorf("series %q static categorical feature #%d is %d, out of range [0, %d)",
						s.ItemID, ii, id, cardinalities[ii])
				}
			}
		}
		spec.Cardinalities = slices.Clone(cardinalities)
	} else {
		spec.UseStaticCat = false
	}
	if spec.UseStaticReal && len(first.StaticReal) > 0 {
		spec.NumStaticReal = len(first.StaticReal)
	} else {
		spec.UseStaticReal = false
	}
	if spec.UseDynamicReal {
		spec.NumDynamicReal = len(first.DynamicReal)
	}
	return spec, nil
}

// NumTimeFeatures is the number of time features per time step: the calendar features, the age and the
// dynamic real features.
func (spec *FeatureSpec) NumTimeFeatures() int {
	n := len(spec.TimeFeatures) + 1
	if spec.UseDynamicReal {
		n += spec.NumDynamicReal
	}
	return n
}

// SetDataParams records the feature sizes in the context hyperparameters, so the model is built for them.
// See deepar.SetDataParams.
func (spec *FeatureSpec) SetDataParams(ctx *context.Context) {
	deepar.SetDataParams(ctx, spec.Cardinalities, spec.NumStaticReal, spec.NumTimeFeatures())
}

// staticCat returns the static categorical features of s to feed the model.
func (spec *FeatureSpec) staticCat(s *Series) []int32 {
	if !spec.UseStaticCat {
		return []int32{0}
	}
	return s.StaticCat
}

func (spec *FeatureSpec) staticReal(s *Series) []float32 {
	if !spec.UseStaticReal {
		return []float32{0}
	}
	return s.StaticReal
}

// AddObservedValuesIndicator returns a copy of target with the missing (NaN) values replaced by 0, and the
// observed indicator: 1 for values present, 0 for missing ones.
func AddObservedValuesIndicator(target []float32) (values, observed []float32) {
	values = make([]float32, len(target))
	observed = make([]float32, len(target))
	for ii, v := range target {
		if math.IsNaN(float64(v)) {
			continue
		}
		values[ii] = v
		observed[ii] = 1
	}
	return
}

// TimeFeaturesFor returns the time features of the series for the first n periods, shaped [n][NumTimeFeatures()]:
// the calendar features, followed by the age and by the dynamic real features.
//
// Dynamic real features shorter than n are an error.
func (spec *FeatureSpec) TimeFeaturesFor(s *Series, n int) ([][]float32, error) {
	calendar := timefeatures.Compute(spec.TimeFeatures, s.Start, spec.Freq, n)
	age := timefeatures.Age(n)
	numFeatures := spec.NumTimeFeatures()
	stacked := make([][]float32, n)
	for ii := range n {
		row := make([]float32, 0, numFeatures)
		row = append(row, calendar[ii]...)
		row = append(row, age[ii])
		stacked[ii] = row
	}
	if spec.UseDynamicReal {
		for jj, feature := range s.DynamicReal {
			if len(feature) < n {
				return nil, errors.Errorf("series %q dynamic real feature #%d has %d values, %d required",
					s.ItemID, jj, len(feature), n)
			}
			for ii := range n {
				stacked[ii] = append(stacked[ii], feature[ii])
			}
		}
	}
	return stacked, nil
}
