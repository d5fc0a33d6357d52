// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/timeseries/pkg/deepar"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Mode of a Dataset: it defines how the split points of the series are chosen.
type Mode int

const (
	// ModeTrain samples windows randomly with an ExpectedNumInstanceSampler, looping over the series
	// indefinitely.
	ModeTrain Mode = iota

	// ModeValidation yields once the last window of each series with a complete future window, so the
	// predictions can be compared to the last values of the series.
	ModeValidation

	// ModeTest yields once the window right after the end of each series, to forecast unknown values.
	// The future target and observed values are zero.
	ModeTest
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeValidation:
		return "validation"
	case ModeTest:
		return "test"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// preparedSeries holds the values of a series after the observed values indicator and time features
// transformations.
type preparedSeries struct {
	series           *Series
	target, observed []float32
	timeFeat         [][]float32
	staticCat        []int32
	staticReal       []float32
}

// Dataset implements train.Dataset, yielding batches of the DeepAR input bundle (see the deepar.Input*
// constants) and, as the single label, the future target.
type Dataset struct {
	name     string
	mode     Mode
	spec     *FeatureSpec
	splitter InstanceSplitter

	series []*preparedSeries

	batchSize           int
	dropIncompleteBatch bool
	numInstances        float64
	seed                uint64

	mu sync.Mutex

	// Sampling state, reset by Reset.
	sampler InstanceSampler
	rng     *rand.Rand
	order   []int
	next    int
	pending []*Instance
}

// Assert Dataset is a train.Dataset.
var _ train.Dataset = (*Dataset)(nil)

// New creates a Dataset over the given series, for a model with the given configuration.
//
// The time features of every series are computed upfront. In ModeTest they cover the prediction window
// beyond the end of the target, so dynamic real features (if used) must cover it.
//
// The default batch size is 32; see BatchSize.
func New(name string, series []*Series, spec *FeatureSpec, cfg *deepar.Config, mode Mode) (*Dataset, error) {
	if spec.NumTimeFeatures() != cfg.NumTimeFeatures {
		return nil, errors.Errorf("dataset %q has %d time features, but the model is configured for %d",
			name, spec.NumTimeFeatures(), cfg.NumTimeFeatures)
	}
	ds := &Dataset{
		name: name,
		mode: mode,
		spec: spec,
		splitter: InstanceSplitter{
			HistoryLength:    cfg.HistoryLength(),
			PredictionLength: cfg.PredictionLength,
		},
		batchSize:    32,
		numInstances: 1.0,
	}
	for _, s := range series {
		ps := &preparedSeries{
			series:     s,
			staticCat:  spec.staticCat(s),
			staticReal: spec.staticReal(s),
		}
		if len(ps.staticCat) != len(spec.Cardinalities) || len(ps.staticReal) != spec.NumStaticReal {
			return nil, errors.Errorf("series %q features don't match the feature spec", s.ItemID)
		}
		ps.target, ps.observed = AddObservedValuesIndicator(s.Target)
		numPeriods := s.Len()
		if mode == ModeTest {
			numPeriods += cfg.PredictionLength
		}
		var err error
		ps.timeFeat, err = spec.TimeFeaturesFor(s, numPeriods)
		if err != nil {
			return nil, errors.WithMessagef(err, "dataset %q", name)
		}
		if mode != ModeTest && s.Len() < cfg.PredictionLength {
			klog.Warningf("dataset %q: series %q has %d values, less than the prediction length %d: skipped",
				name, s.ItemID, s.Len(), cfg.PredictionLength)
			continue
		}
		ds.series = append(ds.series, ps)
	}
	if len(ds.series) == 0 {
		return nil, errors.Errorf("dataset %q has no usable series", name)
	}
	klog.V(1).Infof("dataset %q (%s): %d series", name, mode, len(ds.series))
	ds.Reset()
	return ds, nil
}

// BatchSize sets the number of instances per batch. If dropIncompleteBatch is set, the last batch of the
// validation and test modes is dropped when it is incomplete. It returns the Dataset itself.
func (ds *Dataset) BatchSize(batchSize int, dropIncompleteBatch bool) *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.batchSize = batchSize
	ds.dropIncompleteBatch = dropIncompleteBatch
	return ds
}

// NumInstancesPerSeries sets the expected number of training windows sampled per series in each pass over
// the series, in ModeTrain. It resets the dataset and returns the Dataset itself.
func (ds *Dataset) NumInstancesPerSeries(n float64) *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.numInstances = n
	ds.lockedReset()
	return ds
}

// WithSeed sets the seed of the random sampling of ModeTrain. It resets the dataset and returns the Dataset
// itself.
func (ds *Dataset) WithSeed(seed uint64) *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.seed = seed
	ds.lockedReset()
	return ds
}

// NumSeries returns the number of series used by the dataset.
func (ds *Dataset) NumSeries() int { return len(ds.series) }

// Series returns the i-th series used by the dataset, in the order the ModeValidation and ModeTest yield them.
func (ds *Dataset) Series(i int) *Series { return ds.series[i].series }

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.lockedReset()
}

func (ds *Dataset) lockedReset() {
	ds.next = 0
	ds.pending = nil
	ds.order = make([]int, len(ds.series))
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	switch ds.mode {
	case ModeTrain:
		ds.rng = rand.New(rand.NewPCG(ds.seed, 1))
		ds.sampler = NewExpectedNumInstanceSampler(ds.numInstances, ds.splitter.PredictionLength, ds.seed)
		ds.rng.Shuffle(len(ds.order), func(i, j int) { ds.order[i], ds.order[j] = ds.order[j], ds.order[i] })
	case ModeValidation:
		ds.sampler = ValidationSplitSampler{MinFuture: ds.splitter.PredictionLength}
	case ModeTest:
		ds.sampler = TestSplitSampler{}
	}
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	var batch []*Instance
	if ds.mode == ModeTrain {
		batch, err = ds.lockedNextTrainBatch()
	} else {
		batch, err = ds.lockedNextEvalBatch()
	}
	if err != nil {
		return
	}
	inputs = Bundle(batch)
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(flatten(batch, func(inst *Instance) []float32 { return inst.FutureTarget }),
			len(batch), ds.splitter.PredictionLength),
	}
	return
}

// lockedNextTrainBatch samples instances until a full batch is available. It loops over the series
// indefinitely, reshuffling them on each pass.
func (ds *Dataset) lockedNextTrainBatch() ([]*Instance, error) {
	seriesWithoutInstances := 0
	for len(ds.pending) < ds.batchSize {
		if ds.next >= len(ds.order) {
			ds.next = 0
			ds.rng.Shuffle(len(ds.order), func(i, j int) { ds.order[i], ds.order[j] = ds.order[j], ds.order[i] })
		}
		ps := ds.series[ds.order[ds.next]]
		ds.next++
		points := ds.sampler.Sample(len(ps.target))
		if len(points) == 0 {
			seriesWithoutInstances++
			if seriesWithoutInstances > 100*len(ds.series) {
				return nil, errors.Errorf("dataset %q: no training windows sampled after %d series, "+
					"the series may be too short", ds.name, seriesWithoutInstances)
			}
			continue
		}
		seriesWithoutInstances = 0
		for _, point := range points {
			ds.pending = append(ds.pending, ds.instance(ps, point))
		}
	}
	batch := ds.pending[:ds.batchSize]
	ds.pending = ds.pending[ds.batchSize:]
	return batch, nil
}

// lockedNextEvalBatch yields the next batch of split points of the deterministic samplers, or io.EOF once all
// series were used.
func (ds *Dataset) lockedNextEvalBatch() ([]*Instance, error) {
	for len(ds.pending) < ds.batchSize && ds.next < len(ds.order) {
		ps := ds.series[ds.order[ds.next]]
		ds.next++
		for _, point := range ds.sampler.Sample(len(ps.target)) {
			ds.pending = append(ds.pending, ds.instance(ps, point))
		}
	}
	if len(ds.pending) == 0 || (len(ds.pending) < ds.batchSize && ds.dropIncompleteBatch) {
		ds.pending = nil
		return nil, io.EOF
	}
	n := min(ds.batchSize, len(ds.pending))
	batch := ds.pending[:n]
	ds.pending = ds.pending[n:]
	return batch, nil
}

func (ds *Dataset) instance(ps *preparedSeries, splitPoint int) *Instance {
	inst := ds.splitter.Split(ps.target, ps.observed, ps.timeFeat, splitPoint)
	inst.StaticCat = ps.staticCat
	inst.StaticReal = ps.staticReal
	return inst
}

// Bundle converts a batch of instances to the DeepAR input bundle, ordered as the deepar.Input* constants.
func Bundle(batch []*Instance) []*tensors.Tensor {
	batchSize := len(batch)
	first := batch[0]
	historyLength, predictionLength := len(first.PastTarget), len(first.FutureTarget)
	numTimeFeat := len(first.PastTimeFeat[0])
	bundle := make([]*tensors.Tensor, deepar.NumTrainingInputs)
	bundle[deepar.InputStaticCat] = tensors.FromFlatDataAndDimensions(
		flatten(batch, func(inst *Instance) []int32 { return inst.StaticCat }), batchSize, len(first.StaticCat))
	bundle[deepar.InputStaticReal] = tensors.FromFlatDataAndDimensions(
		flatten(batch, func(inst *Instance) []float32 { return inst.StaticReal }), batchSize, len(first.StaticReal))
	bundle[deepar.InputPastTimeFeat] = tensors.FromFlatDataAndDimensions(
		flatten(batch, func(inst *Instance) []float32 { return flatten(inst.PastTimeFeat, identity[[]float32]) }),
		batchSize, historyLength, numTimeFeat)
	bundle[deepar.InputPastTarget] = tensors.FromFlatDataAndDimensions(
		flatten(batch, func(inst *Instance) []float32 { return inst.PastTarget }), batchSize, historyLength)
	bundle[deepar.InputPastObserved] = tensors.FromFlatDataAndDimensions(
		flatten(batch, func(inst *Instance) []float32 { return inst.PastObserved }), batchSize, historyLength)
	bundle[deepar.InputFutureTimeFeat] = tensors.FromFlatDataAndDimensions(
		flatten(batch, func(inst *Instance) []float32 { return flatten(inst.FutureTimeFeat, identity[[]float32]) }),
		batchSize, predictionLength, numTimeFeat)
	bundle[deepar.InputFutureTarget] = tensors.FromFlatDataAndDimensions(
		flatten(batch, func(inst *Instance) []float32 { return inst.FutureTarget }), batchSize, predictionLength)
	bundle[deepar.InputFutureObserved] = tensors.FromFlatDataAndDimensions(
		flatten(batch, func(inst *Instance) []float32 { return inst.FutureObserved }), batchSize, predictionLength)
	return bundle
}

func identity[T any](v T) T { return v }

// flatten concatenates the slices returned by fn for each element.
func flatten[E any, T any](elements []E, fn func(E) []T) []T {
	var flat []T
	for _, e := range elements {
		flat = append(flat, fn(e)...)
	}
	return flat
}

// FeatureSpec returns the description of the features yielded.
func (ds *Dataset) FeatureSpec() *FeatureSpec { return ds.spec }
