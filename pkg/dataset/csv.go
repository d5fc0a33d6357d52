// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"encoding/json"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FeatureMap describes the features of a wide CSV file, and optionally fixes the ids of the categorical values.
//
// It is read from JSON, e.g.:
//
//	{
//	  "feature_array": ["item_id", "dept_id", "cat_id", "store_id", "state_id"],
//	  "categorical": ["dept_id", "cat_id", "store_id", "state_id"],
//	  "feature_to_map": {"state_id": {"CA": 0, "TX": 1, "WI": 2}}
//	}
type FeatureMap struct {
	FeatureArray []string                  `json:"feature_array"`
	Categorical  []string                  `json:"categorical"`
	FeatureToMap map[string]map[string]int `json:"feature_to_map"`
}

// LoadFeatureMap reads a FeatureMap from a JSON file.
func LoadFeatureMap(filePath string) (*FeatureMap, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read feature map from %q", filePath)
	}
	fm := &FeatureMap{}
	if err := json.Unmarshal(contents, fm); err != nil {
		return nil, errors.Wrapf(err, "failed to parse feature map in %q", filePath)
	}
	return fm, nil
}

// CSVOptions configures ReadWideCSV.
type CSVOptions struct {
	// IDColumn holds the ItemID of each series. Defaults to "id".
	IDColumn string

	// CategoricalColumns are converted to the static categorical features, in the given order.
	// If empty and FeatureMap is set, FeatureMap.Categorical is used.
	CategoricalColumns []string

	// StaticRealColumns are converted to the static real features, in the given order.
	StaticRealColumns []string

	// TargetPrefix selects the target columns: they are ordered by the number that follows the prefix.
	// Defaults to "d_".
	TargetPrefix string

	// Start is the timestamp of the first target column, for all series.
	Start time.Time

	// FeatureMap optionally fixes the ids of the categorical values. Columns without a mapping get a
	// vocabulary of their sorted values, with ids starting at 0.
	FeatureMap *FeatureMap
}

// LoadWideCSV loads the series of a "wide" CSV file, with one series per row: see ReadWideCSV.
func LoadWideCSV(filePath string, opts CSVOptions) (seriesList []*Series, cardinalities []int, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() {
		if cErr := f.Close(); err == nil && cErr != nil {
			err = errors.Wrapf(cErr, "failed to close %q", filePath)
		}
	}()
	seriesList, cardinalities, err = ReadWideCSV(f, opts)
	if err != nil {
		err = errors.WithMessagef(err, "while reading %q", filePath)
	}
	return
}

// ReadWideCSV reads the series of a "wide" CSV, with one series per row, as in the M5 sales tables: the
// id column, the categorical columns, and one column per time step named with the target prefix followed by
// the step number ("d_1", "d_2", ...). Empty or "NaN" values are missing.
//
// It returns the series and the cardinality of each categorical feature.
func ReadWideCSV(r io.Reader, opts CSVOptions) ([]*Series, []int, error) {
	if opts.IDColumn == "" {
		opts.IDColumn = "id"
	}
	if opts.TargetPrefix == "" {
		opts.TargetPrefix = "d_"
	}
	if len(opts.CategoricalColumns) == 0 && opts.FeatureMap != nil {
		opts.CategoricalColumns = opts.FeatureMap.Categorical
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2011, 1, 29, 0, 0, 0, 0, time.UTC)
	}

	stringColumns := map[string]series.Type{opts.IDColumn: series.String}
	for _, name := range opts.CategoricalColumns {
		stringColumns[name] = series.String
	}
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float),
		dataframe.WithTypes(stringColumns))
	if df.Err != nil {
		return nil, nil, errors.Wrap(df.Err, "failed to parse CSV")
	}

	// Target columns, sorted by their step number.
	type targetColumn struct {
		name string
		step int
	}
	var targetColumns []targetColumn
	for _, name := range df.Names() {
		suffix, found := strings.CutPrefix(name, opts.TargetPrefix)
		if !found {
			continue
		}
		step, err := strconv.Atoi(suffix)
		if err != nil {
			return nil, nil, errors.Errorf("target column %q doesn't end with a step number", name)
		}
		targetColumns = append(targetColumns, targetColumn{name, step})
	}
	if len(targetColumns) == 0 {
		return nil, nil, errors.Errorf("no target columns with prefix %q", opts.TargetPrefix)
	}
	slices.SortFunc(targetColumns, func(a, b targetColumn) int { return a.step - b.step })
	klog.V(1).Infof("CSV with %d rows and %d time steps", df.Nrow(), len(targetColumns))

	numRows := df.Nrow()
	seriesList := make([]*Series, numRows)
	ids := df.Col(opts.IDColumn)
	if ids.Err != nil {
		return nil, nil, errors.Wrapf(ids.Err, "missing id column %q", opts.IDColumn)
	}
	for row, id := range ids.Records() {
		seriesList[row] = &Series{
			ItemID: id,
			Start:  opts.Start,
			Target: make([]float32, len(targetColumns)),
		}
	}
	for step, column := range targetColumns {
		for row, value := range df.Col(column.name).Float() {
			seriesList[row].Target[step] = float32(value)
		}
	}

	cardinalities := make([]int, len(opts.CategoricalColumns))
	for ii, name := range opts.CategoricalColumns {
		col := df.Col(name)
		if col.Err != nil {
			return nil, nil, errors.Wrapf(col.Err, "missing categorical column %q", name)
		}
		values := col.Records()
		var vocabulary map[string]int
		if opts.FeatureMap != nil {
			vocabulary = opts.FeatureMap.FeatureToMap[name]
		}
		if vocabulary == nil {
			vocabulary = Vocabulary(values)
		}
		for row, value := range values {
			id, found := vocabulary[value]
			if !found {
				return nil, nil, errors.Errorf("value %q of column %q (row %d) not in its feature map", value, name, row)
			}
			seriesList[row].StaticCat = append(seriesList[row].StaticCat, int32(id))
			cardinalities[ii] = max(cardinalities[ii], id+1)
		}
		cardinalities[ii] = max(cardinalities[ii], len(vocabulary))
	}

	for _, name := range opts.StaticRealColumns {
		col := df.Col(name)
		if col.Err != nil {
			return nil, nil, errors.Wrapf(col.Err, "missing static real column %q", name)
		}
		for row, value := range col.Float() {
			seriesList[row].StaticReal = append(seriesList[row].StaticReal, float32(value))
		}
	}
	return seriesList, cardinalities, nil
}

// Vocabulary maps each distinct value to an id, in sorted order of the values.
func Vocabulary(values []string) map[string]int {
	distinct := slices.Clone(values)
	slices.Sort(distinct)
	distinct = slices.Compact(distinct)
	vocabulary := make(map[string]int, len(distinct))
	for id, value := range distinct {
		vocabulary[value] = id
	}
	return vocabulary
}
