// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package timefeatures

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrequency(t *testing.T) {
	for _, tc := range []struct {
		s    string
		want Frequency
	}{
		{"D", Frequency{1, Day}},
		{"15min", Frequency{15, Minute}},
		{"15T", Frequency{15, Minute}},
		{"2H", Frequency{2, Hour}},
		{"W-SUN", Frequency{1, Week}},
		{"ME", Frequency{1, Month}},
		{"Q-DEC", Frequency{1, Quarter}},
		{"B", Frequency{1, BusinessDay}},
		{"Y", Frequency{1, Year}},
	} {
		got, err := ParseFrequency(tc.s)
		require.NoErrorf(t, err, "parsing %q", tc.s)
		assert.Equalf(t, tc.want, got, "parsing %q", tc.s)
	}
	for _, s := range []string{"", "X", "0D", "3 weeks"} {
		_, err := ParseFrequency(s)
		assert.Errorf(t, err, "parsing %q should fail", s)
	}
	assert.Equal(t, "15min", MustParseFrequency("15T").String())
}

func TestFrequencyAdd(t *testing.T) {
	friday := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), MustParseFrequency("B").Add(friday, 1))
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), MustParseFrequency("B").Add(friday, -1))
	assert.Equal(t, time.Date(2024, 3, 1, 1, 30, 0, 0, time.UTC), MustParseFrequency("15min").Add(friday, 6))
	assert.Equal(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), MustParseFrequency("Q").Add(friday, 2))
}

func TestFeatures(t *testing.T) {
	// Monday, 1st of January.
	monday := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, float32(-0.5), DayOfWeek.Fn(monday))
	assert.Equal(t, float32(0.5), DayOfWeek.Fn(monday.AddDate(0, 0, 6)))
	assert.Equal(t, float32(-0.5), DayOfMonth.Fn(monday))
	assert.Equal(t, float32(-0.5), DayOfYear.Fn(monday))
	assert.Equal(t, float32(-0.5), MonthOfYear.Fn(monday))
	assert.Equal(t, float32(0.5), HourOfDay.Fn(monday))
	assert.Equal(t, float32(0.5), MinuteOfHour.Fn(monday))
	assert.Equal(t, float32(-0.5), WeekOfYear.Fn(monday))

	features := ForFrequency(MustParseFrequency("D"))
	require.Len(t, features, 3)
	values := Compute(features, monday, MustParseFrequency("D"), 8)
	require.Len(t, values, 8)
	for _, row := range values {
		for _, v := range row {
			assert.True(t, v >= -0.5 && v <= 0.5)
		}
	}
	assert.Equal(t, values[0][0], values[7][0])
	assert.Empty(t, ForFrequency(MustParseFrequency("A")))
	assert.Len(t, ForFrequency(MustParseFrequency("S")), 6)
}

func TestAge(t *testing.T) {
	age := Age(3)
	assert.InDelta(t, math.Log10(2), age[0], 1e-6)
	assert.InDelta(t, math.Log10(4), age[2], 1e-6)
}
