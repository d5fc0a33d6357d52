// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package timefeatures derives calendar features from timestamps, according to the frequency of a series.
//
// All features are scaled to [-0.5, 0.5].
package timefeatures

import (
	"math"
	"time"
)

// Feature computes one calendar feature of a timestamp.
type Feature struct {
	Name string
	Fn   func(t time.Time) float32
}

var (
	SecondOfMinute = Feature{"second_of_minute", func(t time.Time) float32 { return float32(t.Second())/59 - 0.5 }}
	MinuteOfHour   = Feature{"minute_of_hour", func(t time.Time) float32 { return float32(t.Minute())/59 - 0.5 }}
	HourOfDay      = Feature{"hour_of_day", func(t time.Time) float32 { return float32(t.Hour())/23 - 0.5 }}

	// DayOfWeek with Monday=0 and Sunday=6.
	DayOfWeek = Feature{"day_of_week", func(t time.Time) float32 {
		return float32((int(t.Weekday())+6)%7)/6 - 0.5
	}}
	DayOfMonth  = Feature{"day_of_month", func(t time.Time) float32 { return float32(t.Day()-1)/30 - 0.5 }}
	DayOfYear   = Feature{"day_of_year", func(t time.Time) float32 { return float32(t.YearDay()-1)/365 - 0.5 }}
	MonthOfYear = Feature{"month_of_year", func(t time.Time) float32 { return float32(t.Month()-1)/11 - 0.5 }}

	// WeekOfYear uses the ISO 8601 week number.
	WeekOfYear = Feature{"week_of_year", func(t time.Time) float32 {
		_, week := t.ISOWeek()
		return float32(week-1)/52 - 0.5
	}}
)

// ForFrequency returns the features that make sense for a series of the given frequency: the ones that vary
// within a few periods, excluding those finer than the frequency.
func ForFrequency(freq Frequency) []Feature {
	switch freq.Unit {
	case Year:
		return nil
	case Quarter, Month:
		return []Feature{MonthOfYear}
	case Week:
		return []Feature{DayOfMonth, WeekOfYear}
	case Day, BusinessDay:
		return []Feature{DayOfWeek, DayOfMonth, DayOfYear}
	case Hour:
		return []Feature{HourOfDay, DayOfWeek, DayOfMonth, DayOfYear}
	case Minute:
		return []Feature{MinuteOfHour, HourOfDay, DayOfWeek, DayOfMonth, DayOfYear}
	case Second:
		return []Feature{SecondOfMinute, MinuteOfHour, HourOfDay, DayOfWeek, DayOfMonth, DayOfYear}
	}
	return nil
}

// Compute the features for n consecutive periods starting at start. It returns [n][len(features)] values.
func Compute(features []Feature, start time.Time, freq Frequency, n int) [][]float32 {
	values := make([][]float32, n)
	for ii := range n {
		t := freq.Add(start, ii)
		row := make([]float32, len(features))
		for jj, f := range features {
			row[jj] = f.Fn(t)
		}
		values[ii] = row
	}
	return values
}

// Age returns the age feature for n consecutive periods: log10(2 + i).
func Age(n int) []float32 {
	age := make([]float32, n)
	for ii := range age {
		age[ii] = float32(math.Log10(2 + float64(ii)))
	}
	return age
}
