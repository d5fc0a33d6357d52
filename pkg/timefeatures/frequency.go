// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package timefeatures

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Unit of a Frequency.
type Unit int

const (
	Second Unit = iota
	Minute
	Hour
	Day
	BusinessDay
	Week
	Month
	Quarter
	Year
)

var unitNames = map[Unit]string{
	Second:      "S",
	Minute:      "min",
	Hour:        "H",
	Day:         "D",
	BusinessDay: "B",
	Week:        "W",
	Month:       "M",
	Quarter:     "Q",
	Year:        "A",
}

// unitAliases maps the accepted (case-sensitive) spellings of each unit, following the pandas offset aliases.
var unitAliases = map[string]Unit{
	"S": Second, "s": Second,
	"T": Minute, "min": Minute,
	"H": Hour, "h": Hour,
	"D": Day, "d": Day,
	"B": BusinessDay,
	"W": Week,
	"M": Month, "MS": Month, "ME": Month,
	"Q": Quarter, "QS": Quarter, "QE": Quarter,
	"A": Year, "Y": Year, "AS": Year, "YS": Year, "YE": Year,
}

// String returns the canonical name of the unit.
func (u Unit) String() string {
	if name, found := unitNames[u]; found {
		return name
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

// Frequency of a time series, e.g. "D" (daily) or "15min".
type Frequency struct {
	Multiple int
	Unit     Unit
}

// ParseFrequency parses a pandas-like frequency string: an optional positive multiple followed by a unit alias,
// optionally with an anchor suffix (e.g.: "W-SUN", "Q-DEC") which is ignored.
func ParseFrequency(freq string) (Frequency, error) {
	s := strings.TrimSpace(freq)
	if idx := strings.Index(s, "-"); idx > 0 {
		s = s[:idx]
	}
	numEnd := 0
	for numEnd < len(s) && s[numEnd] >= '0' && s[numEnd] <= '9' {
		numEnd++
	}
	multiple := 1
	if numEnd > 0 {
		var err error
		multiple, err = strconv.Atoi(s[:numEnd])
		if err != nil || multiple <= 0 {
			return Frequency{}, errors.Errorf("invalid frequency %q: multiple must be a positive integer", freq)
		}
	}
	unit, found := unitAliases[s[numEnd:]]
	if !found {
		return Frequency{}, errors.Errorf("invalid frequency %q: unknown unit %q", freq, s[numEnd:])
	}
	return Frequency{Multiple: multiple, Unit: unit}, nil
}

// MustParseFrequency is like ParseFrequency, but panics on error.
func MustParseFrequency(freq string) Frequency {
	f, err := ParseFrequency(freq)
	if err != nil {
		panic(err)
	}
	return f
}

// String implements fmt.Stringer.
func (f Frequency) String() string {
	if f.Multiple == 1 {
		return f.Unit.String()
	}
	return fmt.Sprintf("%d%s", f.Multiple, f.Unit)
}

// Add advances t by the given number of periods (which can be negative).
func (f Frequency) Add(t time.Time, periods int) time.Time {
	n := periods * f.Multiple
	switch f.Unit {
	case Second:
		return t.Add(time.Duration(n) * time.Second)
	case Minute:
		return t.Add(time.Duration(n) * time.Minute)
	case Hour:
		return t.Add(time.Duration(n) * time.Hour)
	case Day:
		return t.AddDate(0, 0, n)
	case BusinessDay:
		return addBusinessDays(t, n)
	case Week:
		return t.AddDate(0, 0, 7*n)
	case Month:
		return t.AddDate(0, n, 0)
	case Quarter:
		return t.AddDate(0, 3*n, 0)
	case Year:
		return t.AddDate(n, 0, 0)
	}
	panic(errors.Errorf("unknown frequency unit %s", f.Unit))
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

func addBusinessDays(t time.Time, n int) time.Time {
	step := 1
	if n < 0 {
		step, n = -1, -n
	}
	for n > 0 {
		t = t.AddDate(0, 0, step)
		if !isWeekend(t) {
			n--
		}
	}
	return t
}
