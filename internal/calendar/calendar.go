// Package calendar maps Gregorian dates onto the fixed 366-slot day grid used
// by chart series.
//
// Every year is laid out on the same grid so that years can be stacked on a
// shared 1 Jan - 31 Dec axis: slot 0 is 1 January, slot 59 is always 29 February
// and slot 365 is 31 December. In a non-leap year slot 59 has no source day of
// its own; it carries a copy of 28 February (slot 58).
//
// All dates are civil dates in a proleptic Gregorian calendar at UTC midnight,
// so differences between dates are plain integer day counts.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Grid positions with special meaning.
const (
	DaysPerYear = 366

	Feb28 = 58
	Feb29 = 59
	Mar1  = 60
)

var (
	// ErrDayIndexRange is returned for a slot outside 0..DaysPerYear-1.
	ErrDayIndexRange = errors.New("day index out of range")

	// ErrNotLeapYear is returned by ParseDate for 29 February of a year that
	// has none. The slot exists on the grid but carries 28 February's value.
	ErrNotLeapYear = errors.New("29 February in a non-leap year")
)

// dateLayouts are tried in order by ParseDate.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05Z0700",
}

// IsLeapYear applies the Gregorian rule: divisible by 4, except centuries
// that are not divisible by 400.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DayIndex returns the grid slot of the date. From 1 March onwards a non-leap
// year is shifted by one so that slot 59 stays reserved for 29 February.
func DayIndex(t time.Time) int {
	idx := t.YearDay() - 1
	if idx >= Feb29 && !IsLeapYear(t.Year()) {
		idx++
	}
	return idx
}

// Date is the inverse of DayIndex. In a non-leap year slot 59 resolves to
// 28 February, the day whose value the slot duplicates.
func Date(year, index int) (time.Time, error) {
	if index < 0 || index >= DaysPerYear {
		return time.Time{}, fmt.Errorf("%w: %d", ErrDayIndexRange, index)
	}
	day := index
	if !IsLeapYear(year) && index >= Feb29 {
		day--
	}
	return time.Date(year, time.January, 1+day, 0, 0, 0, 0, time.UTC), nil
}

// IsSynthetic reports whether the slot has no source day of its own, which is
// only the case for 29 February in a non-leap year.
func IsSynthetic(year, index int) bool {
	return index == Feb29 && !IsLeapYear(year)
}

// ParseDate reads an ISO-8601 calendar date or extended date-time and returns
// the civil day as written in the source, at UTC midnight. The source offset is not
// applied: "2011-01-01T00:00:00+10:00" is 1 January. A well-formed 29 February of
// a non-leap year fails with ErrNotLeapYear.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	var errs []error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return Midnight(t), nil
		}
		errs = append(errs, err)
	}
	if isNonLeapFeb29(s) {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, ErrNotLeapYear)
	}
	// Report the layout the input was written in: date-only or date-time.
	err := errs[0]
	if strings.ContainsRune(s, 'T') {
		err = errs[1]
	}
	return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
}

// isNonLeapFeb29 reports whether s would be a valid date if its 29 February
// were 28 February, in a year that is not a leap year.
func isNonLeapFeb29(s string) bool {
	if len(s) < len("2006-01-02") || s[4:10] != "-02-29" {
		return false
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil || IsLeapYear(year) {
		return false
	}
	feb28 := s[:8] + "28" + s[10:]
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, feb28); err == nil {
			return true
		}
	}
	return false
}

// Midnight drops the clock time and location, keeping the civil date.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns b - a in whole civil days.
func DaysBetween(a, b time.Time) int {
	const day = 24 * time.Hour
	return int(Midnight(b).Sub(Midnight(a)) / day)
}
