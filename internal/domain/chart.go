package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/water-chart-etl/internal/calendar"
)

// Value is one day's reading and its fraction of the chart's YMax.
type Value struct {
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
}

// Dataset is a run of consecutive valid days starting at StartDayIndex.
type Dataset struct {
	StartDayIndex int     `json:"start_day_index"`
	Values        []Value `json:"values"`
}

// End returns the slot one past the last value.
func (d Dataset) End() int {
	return d.StartDayIndex + len(d.Values)
}

// Series holds one calendar year of a chart.
type Series struct {
	Year     int       `json:"year"`
	Datasets []Dataset `json:"datasets"`
}

// Grid lays the datasets back out on the 366-slot day grid.
func (s Series) Grid() Grid {
	var g Grid
	for _, ds := range s.Datasets {
		for i, v := range ds.Values {
			if slot := ds.StartDayIndex + i; slot >= 0 && slot < calendar.DaysPerYear {
				g.Set(slot, v.Value)
			}
		}
	}
	return g
}

// Len returns the number of slots that carry a value.
func (s Series) Len() int {
	n := 0
	for _, ds := range s.Datasets {
		n += len(ds.Values)
	}
	return n
}

// Chart is the reconstructed chart of one place.
type Chart struct {
	PlaceURN string    `json:"place_urn"`
	YMax     float64   `json:"year_max"`
	Series   []Series  `json:"series"`
	LoadedAt time.Time `json:"loaded_at,omitzero"`
}

// SeriesFor returns the series for year.
func (c Chart) SeriesFor(year int) (Series, bool) {
	for _, s := range c.Series {
		if s.Year == year {
			return s, true
		}
	}
	return Series{}, false
}

// Grid is a year of daily slots, each either set to a value or empty.
type Grid struct {
	values [calendar.DaysPerYear]float64
	set    [calendar.DaysPerYear]bool
}

// Set stores v at slot, replacing any earlier value.
func (g *Grid) Set(slot int, v float64) {
	g.values[slot] = v
	g.set[slot] = true
}

// At returns the value at slot and whether the slot is set.
func (g *Grid) At(slot int) (float64, bool) {
	if slot < 0 || slot >= calendar.DaysPerYear {
		return 0, false
	}
	return g.values[slot], g.set[slot]
}

// Empty reports whether no slot is set.
func (g *Grid) Empty() bool {
	for _, ok := range g.set {
		if ok {
			return false
		}
	}
	return true
}

// NewSeries builds a series from the maximal runs of set slots in g.
// Percentages are left at zero; see Chart.ApplyPercentages.
func NewSeries(year int, g *Grid) Series {
	s := Series{Year: year}
	for slot := 0; slot < calendar.DaysPerYear; {
		if !g.set[slot] {
			slot++
			continue
		}
		ds := Dataset{StartDayIndex: slot}
		for ; slot < calendar.DaysPerYear && g.set[slot]; slot++ {
			ds.Values = append(ds.Values, Value{Value: g.values[slot]})
		}
		s.Datasets = append(s.Datasets, ds)
	}
	return s
}

// Validate checks the structural invariants of a finalized chart and returns
// every violation found.
func (c Chart) Validate() error {
	var errs []error
	if math.IsNaN(c.YMax) || math.IsInf(c.YMax, 0) {
		errs = append(errs, fmt.Errorf("year_max %v is not finite", c.YMax))
	}

	prevYear := math.MinInt
	for _, s := range c.Series {
		if s.Year <= prevYear {
			errs = append(errs, fmt.Errorf("series %d: years not strictly increasing", s.Year))
		}
		prevYear = s.Year
		errs = append(errs, c.validateSeries(s)...)
	}
	return errors.Join(errs...)
}

func (c Chart) validateSeries(s Series) []error {
	var errs []error
	if len(s.Datasets) == 0 {
		errs = append(errs, fmt.Errorf("series %d: no datasets", s.Year))
	}

	prevEnd := 0
	for i, ds := range s.Datasets {
		switch {
		case len(ds.Values) == 0:
			errs = append(errs, fmt.Errorf("series %d dataset %d: empty", s.Year, i))
		case ds.StartDayIndex < 0 || ds.End() > calendar.DaysPerYear:
			errs = append(errs, fmt.Errorf("series %d dataset %d: slots [%d,%d) outside the year", s.Year, i, ds.StartDayIndex, ds.End()))
		case ds.StartDayIndex < prevEnd:
			errs = append(errs, fmt.Errorf("series %d dataset %d: starts at %d before previous end %d", s.Year, i, ds.StartDayIndex, prevEnd))
		}
		prevEnd = max(prevEnd, ds.End())

		for j, v := range ds.Values {
			if math.IsNaN(v.Value) || math.IsInf(v.Value, 0) {
				errs = append(errs, fmt.Errorf("series %d slot %d: value %v is not finite", s.Year, ds.StartDayIndex+j, v.Value))
				continue
			}
			if v.Value > c.YMax {
				errs = append(errs, fmt.Errorf("series %d slot %d: value %v exceeds year_max %v", s.Year, ds.StartDayIndex+j, v.Value, c.YMax))
			}
			if want := Percentage(v.Value, c.YMax); v.Percentage != want {
				errs = append(errs, fmt.Errorf("series %d slot %d: percentage %v, want %v", s.Year, ds.StartDayIndex+j, v.Percentage, want))
			}
		}
	}

	if calendar.IsLeapYear(s.Year) {
		return errs
	}
	g := s.Grid()
	feb28, has28 := g.At(calendar.Feb28)
	feb29, has29 := g.At(calendar.Feb29)
	switch {
	case has28 && !has29:
		errs = append(errs, fmt.Errorf("series %d: 28 February set but 29 February missing", s.Year))
	case has29 && !has28:
		errs = append(errs, fmt.Errorf("series %d: 29 February set without 28 February", s.Year))
	case has28 && feb28 != feb29:
		errs = append(errs, fmt.Errorf("series %d: 29 February %v differs from 28 February %v", s.Year, feb29, feb28))
	}
	return errs
}
