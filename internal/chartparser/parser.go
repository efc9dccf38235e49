// Package chartparser reconstructs a daily chart from a streamed chart XML
// document.
//
// Values are collected into runs of consecutive days. A run ends when a value
// is invalid, when the next date is not the following day, when the year
// changes, or when its dataset or series element closes. Closed runs are
// written onto a 366-slot grid per year, later values replacing earlier ones
// for the same day, and the chart's datasets are the maximal runs of that
// grid.
package chartparser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/water-chart-etl/internal/calendar"
	"github.com/couchcryptid/water-chart-etl/internal/domain"
	"github.com/couchcryptid/water-chart-etl/internal/xmlstream"
)

// DefaultChunkSize is the read size used by Parse.
const DefaultChunkSize = 16 * 1024

// Element names of the chart vocabulary.
const (
	elemChart    = "chart"
	elemPlace    = "place"
	elemSeries   = "series"
	elemInterval = "interval"
	elemDataset  = "dataset"
	elemValue    = "value"
	elemDate     = "date"
	elemNumber   = "number"
	elemQuality  = "quality"
)

// Option configures a Parser.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	onError xmlstream.ErrorHandler
	engine  []xmlstream.Option
}

// WithLogger sets the logger for the parser and its XML engine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithErrorHandler receives local data problems such as unparsable dates. By
// default they are logged. Returning an error aborts the parse with it.
func WithErrorHandler(fn xmlstream.ErrorHandler) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithEngineOptions passes options through to the XML engine.
func WithEngineOptions(opts ...xmlstream.Option) Option {
	return func(o *options) {
		o.engine = append(o.engine, opts...)
	}
}

// run is the open dataset: consecutive slots of one year starting at start.
type run struct {
	open   bool
	year   int
	start  int
	values []float64
}

func (r *run) next() int {
	return r.start + len(r.values)
}

// Parser turns one chart XML document into a domain.Chart. It is fed like
// xmlstream.Parser and, like it, is not safe for concurrent use except for
// Stop.
type Parser struct {
	engine *xmlstream.Parser
	logger *slog.Logger
	place  domain.Place

	docPlace string
	grids    map[int]*domain.Grid
	bounds   domain.Bounds
	run      run
	skipping bool
	stats    Stats
}

// New creates a parser for the chart of place. An empty place accepts the
// place named by the document.
func New(place domain.Place, opts ...Option) *Parser {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	engineOpts := []xmlstream.Option{xmlstream.WithLogger(o.logger)}
	if o.onError != nil {
		engineOpts = append(engineOpts, xmlstream.WithErrorHandler(o.onError))
	}
	engineOpts = append(engineOpts, o.engine...)

	p := &Parser{
		engine: xmlstream.New(engineOpts...),
		logger: o.logger,
		place:  place,
		grids:  make(map[int]*domain.Grid),
	}
	p.engine.OnComplete(elemPlace, p.completePlace)
	p.engine.OnStart(elemSeries, p.startSeries)
	p.engine.OnComplete(elemInterval, p.completeInterval)
	p.engine.OnComplete(elemDataset, p.completeDataset)
	p.engine.OnComplete(elemValue, p.completeValue)
	p.engine.OnComplete(elemSeries, p.completeSeries)
	return p
}

// Feed pushes the next chunk of the document.
func (p *Parser) Feed(chunk []byte) error {
	p.stats.BytesFed += int64(len(chunk))
	if err := p.engine.Feed(chunk); err != nil {
		p.abandon()
		return err
	}
	return nil
}

// End finishes the document and returns the chart. On error no chart is
// returned.
func (p *Parser) End() (domain.Chart, error) {
	if err := p.engine.End(); err != nil {
		p.abandon()
		return domain.Chart{}, err
	}
	p.closeRun()
	return p.chart(), nil
}

// Stop asks the parser to halt; see xmlstream.Parser.Stop. The open dataset
// is abandoned rather than committed.
func (p *Parser) Stop() {
	p.engine.Stop()
}

// Stats returns the counters of the session so far.
func (p *Parser) Stats() Stats {
	return p.stats
}

// Parse reads r to the end and returns the chart of place.
func Parse(r io.Reader, place domain.Place, opts ...Option) (domain.Chart, Stats, error) {
	p := New(place, opts...)
	buf := make([]byte, DefaultChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := p.Feed(buf[:n]); ferr != nil {
				return domain.Chart{}, p.Stats(), ferr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.abandon()
			return domain.Chart{}, p.Stats(), fmt.Errorf("read chart: %w", err)
		}
	}
	chart, err := p.End()
	return chart, p.Stats(), err
}

func (p *Parser) completePlace(node, _ *xmlstream.Node) error {
	if p.engine.Parent() != elemChart {
		return nil
	}
	p.docPlace = node.Text()
	if p.place.URN != "" && p.docPlace != p.place.URN {
		return p.engine.ReportError(fmt.Sprintf("document place %q does not match requested place %q", p.docPlace, p.place.URN))
	}
	return nil
}

func (p *Parser) startSeries(string) error {
	p.closeRun()
	p.skipping = false
	return nil
}

func (p *Parser) completeInterval(node, _ *xmlstream.Node) error {
	if p.engine.Parent() != elemSeries {
		return nil
	}
	if !isDaily(node.Text()) {
		return &UnsupportedIntervalError{Interval: node.Text()}
	}
	return nil
}

func (p *Parser) completeDataset(_, _ *xmlstream.Node) error {
	p.closeRun()
	return nil
}

func (p *Parser) completeSeries(_, _ *xmlstream.Node) error {
	p.closeRun()
	p.skipping = false
	return nil
}

func (p *Parser) completeValue(node, _ *xmlstream.Node) error {
	if !p.engine.Within(elemSeries) || p.skipping {
		return nil
	}

	dateText := node.ChildText(elemDate)
	date, err := calendar.ParseDate(dateText)
	if errors.Is(err, calendar.ErrNotLeapYear) {
		// Slot 59 takes 28 February's value; the run carries on to 1 March.
		p.logger.Debug("ignoring 29 February in non-leap year", "date", dateText)
		p.stats.NonLeapFeb29Ignored++
		return nil
	}
	if err != nil {
		p.closeRun()
		p.skipping = true
		p.stats.DatesUnparsable++
		p.stats.SeriesSkipped++
		return p.engine.ReportError((&UnparsableDateError{Date: dateText, Err: err}).Error())
	}

	v, err := readValue(node)
	if err != nil {
		p.logger.Debug("skipping invalid value", "date", dateText, "error", err)
		p.closeRun()
		p.stats.ValuesInvalid++
		return nil
	}

	p.accept(calendar.DayIndex(date), date.Year(), v)
	return nil
}

// accept appends v to the open run, first closing the run when v does not
// continue it.
func (p *Parser) accept(slot, year int, v float64) {
	if p.run.open && (p.run.year != year || p.run.next() != slot) {
		p.closeRun()
	}
	if !p.run.open {
		p.run = run{open: true, year: year, start: slot, values: p.run.values[:0]}
	}
	p.run.values = append(p.run.values, v)
	if slot == calendar.Feb28 && !calendar.IsLeapYear(year) {
		p.run.values = append(p.run.values, v)
	}
	p.stats.ValuesAccepted++
}

// closeRun commits the open run onto its year's grid.
func (p *Parser) closeRun() {
	if !p.run.open {
		return
	}
	grid, ok := p.grids[p.run.year]
	if !ok {
		grid = &domain.Grid{}
		p.grids[p.run.year] = grid
	}
	for i, v := range p.run.values {
		grid.Set(p.run.start+i, v)
		p.bounds.Observe(v)
	}
	p.stats.RunsCommitted++
	p.run.open = false
	p.run.values = p.run.values[:0]
}

func (p *Parser) abandon() {
	if p.run.open {
		p.stats.RunsAbandoned++
	}
	p.run = run{}
}

func (p *Parser) chart() domain.Chart {
	years := make([]int, 0, len(p.grids))
	for year, grid := range p.grids {
		if !grid.Empty() {
			years = append(years, year)
		}
	}
	sort.Ints(years)

	urn := p.place.URN
	if urn == "" {
		urn = p.docPlace
	}
	c := domain.Chart{PlaceURN: urn, YMax: p.bounds.Max()}
	for _, year := range years {
		c.Series = append(c.Series, domain.NewSeries(year, p.grids[year]))
	}
	c.ApplyPercentages()
	return c
}

// isDaily reports whether an interval declaration means one day.
func isDaily(interval string) bool {
	switch strings.ToUpper(strings.TrimSpace(interval)) {
	case "P1D", "1":
		return true
	}
	return false
}

func readValue(node *xmlstream.Node) (float64, error) {
	switch q := strings.ToLower(node.ChildText(elemQuality)); q {
	case "bad", "missing", "invalid":
		return 0, fmt.Errorf("%w: quality %s", ErrInvalidValue, q)
	}
	text := strings.TrimSpace(node.ChildText(elemNumber))
	if text == "" {
		return 0, fmt.Errorf("%w: missing number", ErrInvalidValue)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrInvalidValue, text)
	}
	return v, nil
}
