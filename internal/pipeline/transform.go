package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/water-chart-etl/internal/chartparser"
	"github.com/couchcryptid/water-chart-etl/internal/domain"
	"github.com/couchcryptid/water-chart-etl/internal/observability"
	"github.com/couchcryptid/water-chart-etl/internal/xmlstream"
)

// ChartSource opens the chart XML document of a place.
type ChartSource interface {
	Open(ctx context.Context, place domain.Place) (io.ReadCloser, error)
}

// ChartTransformer implements Transformer by streaming a place's chart
// document from a ChartSource through a chart parser.
type ChartTransformer struct {
	source    ChartSource
	chunkSize int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewTransformer creates a ChartTransformer that feeds the parser chunkSize
// bytes at a time.
func NewTransformer(source ChartSource, chunkSize int, metrics *observability.Metrics, logger *slog.Logger) *ChartTransformer {
	if chunkSize <= 0 {
		chunkSize = chartparser.DefaultChunkSize
	}
	return &ChartTransformer{
		source:    source,
		chunkSize: chunkSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// Transform fetches and parses the chart of req's place. The chart is stamped
// with the load time.
func (t *ChartTransformer) Transform(ctx context.Context, req domain.LoadRequest) (domain.Chart, error) {
	body, err := t.source.Open(ctx, req.Place)
	if err != nil {
		return domain.Chart{}, fmt.Errorf("open chart: %w", err)
	}
	defer body.Close()

	start := time.Now()
	chart, stats, err := t.parse(ctx, req.Place, body)
	t.metrics.ParseDuration.Observe(time.Since(start).Seconds())
	t.record(stats, err)
	if err != nil {
		return domain.Chart{}, fmt.Errorf("parse chart %s: %w", req.Place, err)
	}

	chart.LoadedAt = domain.Now()
	t.logger.Debug("chart parsed",
		"place_urn", req.Place.URN,
		"series", len(chart.Series),
		"values", stats.ValuesAccepted,
		"invalid", stats.ValuesInvalid,
		"bytes", stats.BytesFed,
	)
	return chart, nil
}

// parse runs one parse session over body. Cancelling ctx stops the parser
// cooperatively: the next chunk is refused and the open dataset is dropped.
func (t *ChartTransformer) parse(ctx context.Context, place domain.Place, body io.Reader) (domain.Chart, chartparser.Stats, error) {
	parser := chartparser.New(place, chartparser.WithLogger(t.logger.With("place_urn", place.URN)))
	release := context.AfterFunc(ctx, parser.Stop)
	defer release()

	buf := make([]byte, t.chunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if err := parser.Feed(buf[:n]); err != nil {
				return domain.Chart{}, parser.Stats(), stopCause(ctx, err)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			parser.Stop()
			_, _ = parser.End()
			if ctx.Err() != nil {
				return domain.Chart{}, parser.Stats(), stopCause(ctx, xmlstream.ErrStopped)
			}
			return domain.Chart{}, parser.Stats(), fmt.Errorf("read chart body: %w", rerr)
		}
	}

	chart, err := parser.End()
	if err != nil {
		return domain.Chart{}, parser.Stats(), stopCause(ctx, err)
	}
	return chart, parser.Stats(), nil
}

// stopCause attaches the context error to a stopped session.
func stopCause(ctx context.Context, err error) error {
	if errors.Is(err, xmlstream.ErrStopped) && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", err, ctx.Err())
	}
	return err
}

func (t *ChartTransformer) record(stats chartparser.Stats, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, xmlstream.ErrStopped):
		outcome = "stopped"
	case chartparser.IsFatal(err):
		outcome = "fatal"
	default:
		outcome = "error"
	}
	t.metrics.ParseOutcomes.WithLabelValues(outcome).Inc()
	t.metrics.BytesParsed.Add(float64(stats.BytesFed))
	t.metrics.ParsedValues.WithLabelValues("accepted").Add(float64(stats.ValuesAccepted))
	t.metrics.ParsedValues.WithLabelValues("invalid").Add(float64(stats.ValuesInvalid))
	t.metrics.ParsedValues.WithLabelValues("unparsable_date").Add(float64(stats.DatesUnparsable))
	t.metrics.ParsedValues.WithLabelValues("non_leap_feb29").Add(float64(stats.NonLeapFeb29Ignored))
	t.metrics.ParsedRuns.WithLabelValues("committed").Add(float64(stats.RunsCommitted))
	t.metrics.ParsedRuns.WithLabelValues("abandoned").Add(float64(stats.RunsAbandoned))
}
