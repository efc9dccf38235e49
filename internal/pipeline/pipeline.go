package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/water-chart-etl/internal/chartparser"
	"github.com/couchcryptid/water-chart-etl/internal/domain"
	"github.com/couchcryptid/water-chart-etl/internal/observability"
)

// BatchExtractor reads up to batchSize load requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.LoadRequest, error)
}

// Transformer loads the chart a request asks for.
type Transformer interface {
	Transform(ctx context.Context, req domain.LoadRequest) (domain.Chart, error)
}

// BatchLoader writes multiple charts to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, charts []domain.Chart) error
}

// Pipeline orchestrates the extract-transform-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	recent      *RecentLoads
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int

	// pending holds the uncommitted tail of the last batch. It is retried
	// before anything new is extracted.
	pending []domain.LoadRequest
}

// New creates a Pipeline with the given stages and observability. A nil
// recent tracker disables recency skipping.
func New(e BatchExtractor, t Transformer, l BatchLoader, recent *RecentLoads, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	if recent == nil {
		recent = NewRecentLoads(0, 0)
	}
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		recent:      recent,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil if the pipeline has finished at least one request,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not finished any load requests yet")
	}
	return nil
}

// Ready reports whether CheckReadiness would succeed.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// Run executes the batch ETL loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-transform-load cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	batch := p.pending
	p.pending = nil
	if len(batch) == 0 {
		extracted, err := p.extractor.ExtractBatch(ctx, p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			p.logger.Error("extract batch failed", "error", err)
			return p.backoffOrStop(ctx, backoff, maxBackoff)
		}

		if len(extracted) == 0 {
			return ctx.Err() == nil
		}

		p.metrics.MessagesConsumed.Add(float64(len(extracted)))
		p.metrics.BatchSize.Observe(float64(len(extracted)))
		batch = extracted
	} else {
		p.logger.Info("retrying load requests", "count", len(batch))
	}

	finished, ok := p.transformAndLoad(ctx, batch)
	if !ok {
		return false
	}

	if finished > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	if finished < len(batch) {
		p.pending = batch[finished:]
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}
	*backoff = 200 * time.Millisecond
	return true
}

// transformAndLoad loads the chart of every distinct place in the batch,
// writes the charts, and commits the requests that are done, in batch order.
// A transient failure ends the batch early; the requests from the first
// unfinished one onwards stay uncommitted. Returns the number of committed
// requests and false if the pipeline should stop.
func (p *Pipeline) transformAndLoad(ctx context.Context, batch []domain.LoadRequest) (int, bool) {
	done := make([]bool, len(batch))
	for i, req := range batch {
		if req.Invalid != nil {
			p.logger.Warn("invalid load request, skipping", "error", req.Invalid,
				"topic", req.Topic, "partition", req.Partition, "offset", req.Offset)
			p.metrics.RequestsSkipped.WithLabelValues("invalid").Inc()
			done[i] = true
		}
	}

	groups := coalesce(batch)
	if dupes := countValid(batch) - len(groups); dupes > 0 {
		p.metrics.RequestsSkipped.WithLabelValues("duplicate").Add(float64(dupes))
	}

	charts := make([]domain.Chart, 0, len(groups))
	for _, g := range groups {
		if ctx.Err() != nil {
			return 0, false
		}

		if !g.req.Force && p.isRecent(g.req.Place) {
			p.logger.Debug("place loaded recently, skipping", "place_urn", g.req.Place.URN)
			p.metrics.RequestsSkipped.WithLabelValues("recent").Inc()
			markDone(done, g)
			continue
		}

		chart, err := p.transformer.Transform(ctx, g.req)
		if err == nil {
			p.finish(g.req, chart, nil)
			charts = append(charts, chart)
			markDone(done, g)
			continue
		}

		if ctx.Err() != nil {
			p.logger.Info("chart load interrupted", "place_urn", g.req.Place.URN, "error", err)
			return 0, false
		}
		p.finish(g.req, chart, err)
		if errors.Is(err, domain.ErrPlaceGone) || chartparser.IsFatal(err) {
			markDone(done, g)
			continue
		}
		break
	}

	if len(charts) > 0 {
		if err := p.loader.LoadBatch(ctx, charts); err != nil {
			if ctx.Err() != nil {
				return 0, false
			}
			p.logger.Error("load batch failed", "error", err, "batch_size", len(charts))
			return 0, true
		}
		p.metrics.MessagesProduced.Add(float64(len(charts)))
		for _, chart := range charts {
			p.recent.Record(domain.Place{URN: chart.PlaceURN}, chart.LoadedAt)
		}
	}

	finished := 0
	for i, req := range batch {
		if !done[i] {
			break
		}
		p.commitOffset(ctx, req)
		finished++
	}
	return finished, true
}

// finish reports the end of a chart load.
func (p *Pipeline) finish(req domain.LoadRequest, chart domain.Chart, err error) {
	switch {
	case err == nil:
		p.logger.Info("chart loaded",
			"place_urn", req.Place.URN,
			"force", req.Force,
			"series", len(chart.Series),
			"year_max", chart.YMax,
		)
	case errors.Is(err, domain.ErrPlaceGone):
		p.logger.Info("place has no chart, skipping", "place_urn", req.Place.URN, "error", err)
		p.metrics.RequestsSkipped.WithLabelValues("gone").Inc()
	case chartparser.IsFatal(err):
		p.logger.Warn("chart document rejected, skipping",
			"place_urn", req.Place.URN,
			"error", err,
			"topic", req.Topic,
			"partition", req.Partition,
			"offset", req.Offset,
		)
		p.metrics.TransformErrors.Inc()
	default:
		p.logger.Error("chart load failed, will retry", "place_urn", req.Place.URN, "error", err)
		p.metrics.TransformErrors.Inc()
	}
}

func (p *Pipeline) isRecent(place domain.Place) bool {
	if _, ok := p.recent.LoadedAt(place); !ok {
		p.metrics.RecentCache.WithLabelValues("miss").Inc()
		return false
	}
	p.metrics.RecentCache.WithLabelValues("hit").Inc()
	return p.recent.IsRecent(place)
}

func countValid(batch []domain.LoadRequest) int {
	n := 0
	for _, req := range batch {
		if req.Invalid == nil {
			n++
		}
	}
	return n
}

func markDone(done []bool, g group) {
	for _, i := range g.members {
		done[i] = true
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, req domain.LoadRequest) {
	if req.Commit == nil {
		return
	}
	if err := req.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", req.Topic, "partition", req.Partition, "offset", req.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
