package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/water-chart-etl/internal/chartparser"
	"github.com/couchcryptid/water-chart-etl/internal/domain"
	"github.com/couchcryptid/water-chart-etl/internal/observability"
	"github.com/couchcryptid/water-chart-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.LoadRequest
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.LoadRequest, error) {
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockTransformer struct {
	mu    sync.Mutex
	errs  map[string]error
	flaky map[string]int // remaining transient failures per place
	calls []string
}

func (m *mockTransformer) Transform(ctx context.Context, req domain.LoadRequest) (domain.Chart, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req.Place.URN)
	failing := m.flaky[req.Place.URN] > 0
	if failing {
		m.flaky[req.Place.URN]--
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Chart{}, err
	}
	if failing {
		return domain.Chart{}, errors.New("connection reset")
	}
	if err := m.errs[req.Place.URN]; err != nil {
		return domain.Chart{}, err
	}
	return domain.Chart{
		PlaceURN: req.Place.URN,
		YMax:     1,
		Series: []domain.Series{{
			Year:     2011,
			Datasets: []domain.Dataset{{StartDayIndex: 0, Values: []domain.Value{{Value: 1, Percentage: 1}}}},
		}},
		LoadedAt: domain.Now(),
	}, nil
}

func (m *mockTransformer) called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockLoader struct {
	mu     sync.Mutex
	err    error
	loaded []domain.Chart
}

func (m *mockLoader) LoadBatch(_ context.Context, charts []domain.Chart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, charts...)
	return nil
}

func (m *mockLoader) urns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.loaded))
	for _, c := range m.loaded {
		out = append(out, c.PlaceURN)
	}
	return out
}

// commitLog records commit order across requests.
type commitLog struct {
	mu      sync.Mutex
	offsets []int64
}

func (c *commitLog) request(urn string, offset int64) domain.LoadRequest {
	return domain.LoadRequest{
		Place:  domain.Place{URN: urn},
		Topic:  "chart-load-requests",
		Offset: offset,
		Commit: func(context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.offsets = append(c.offsets, offset)
			return nil
		},
	}
}

func (c *commitLog) committed() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.offsets...)
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func run(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	log := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.LoadRequest{{
		log.request("urn:a", 1),
		log.request("urn:b", 2),
	}}}
	tfm := &mockTransformer{}
	ldr := &mockLoader{}

	p := pipeline.New(ext, tfm, ldr, nil, slog.Default(), newTestMetrics(), 10)
	run(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"urn:a", "urn:b"}, ldr.urns())
	assert.Equal(t, []int64{1, 2}, log.committed())
	assert.True(t, p.Ready())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{} // no batches, will block
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, nil, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.False(t, p.Ready())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_CoalescesDuplicates(t *testing.T) {
	log := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.LoadRequest{{
		log.request("urn:a", 1),
		log.request("urn:b", 2),
		log.request("urn:a", 3),
	}}}
	tfm := &mockTransformer{}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, nil, slog.Default(), metrics, 10)
	run(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"urn:a", "urn:b"}, tfm.called())
	assert.Equal(t, []string{"urn:a", "urn:b"}, ldr.urns())
	assert.Equal(t, []int64{1, 2, 3}, log.committed())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RequestsSkipped.WithLabelValues("duplicate")), 0)
}

func TestPipeline_Run_SkipsRecentlyLoadedPlace(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 0, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() { domain.SetClock(nil) })

	recent := pipeline.NewRecentLoads(10, time.Hour)
	recent.Record(domain.Place{URN: "urn:a"}, fakeClock.Now().Add(-10*time.Minute))

	log := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.LoadRequest{{
		log.request("urn:a", 1),
		log.request("urn:b", 2),
	}}}
	tfm := &mockTransformer{}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, recent, slog.Default(), metrics, 10)
	run(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"urn:b"}, tfm.called())
	assert.Equal(t, []int64{1, 2}, log.committed())
	assert.True(t, recent.IsRecent(domain.Place{URN: "urn:b"}))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RequestsSkipped.WithLabelValues("recent")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RecentCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RecentCache.WithLabelValues("miss")), 0)
}

func TestPipeline_Run_ForceBypassesRecency(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 0, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() { domain.SetClock(nil) })

	recent := pipeline.NewRecentLoads(10, time.Hour)
	recent.Record(domain.Place{URN: "urn:a"}, fakeClock.Now())

	log := &commitLog{}
	forced := log.request("urn:a", 2)
	forced.Force = true
	ext := &mockExtractor{batches: [][]domain.LoadRequest{{log.request("urn:a", 1), forced}}}
	tfm := &mockTransformer{}

	p := pipeline.New(ext, tfm, &mockLoader{}, recent, slog.Default(), newTestMetrics(), 10)
	run(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"urn:a"}, tfm.called())
	assert.Equal(t, []int64{1, 2}, log.committed())
}

func TestPipeline_Run_GoneAndFatalAreCommitted(t *testing.T) {
	log := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.LoadRequest{{
		log.request("urn:gone", 1),
		log.request("urn:broken", 2),
		log.request("urn:ok", 3),
	}}}
	tfm := &mockTransformer{errs: map[string]error{
		"urn:gone":   fmt.Errorf("open chart: %w", domain.ErrPlaceGone),
		"urn:broken": fmt.Errorf("parse chart: %w", &chartparser.UnsupportedIntervalError{Interval: "P1M"}),
	}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, nil, slog.Default(), metrics, 10)
	run(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"urn:ok"}, ldr.urns())
	assert.Equal(t, []int64{1, 2, 3}, log.committed())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RequestsSkipped.WithLabelValues("gone")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TransformErrors), 0)
	assert.True(t, p.Ready())
}

func TestPipeline_Run_TransientErrorRetriesUncommittedTail(t *testing.T) {
	log := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.LoadRequest{{
		log.request("urn:a", 1),
		log.request("urn:flaky", 2),
		log.request("urn:c", 3),
	}}}
	tfm := &mockTransformer{flaky: map[string]int{"urn:flaky": 1}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, nil, slog.Default(), metrics, 10)
	run(t, p, 500*time.Millisecond)

	assert.Equal(t, []string{"urn:a", "urn:flaky", "urn:flaky", "urn:c"}, tfm.called())
	assert.Equal(t, []string{"urn:a", "urn:flaky", "urn:c"}, ldr.urns())
	assert.Equal(t, []int64{1, 2, 3}, log.committed())
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.MessagesConsumed), 0, "retries are not consumed again")
}

func TestPipeline_Run_PersistentErrorHoldsCommits(t *testing.T) {
	log := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.LoadRequest{
		{log.request("urn:a", 1), log.request("urn:down", 2)},
		{log.request("urn:b", 3)},
	}}
	tfm := &mockTransformer{errs: map[string]error{"urn:down": errors.New("service unavailable")}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, tfm, ldr, nil, slog.Default(), newTestMetrics(), 10)
	run(t, p, 300*time.Millisecond)

	assert.Equal(t, []int64{1}, log.committed())
	assert.NotContains(t, tfm.called(), "urn:b", "later batches wait for the failed request")
	assert.True(t, p.Ready())
}

func TestPipeline_Run_CommitStopsAtFirstUnfinished(t *testing.T) {
	log := &commitLog{}
	// urn:a comes after the failing place, so its commit must wait
	ext := &mockExtractor{batches: [][]domain.LoadRequest{{
		log.request("urn:down", 1),
		log.request("urn:a", 2),
	}}}
	tfm := &mockTransformer{errs: map[string]error{"urn:down": errors.New("timeout")}}

	p := pipeline.New(ext, tfm, &mockLoader{}, nil, slog.Default(), newTestMetrics(), 10)
	run(t, p, 300*time.Millisecond)

	assert.Empty(t, log.committed())
	assert.False(t, p.Ready())
}

func TestPipeline_Run_InvalidRequestsCommittedInOrder(t *testing.T) {
	log := &commitLog{}
	invalid := log.request("", 2)
	invalid.Invalid = errors.New("place urn is empty")
	ext := &mockExtractor{batches: [][]domain.LoadRequest{{
		log.request("urn:a", 1),
		invalid,
		log.request("urn:b", 3),
	}}}
	tfm := &mockTransformer{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, &mockLoader{}, nil, slog.Default(), metrics, 10)
	run(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"urn:a", "urn:b"}, tfm.called())
	assert.Equal(t, []int64{1, 2, 3}, log.committed())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RequestsSkipped.WithLabelValues("invalid")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.RequestsSkipped.WithLabelValues("duplicate")), 0)
}

func TestPipeline_Run_LoadErrorCommitsNothing(t *testing.T) {
	log := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.LoadRequest{{log.request("urn:a", 1)}}}
	ldr := &mockLoader{err: errors.New("broker unavailable")}
	recent := pipeline.NewRecentLoads(10, time.Hour)

	p := pipeline.New(ext, &mockTransformer{}, ldr, recent, slog.Default(), newTestMetrics(), 10)
	run(t, p, 300*time.Millisecond)

	assert.Empty(t, log.committed())
	assert.False(t, recent.IsRecent(domain.Place{URN: "urn:a"}))
	assert.False(t, p.Ready())
}

func TestPipeline_Run_CancelledDuringTransform(t *testing.T) {
	log := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.LoadRequest{{log.request("urn:a", 1)}}}
	ldr := &mockLoader{}

	ctx, cancel := context.WithCancel(context.Background())
	tfm := transformFunc(func(ctx context.Context, _ domain.LoadRequest) (domain.Chart, error) {
		cancel()
		return domain.Chart{}, ctx.Err()
	})

	p := pipeline.New(ext, tfm, ldr, nil, slog.Default(), newTestMetrics(), 10)
	require.NoError(t, p.Run(ctx))

	assert.Empty(t, ldr.loaded)
	assert.Empty(t, log.committed())
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	ext := failingExtractor{err: errors.New("fetch failed")}
	p := pipeline.New(ext, &mockTransformer{}, &mockLoader{}, nil, slog.Default(), newTestMetrics(), 10)
	run(t, p, 100*time.Millisecond)
	assert.False(t, p.Ready())
}

type transformFunc func(context.Context, domain.LoadRequest) (domain.Chart, error)

func (f transformFunc) Transform(ctx context.Context, req domain.LoadRequest) (domain.Chart, error) {
	return f(ctx, req)
}

type failingExtractor struct{ err error }

func (f failingExtractor) ExtractBatch(context.Context, int) ([]domain.LoadRequest, error) {
	return nil, f.err
}
