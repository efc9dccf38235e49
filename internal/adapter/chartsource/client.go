package chartsource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/water-chart-etl/internal/domain"
	"github.com/couchcryptid/water-chart-etl/internal/observability"
)

// resourcePath is appended to the base URL, followed by the escaped place URN.
const resourcePath = "/resources/xmlchart/"

// Client fetches chart XML documents over HTTP.
// It implements pipeline.ChartSource.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a chart source client. The timeout covers the whole
// request including reading the body.
func NewClient(baseURL, userAgent string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// URL returns the chart resource URL of place.
func (c *Client) URL(place domain.Place) string {
	return c.baseURL + resourcePath + url.PathEscape(place.URN)
}

// Open requests the chart of place and returns the response body for
// streaming. The caller must close it. A 204 or 404 response is reported as
// domain.ErrPlaceGone.
func (c *Client) Open(ctx context.Context, place domain.Place) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(place), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ChartFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.ChartFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("chart request %s: %w", place, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		c.metrics.ChartFetches.WithLabelValues("success").Inc()
		return resp.Body, nil
	case http.StatusNoContent, http.StatusNotFound:
		resp.Body.Close()
		c.metrics.ChartFetches.WithLabelValues("gone").Inc()
		c.logger.Debug("chart source has no chart for place", "place_urn", place.URN, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s: status %d", domain.ErrPlaceGone, place, resp.StatusCode)
	default:
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.metrics.ChartFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("chart source error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
