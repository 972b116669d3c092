// Package webcsv fetches CSV resources over HTTP(S) or from disk and parses
// them into tables.
package webcsv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/field-survey-etl/internal/domain"
	"github.com/couchcryptid/field-survey-etl/internal/observability"
)

// ErrFetch is returned when a CSV resource cannot be read or parsed.
var ErrFetch = errors.New("csv fetch failed")

// maxErrorBody caps how much of a failed response body is echoed in errors.
const maxErrorBody = 512

// Client reads CSV tables. It implements pipeline.CSVFetcher.
type Client struct {
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a CSV client whose HTTP requests time out after timeout.
func NewClient(timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// FetchCSV reads the CSV at uri. http and https URIs are downloaded, file URIs
// and bare paths are read from disk.
func (c *Client) FetchCSV(ctx context.Context, uri string) (*domain.Table, error) {
	start := time.Now()
	tbl, err := c.fetch(ctx, uri)
	c.metrics.WeatherFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.WeatherFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, uri, err)
	}
	c.metrics.WeatherFetches.WithLabelValues("success").Inc()
	c.logger.Debug("csv fetched", "uri", uri, "rows", tbl.Len(), "columns", tbl.Width())
	return tbl, nil
}

func (c *Client) fetch(ctx context.Context, uri string) (*domain.Table, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse uri: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return c.download(ctx, uri)
	case "file":
		return readFile(u.Path)
	case "":
		return readFile(uri)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func (c *Client) download(ctx context.Context, uri string) (*domain.Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return Parse(resp.Body)
}

func readFile(path string) (*domain.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}
