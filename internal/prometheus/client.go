// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package prometheus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	queryRangePath = "/api/v1/query_range"
	statusSuccess  = "success"

	// Timeout for a single range query request
	requestTimeout = 10 * time.Second

	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

// ErrMaxRetriesExceeded is returned by QueryRange once every attempt for a window has failed.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Client issues range queries against a Prometheus-compatible HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMaxRetries sets the number of attempts per range query.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the constant delay slept after each failed attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a range query client for the API rooted at baseURL.
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryRange returns the values of the first series matching query in [start, end).
// An empty slice is returned when the query matches no series.
//
// Transport errors, undecodable bodies and non-success statuses are retried
// with a constant delay. After maxRetries failed attempts the returned error
// wraps ErrMaxRetriesExceeded and the last attempt's error.
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Sample, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		samples, err := c.queryRange(ctx, query, start, end, step)
		if err == nil {
			return samples, nil
		}
		lastErr = err

		c.logger.Warn("Range query failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.maxRetries),
			zap.Duration("delay", c.retryDelay),
			zap.Error(err))

		if err := sleep(ctx, c.retryDelay); err != nil {
			return nil, err
		}
	}

	c.logger.Error("Max retries exceeded",
		zap.Int64("start", start.Unix()),
		zap.Int64("end", end.Unix()))

	return nil, fmt.Errorf("%w for %d -> %d: %w", ErrMaxRetriesExceeded, start.Unix(), end.Unix(), lastErr)
}

// queryRange performs a single attempt.
func (c *Client) queryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Sample, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("step", strconv.FormatInt(int64(step/time.Second), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+queryRangePath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	c.logger.Debug("Querying Prometheus",
		zap.String("url", req.URL.String()))

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp queryRangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response (HTTP %d): %w", res.StatusCode, err)
	}

	if resp.Status != statusSuccess {
		return nil, fmt.Errorf("bad response from Prometheus (HTTP %d): status=%q errorType=%q error=%q",
			res.StatusCode, resp.Status, resp.ErrorType, resp.Error)
	}

	if len(resp.Data.Result) == 0 {
		return []Sample{}, nil
	}
	if resp.Data.Result[0].Values == nil {
		return []Sample{}, nil
	}
	return resp.Data.Result[0].Values, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
