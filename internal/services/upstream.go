package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"meme-coin-aggregator/pkg/logger"
	"meme-coin-aggregator/pkg/ratelimiter"
	"meme-coin-aggregator/pkg/retry"

	"go.uber.org/zap"
)

// maxBodySize bounds how much of an upstream response is read
const maxBodySize = 8 << 20

// APIError is a non-2xx response from an upstream source
type APIError struct {
	Source     string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Source, e.StatusCode, e.Message)
}

// IsRetryable returns true for rate limiting and server-side failures
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// upstream is the HTTP plumbing shared by source adapters. Every attempt
// first takes a rate limiter slot, so retries are limited too.
type upstream struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimiter.RateLimiter
	retrier    *retry.Executor
	recorder   UpstreamRecorder
	logger     *logger.Logger
}

// getJSON performs one GET and decodes the body into out
func (u *upstream) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if u.limiter != nil {
		if err := u.limiter.Acquire(ctx, u.name); err != nil {
			return err
		}
	}

	fullURL := u.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := u.httpClient.Do(req)
	if err != nil {
		u.recorder.RecordUpstreamCall(u.name, time.Since(start), false)
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	u.recorder.RecordUpstreamCall(u.name, time.Since(start), err == nil && resp.StatusCode < 400)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{
			Source:     u.name,
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// fetchJSON runs getJSON under the retry policy
func fetchJSON[T any](ctx context.Context, u *upstream, label, path string, query url.Values) (T, error) {
	return retry.Execute(ctx, u.retrier, label, func(ctx context.Context) (T, error) {
		var out T
		err := u.getJSON(ctx, path, query, &out)
		return out, err
	})
}

// absorb logs an adapter failure; callers then return an empty result
func (u *upstream) absorb(ctx context.Context, op string, err error, fields ...zap.Field) {
	if ctx.Err() != nil {
		return
	}
	fields = append(fields, zap.String("source", u.name), zap.String("operation", op), zap.Error(err))
	u.logger.WithContext(ctx).Error("Upstream call failed", fields...)
}
