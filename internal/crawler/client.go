package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/metrics"
)

// Defaults applied by NewClient.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultConcurrency    = 8
)

// ClientConfig tunes the fetch client.
type ClientConfig struct {
	// RequestTimeout bounds a single attempt, not the whole retry sequence.
	RequestTimeout time.Duration
	// Concurrency caps in-flight requests across every walk sharing the client.
	Concurrency int64
	Headers     http.Header
}

// Client fetches catalog documents with retries. It is safe for concurrent
// use and is meant to be shared by a whole crawl.
type Client struct {
	fetcher Fetcher
	retry   RetryPolicy
	limiter HostLimiter
	sem     *semaphore.Weighted
	timeout time.Duration
	headers http.Header
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewClient wires a Client. retry defaults to a FixedRetryPolicy with the
// package defaults; limiter may be nil.
func NewClient(fetcher Fetcher, retry RetryPolicy, limiter HostLimiter, cfg ClientConfig, logger *zap.Logger) *Client {
	if retry == nil {
		retry = NewFixedRetryPolicy(DefaultMaxAttempts, DefaultRetryDelay)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Client{
		fetcher: fetcher,
		retry:   retry,
		limiter: limiter,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		timeout: cfg.RequestTimeout,
		headers: cfg.Headers,
		logger:  logger.Named("client"),
		sleep:   sleepContext,
	}
}

// Fetch requests rawURL with f=json and returns the decoded document.
// Transient failures are retried according to the client's RetryPolicy;
// content and remote errors fail immediately.
func (c *Client) Fetch(ctx context.Context, rawURL string) (Document, error) {
	base := NormalizeURL(strings.TrimSpace(rawURL))
	target := withJSONFormat(base)

	var (
		lastErr    error
		lastStatus int
		attempt    int
	)
	for attempt = 1; ; attempt++ {
		start := time.Now()
		doc, status, err := c.attempt(ctx, base, target)
		if status != 0 {
			lastStatus = status
		}
		if err == nil {
			c.observe(target, attempt, "ok", status, start)
			return doc, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.observe(target, attempt, "canceled", status, start)
			return Document{}, fmt.Errorf("fetch %s: %w", target, ctxErr)
		}
		lastErr = err
		if !isTransient(err) {
			c.observe(target, attempt, outcomeOf(err), status, start, zap.Error(err))
			var fetchErr *FetchError
			if errors.As(err, &fetchErr) {
				fetchErr.Attempts = attempt
			}
			return Document{}, err
		}
		c.observe(target, attempt, "transient", status, start, zap.Error(err))
		if !c.retry.ShouldRetry(err, attempt) {
			break
		}
		if err := c.sleep(ctx, c.retry.Backoff(attempt)); err != nil {
			return Document{}, fmt.Errorf("fetch %s: %w", target, err)
		}
	}

	return Document{}, &FetchError{
		URL:        target,
		LastStatus: lastStatus,
		Reason:     ReasonRetriesExhausted,
		Attempts:   attempt,
		Err:        lastErr,
	}
}

func (c *Client) attempt(ctx context.Context, base, target string) (Document, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return Document{}, 0, err
		}
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Document{}, 0, fmt.Errorf("acquire fetch slot: %w", err)
	}
	defer c.sem.Release(1)
	metrics.IncInFlight()
	defer metrics.DecInFlight()

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.fetcher.Fetch(attemptCtx, FetchRequest{URL: target, Headers: c.headers})
	if err != nil {
		return Document{}, 0, &FetchError{URL: target, Reason: ReasonTransport, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Document{}, resp.StatusCode, &FetchError{
			URL:        target,
			LastStatus: resp.StatusCode,
			Reason:     ReasonStatus,
		}
	}
	doc, err := decodeDocument(base, target, resp)
	return doc, resp.StatusCode, err
}

type remoteError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// decodeDocument validates that a 200 response carries a JSON object and
// surfaces the catalog's in-band error envelope.
func decodeDocument(base, target string, resp FetchResponse) (Document, error) {
	body := bytes.TrimSpace(resp.Body)
	if isHTML(resp.Headers.Get("Content-Type")) || len(body) == 0 || body[0] != '{' {
		return Document{}, &FetchError{
			URL:        target,
			LastStatus: resp.StatusCode,
			Reason:     ReasonInvalidContent,
			Err:        ErrInvalidContent,
		}
	}

	var envelope struct {
		Error *remoteError `json:"error"`
	}
	if err := catalogJSON.Unmarshal(body, &envelope); err != nil {
		return Document{}, &FetchError{
			URL:        target,
			LastStatus: resp.StatusCode,
			Reason:     ReasonInvalidContent,
			Err:        fmt.Errorf("%w: %w", ErrInvalidContent, err),
		}
	}
	if envelope.Error != nil {
		remote := fmt.Errorf("%w: code %d: %s", ErrRemote, envelope.Error.Code, envelope.Error.Message)
		if envelope.Error.Code >= http.StatusInternalServerError {
			return Document{}, &FetchError{
				URL:        target,
				LastStatus: envelope.Error.Code,
				Reason:     ReasonStatus,
				Err:        remote,
			}
		}
		return Document{}, &FetchError{
			URL:        target,
			LastStatus: envelope.Error.Code,
			Reason:     ReasonRemoteError,
			Err:        remote,
		}
	}
	return Document{URL: base, Raw: body}, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func outcomeOf(err error) string {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Reason
	}
	return "error"
}

func (c *Client) observe(target string, attempt int, outcome string, status int, start time.Time, extra ...zap.Field) {
	elapsed := time.Since(start)
	metrics.ObserveFetch(target, outcome, elapsed)
	fields := append([]zap.Field{
		zap.String("url", target),
		zap.Int("attempt", attempt),
		zap.String("outcome", outcome),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
	}, extra...)
	if outcome == "ok" {
		c.logger.Debug("catalog fetch", fields...)
		return
	}
	c.logger.Warn("catalog fetch", fields...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
