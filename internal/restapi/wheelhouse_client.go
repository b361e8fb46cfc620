package restapi

import (
	"bytes"
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

	"github.com/srg-rm/rm-copilot/internal/config"
	"github.com/srg-rm/rm-copilot/internal/retry"
	"github.com/srg-rm/rm-copilot/pkg/schema"
)

// MaxPageSize is the largest limit the listings endpoint accepts.
const MaxPageSize = 100

// ListingsPage is one page of GET /listings.
type ListingsPage struct {
	Listings []schema.Record `json:"listings"`
	Total    int             `json:"total"`
	Offset   int             `json:"offset"`
	Limit    int             `json:"limit"`
}

// Observer receives request level events. metrics.Recorder implements it.
type Observer interface {
	ObserveRequest(endpoint string, status int)
	ObserveRateLimitRetry()
	ObservePage(records int)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int) {}
func (nopObserver) ObserveRateLimitRetry()     {}
func (nopObserver) ObservePage(int)            {}

// WheelhouseClient talks to the Wheelhouse Pro API. It owns its http.Client;
// construct one per process and pass it around.
type WheelhouseClient struct {
	baseURL   string
	headers   map[string]string
	pageSize  int
	client    *http.Client
	limiter   *PageRateLimiter
	rateLimit config.RateLimitConfig
	sleep     retry.SleepFunc
	observer  Observer
	logger    *zap.Logger
}

// Option customises a WheelhouseClient.
type Option func(*wheelhouseOptions)

type wheelhouseOptions struct {
	transport http.RoundTripper
	sleep     retry.SleepFunc
	observer  Observer
	limiter   *PageRateLimiter
}

// WithTransport replaces the base round tripper under the retry layer.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *wheelhouseOptions) { o.transport = rt }
}

// WithSleep replaces the wait used between rate-limit retries.
func WithSleep(fn retry.SleepFunc) Option {
	return func(o *wheelhouseOptions) { o.sleep = fn }
}

// WithObserver registers a request observer.
func WithObserver(obs Observer) Option {
	return func(o *wheelhouseOptions) { o.observer = obs }
}

// WithPageRateLimiter replaces the page throttle.
func WithPageRateLimiter(l *PageRateLimiter) Option {
	return func(o *wheelhouseOptions) { o.limiter = l }
}

// NewWheelhouseClient builds a client from the wheelhouse config section.
func NewWheelhouseClient(cfg *config.Config, logger *zap.Logger, opts ...Option) *WheelhouseClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := wheelhouseOptions{sleep: retry.Sleep, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limiter == nil {
		o.limiter = NewPageRateLimiter(cfg.Wheelhouse.PageInterval)
	}

	wh := cfg.Wheelhouse
	rl := wh.RateLimit
	if rl.MaxAttempts < 1 {
		rl.MaxAttempts = 1
	}

	return &WheelhouseClient{
		baseURL:   strings.TrimRight(wh.BaseURL, "/"),
		headers:   cfg.Headers(),
		pageSize:  wh.PageSize,
		client:    newRetryClient(o.transport, wh.MaxRetries, wh.RetryDelay, wh.Timeout, logger),
		limiter:   o.limiter,
		rateLimit: rl,
		sleep:     o.sleep,
		observer:  o.observer,
		logger:    logger,
	}
}

// GetListings fetches a single page of listings for day.
func (c *WheelhouseClient) GetListings(ctx context.Context, day time.Time, limit, offset int, filters map[string]string) (*ListingsPage, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	query := url.Values{}
	query.Set("date", day.Format(schema.DayLayout))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	for k, v := range filters {
		query.Set(k, v)
	}

	c.logger.Debug("Fetching listings page",
		zap.String("date", day.Format(schema.DayLayout)),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	var page ListingsPage
	if err := c.getJSON(ctx, EndpointListings, "/listings", query, &page); err != nil {
		return nil, err
	}
	c.observer.ObservePage(len(page.Listings))
	return &page, nil
}

// FetchDay pages through every listing for day. Paging stops when the
// cumulative count reaches the reported total or a page comes back empty.
// Any error aborts the whole fetch and nothing is returned.
func (c *WheelhouseClient) FetchDay(ctx context.Context, day time.Time, pageSize int, filters map[string]string) ([]schema.Record, error) {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var all []schema.Record
	offset := 0
	for {
		if err := c.limiter.Wait(ctx, EndpointListings); err != nil {
			return nil, err
		}
		page, err := c.GetListings(ctx, day, pageSize, offset, filters)
		if err != nil {
			c.logger.Error("Failed to fetch listings page",
				zap.String("date", day.Format(schema.DayLayout)),
				zap.Int("offset", offset),
				zap.Error(err))
			return nil, err
		}
		if len(page.Listings) == 0 {
			break
		}
		all = append(all, page.Listings...)
		if len(all) >= page.Total {
			break
		}
		c.logger.Debug("Fetched listings", zap.Int("fetched", len(all)), zap.Int("total", page.Total))
		offset += pageSize
	}

	c.logger.Info("Fetched all listings",
		zap.String("date", day.Format(schema.DayLayout)),
		zap.Int("count", len(all)))
	return all, nil
}

// GetListing fetches a single listing by id.
func (c *WheelhouseClient) GetListing(ctx context.Context, id string) (schema.Record, error) {
	var rec schema.Record
	if err := c.getJSON(ctx, EndpointListing, "/listings/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// HealthCheck reports whether GET /health answers 200. Any error counts as
// unreachable.
func (c *WheelhouseClient) HealthCheck(ctx context.Context) bool {
	if err := c.getJSON(ctx, EndpointHealth, "/health", nil, nil); err != nil {
		c.logger.Warn("Wheelhouse health check failed", zap.Error(err))
		return false
	}
	return true
}

// getJSON performs a GET under the rate-limit retry policy and decodes the
// body into out. A nil out discards the body.
func (c *WheelhouseClient) getJSON(ctx context.Context, endpoint EndpointType, path string, query url.Values, out interface{}) error {
	policy := retry.Policy{
		MaxAttempts: c.rateLimit.MaxAttempts,
		Backoff:     c.rateLimitBackoff(),
		Retryable: func(err error) bool {
			var rl *RateLimitedError
			return errors.As(err, &rl)
		},
		Sleep: c.sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.observer.ObserveRateLimitRetry()
			c.logger.Warn("Rate limited, backing off",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
		},
	}
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		return c.doRequest(ctx, endpoint, path, query, out)
	})
}

// rateLimitBackoff grows exponentially between the configured bounds and
// honours a larger Retry-After, still capped at the max delay.
func (c *WheelhouseClient) rateLimitBackoff() retry.Backoff {
	exp := retry.Exponential(c.rateLimit.MinDelay, c.rateLimit.MaxDelay)
	return func(attempt int, err error) time.Duration {
		d := exp(attempt, err)
		var rl *RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > d {
			d = rl.RetryAfter
		}
		if c.rateLimit.MaxDelay > 0 && d > c.rateLimit.MaxDelay {
			d = c.rateLimit.MaxDelay
		}
		return d
	}
}

func (c *WheelhouseClient) doRequest(ctx context.Context, endpoint EndpointType, path string, query url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientNetworkError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientNetworkError{Op: "read " + path, Err: err}
	}
	c.observer.ObserveRequest(string(endpoint), resp.StatusCode)

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
		c.logger.Error("Wheelhouse request failed", zap.String("path", path), zap.Error(apiErr))
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if retryTime, err := http.ParseTime(header); err == nil {
		delay := time.Until(retryTime)
		if delay > 0 {
			return delay
		}
	}
	return 0
}
