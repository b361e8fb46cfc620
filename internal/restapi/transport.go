package restapi

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/srg-rm/rm-copilot/internal/retry"
)

// newRetryClient returns an http.Client whose transport retries connection
// failures and 500/502/503/504 with linear backoff. When retries run out on a
// 5xx the last response is returned as-is so the caller can classify it.
// timeout bounds the whole exchange including the retries.
func newRetryClient(base http.RoundTripper, maxRetries int, step, timeout time.Duration, logger *zap.Logger) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: base}
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = step
	rc.RetryWaitMax = step * time.Duration(maxRetries+1)
	rc.Backoff = linearBackoff(step)
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = zapLeveledLogger{logger.Sugar()}

	client := rc.StandardClient()
	client.Timeout = timeout
	return client
}

// linearBackoff waits step, 2*step, 3*step... capped at max.
func linearBackoff(step time.Duration) retryablehttp.Backoff {
	lin := retry.Linear(step)
	return func(_, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
		d := lin(attemptNum+1, nil)
		if max > 0 && d > max {
			d = max
		}
		return d
	}
}

// checkRetry leaves 429 to the rate-limit policy above the transport.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return isRetryableStatus(resp.StatusCode), nil
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

type zapLeveledLogger struct {
	s *zap.SugaredLogger
}

func (l zapLeveledLogger) Error(msg string, kv ...interface{}) { l.s.Warnw(msg, kv...) }
func (l zapLeveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l zapLeveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l zapLeveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
