package restapi

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// EndpointType groups requests that share a limiter.
type EndpointType string

const (
	EndpointListings EndpointType = "listings"
	EndpointListing  EndpointType = "listing"
	EndpointHealth   EndpointType = "health"
)

// PageRateLimiter spaces out consecutive listing page requests. It is a
// politeness throttle; the API's own limit is enforced by 429 handling.
type PageRateLimiter struct {
	limiters map[EndpointType]*rate.Limiter
}

// NewPageRateLimiter allows one listings page per interval. A non-positive
// interval disables throttling. Single-record and health requests are never
// throttled.
func NewPageRateLimiter(interval time.Duration) *PageRateLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &PageRateLimiter{
		limiters: map[EndpointType]*rate.Limiter{
			EndpointListings: rate.NewLimiter(limit, 1),
		},
	}
}

// Wait blocks until a request to endpoint may be issued.
func (s *PageRateLimiter) Wait(ctx context.Context, endpoint EndpointType) error {
	limiter, ok := s.limiters[endpoint]
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
