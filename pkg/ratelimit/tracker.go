package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_rate_limit_blocks_total",
		Help: "Total number of upstream requests blocked by an active backoff",
	})

	rateLimitBackoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_rate_limit_backoffs_total",
		Help: "Total number of 429 responses that started a backoff",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transit_rate_limit_wait_seconds",
		Help:    "Time spent waiting for the outbound request limiter",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	})
)

// Tracker gates outbound requests: a token bucket paces them and a shared
// deadline blocks them after the upstream answers 429.
type Tracker struct {
	store   Store
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time
}

// NewTracker creates a tracker. rps <= 0 disables pacing.
func NewTracker(store Store, rps float64, burst int, logger zerolog.Logger) *Tracker {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}

	return &Tracker{
		store:   store,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
	}
}

// GetState returns the current backoff state.
func (t *Tracker) GetState(ctx context.Context) (RateLimitState, error) {
	return t.store.Load(ctx)
}

// ShouldAllowRequest returns false while a backoff is active.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.IsBlocked(t.now()) {
		t.logger.Warn().
			Dur("wait_duration", state.TimeUntilReset(t.now())).
			Msg("Upstream backoff active - blocking request")
		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	return true, nil
}

// Wait blocks until the token bucket admits one request or ctx ends.
func (t *Tracker) Wait(ctx context.Context) error {
	start := t.now()
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	rateLimitWaitSeconds.Observe(t.now().Sub(start).Seconds())
	return nil
}

// UpdateFromResponse starts a backoff when the upstream answered 429.
func (t *Tracker) UpdateFromResponse(ctx context.Context, resp *http.Response) error {
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}

	backoff := ParseRetryAfter(resp.Header.Get("Retry-After"), t.now())
	until := t.now().Add(backoff)

	if err := t.store.Block(ctx, until); err != nil {
		return fmt.Errorf("record backoff: %w", err)
	}

	rateLimitBackoffsTotal.Inc()
	t.logger.Warn().
		Dur("backoff", backoff).
		Time("blocked_until", until).
		Msg("Upstream rate limit hit - backing off")

	return nil
}

// ParseRetryAfter reads a Retry-After value in seconds or HTTP-date form.
// Missing or invalid values yield DefaultBackoff; results are capped at MaxBackoff.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultBackoff
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return DefaultBackoff
	}

	if d <= 0 {
		return DefaultBackoff
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}
