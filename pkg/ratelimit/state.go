// Package ratelimit paces outbound transit API requests and honours upstream
// 429 responses. The "blocked until" deadline can live in Redis so that every
// proxy replica backs off together, or in process memory when Redis is not
// configured.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyBlockedUntil = "transit:rate_limit:blocked_until"
	RedisKeyLastUpdate   = "transit:rate_limit:last_update"
)

const (
	// DefaultBackoff applies when a 429 carries no usable Retry-After header.
	DefaultBackoff = 10 * time.Second

	// MaxBackoff caps Retry-After values so a misbehaving upstream cannot
	// disable refreshes for hours.
	MaxBackoff = 5 * time.Minute
)

// RateLimitState is the shared backoff state.
type RateLimitState struct {
	// BlockedUntil is when requests may resume; zero means not blocked.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// IsBlocked reports whether requests must wait at now.
func (s *RateLimitState) IsBlocked(now time.Time) bool {
	return !s.BlockedUntil.IsZero() && now.Before(s.BlockedUntil)
}

// TimeUntilReset returns the remaining backoff, or 0 when not blocked.
func (s *RateLimitState) TimeUntilReset(now time.Time) time.Duration {
	if !s.IsBlocked(now) {
		return 0
	}
	return s.BlockedUntil.Sub(now)
}
