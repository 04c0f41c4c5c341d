package httpcache

import (
	"net/http"
	"time"
)

// Entry is a stored upstream response.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ETag for If-None-Match revalidation
	ETag string `json:"etag"`

	// Expires is when the entry is dropped from Redis
	Expires time.Time `json:"expires"`

	// LastModified for If-Modified-Since revalidation
	LastModified time.Time `json:"last_modified"`

	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`

	// CachedAt is when the entry was stored
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry should no longer be used.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
