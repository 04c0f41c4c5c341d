package otp

import (
	"context"
	"time"

	"github.com/Sternrassler/transit-proxy/pkg/memo"
)

// CacheName labels the version cache in logs and metrics.
const CacheName = "otp_version"

// VersionCache memoizes the detected API type.
type VersionCache struct {
	prober *Prober
	loader *memo.Loader[APIType]
}

// NewVersionCache creates a cache around prober. A nil prober or an empty
// base URL disables detection: Preload does nothing and APIType stays empty.
func NewVersionCache(prober *Prober, opts ...memo.Option) *VersionCache {
	c := &VersionCache{prober: prober}
	c.loader = memo.New(CacheName, c.fetch, opts...)
	return c
}

func (c *VersionCache) fetch(ctx context.Context) (APIType, error) {
	t, err := c.prober.Detect(ctx)
	if err != nil {
		return "", err
	}

	c.prober.logger.Info().
		Str("url", c.prober.BaseURL()).
		Str("api_type", string(t)).
		Msg("Detected OTP API type")
	return t, nil
}

// Enabled reports whether an OTP server is configured.
func (c *VersionCache) Enabled() bool {
	return c.prober != nil && c.prober.BaseURL() != ""
}

// Preload detects the API type unless a fresh result exists and force is
// false. Failures keep the previously detected type.
func (c *VersionCache) Preload(ctx context.Context, force bool) {
	if !c.Enabled() {
		memo.PreloadCalls.WithLabelValues(CacheName, "disabled").Inc()
		return
	}
	c.loader.Preload(ctx, force)
}

// Refresh starts a detection when one is needed and returns without waiting.
func (c *VersionCache) Refresh(ctx context.Context, force bool) {
	if !c.Enabled() {
		return
	}
	c.loader.Refresh(ctx, force)
}

// APIType returns the detected type, or "" if none has been detected.
func (c *VersionCache) APIType() APIType {
	t, ok := c.loader.Value()
	if !ok {
		return ""
	}
	return t
}

// State returns the loader state.
func (c *VersionCache) State() memo.State {
	return c.loader.State()
}

// Timestamp returns when the type was detected; zero means never.
func (c *VersionCache) Timestamp() time.Time {
	return c.loader.Timestamp()
}

// LastError returns the error of the latest failed detection.
func (c *VersionCache) LastError() error {
	return c.loader.LastError()
}

// Clear forgets the detected type.
func (c *VersionCache) Clear() {
	c.loader.Clear()
}
