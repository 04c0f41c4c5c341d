// Package memo provides a TTL-bounded memoized loader with single-flight
// refresh and stale fallback.
//
// A Loader holds the last successfully fetched value of an upstream resource.
// Reads never block and never perform I/O; Preload refreshes the value when it
// is missing or older than the TTL. Concurrent Preload calls share one
// in-flight fetch. A failed refresh keeps the previous value.
package memo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/transit-proxy/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a successfully loaded value is considered fresh.
const DefaultTTL = time.Hour

// State describes the lifecycle of a Loader.
type State string

const (
	// StateUninitialized means no refresh has been attempted since creation or Clear.
	StateUninitialized State = "uninitialized"

	// StateLoading means a refresh is in flight.
	StateLoading State = "loading"

	// StateLoaded means the last refresh succeeded.
	StateLoaded State = "loaded"

	// StateError means the last refresh failed.
	StateError State = "error"
)

// FetchFunc loads a fresh value from upstream.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Option configures a Loader.
type Option func(*options)

type options struct {
	ttl    time.Duration
	now    func() time.Time
	logger *zerolog.Logger
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for simulating TTL expiry in tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger used for refresh outcomes.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// Loader memoizes the result of a FetchFunc.
type Loader[T any] struct {
	name   string
	fetch  FetchFunc[T]
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	group singleflight.Group

	mu         sync.RWMutex
	value      T
	hasValue   bool
	timestamp  time.Time
	state      State
	lastErr    error
	refreshing bool

	// generation is bumped by Clear. A refresh publishes only if flightGen
	// still matches, so a reset that nobody follows up drops its result.
	generation uint64
	flightGen  uint64
}

// New creates a Loader. name labels logs and metrics.
func New[T any](name string, fetch FetchFunc[T], opts ...Option) *Loader[T] {
	if fetch == nil {
		panic("memo: fetch function cannot be nil")
	}

	o := options{
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.NewLogger("cache").With().Str("cache", name).Logger()
	if o.logger != nil {
		logger = o.logger.With().Str("cache", name).Logger()
	}

	return &Loader[T]{
		name:   name,
		fetch:  fetch,
		ttl:    o.ttl,
		now:    o.now,
		logger: logger,
		state:  StateUninitialized,
	}
}

// Preload refreshes the value unless a fresh one exists and force is false.
// If a refresh is already in flight, Preload waits for it instead of starting
// another. Errors are logged and recorded, never returned: callers observe the
// outcome through Value and State.
//
// The fetch itself is detached from ctx cancellation; ctx only bounds how long
// this caller waits.
func (l *Loader[T]) Preload(ctx context.Context, force bool) {
	ch := l.start(ctx, force)
	if ch == nil {
		return
	}

	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// Refresh is Preload without the wait: it starts or joins a refresh when one
// is needed and returns at once.
func (l *Loader[T]) Refresh(ctx context.Context, force bool) {
	l.start(ctx, force)
}

// start registers a refresh request and returns the channel of the flight
// serving it, or nil when the value is fresh.
//
// DoChan is called under l.mu and run forgets the flight under l.mu before
// releasing it, so a request never joins a flight that has already published.
func (l *Loader[T]) start(ctx context.Context, force bool) <-chan singleflight.Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !force && l.freshLocked() {
		PreloadCalls.WithLabelValues(l.name, "fresh").Inc()
		l.logger.Debug().Msg("Cache fresh, skipping refresh")
		return nil
	}

	if l.refreshing {
		PreloadCalls.WithLabelValues(l.name, "joined").Inc()
		l.logger.Debug().Msg("Refresh already in flight, joining")
	} else {
		PreloadCalls.WithLabelValues(l.name, "started").Inc()
		l.refreshing = true
	}

	// a request made after Clear adopts the running flight
	l.flightGen = l.generation
	l.state = StateLoading

	detached := context.WithoutCancel(ctx)
	return l.group.DoChan(l.name, func() (any, error) {
		l.run(detached)
		return nil, nil
	})
}

// run performs one fetch and publishes its result.
func (l *Loader[T]) run(ctx context.Context) {
	start := l.now()
	value, err := l.safeFetch(ctx)
	elapsed := l.now().Sub(start)
	RefreshDuration.WithLabelValues(l.name).Observe(elapsed.Seconds())

	l.mu.Lock()
	defer l.mu.Unlock()

	l.group.Forget(l.name)
	l.refreshing = false

	if l.flightGen != l.generation {
		Refreshes.WithLabelValues(l.name, "discarded").Inc()
		l.logger.Info().Msg("Cache cleared during refresh, discarding result")
		return
	}

	if err != nil {
		l.state = StateError
		l.lastErr = err
		Refreshes.WithLabelValues(l.name, "error").Inc()

		event := l.logger.Error()
		if l.hasValue {
			event = l.logger.Warn().Time("stale_since", l.timestamp)
		}
		event.Err(err).Dur("duration", elapsed).Bool("has_stale_value", l.hasValue).Msg("Cache refresh failed")
		return
	}

	l.value = value
	l.hasValue = true
	l.timestamp = l.now()
	l.state = StateLoaded
	l.lastErr = nil
	Refreshes.WithLabelValues(l.name, "success").Inc()
	LastSuccess.WithLabelValues(l.name).Set(float64(l.timestamp.Unix()))

	l.logger.Info().Dur("duration", elapsed).Msg("Cache refreshed")
}

// safeFetch converts a panicking fetch into an error so the in-flight marker
// is always released.
func (l *Loader[T]) safeFetch(ctx context.Context) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return l.fetch(ctx)
}

// freshLocked reports whether a value exists and is younger than the TTL.
func (l *Loader[T]) freshLocked() bool {
	if !l.hasValue {
		return false
	}
	return l.now().Sub(l.timestamp) <= l.ttl
}

// Value returns the last successfully loaded value, possibly stale.
// ok is false if no refresh has ever succeeded.
func (l *Loader[T]) Value() (value T, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.hasValue
}

// State returns the current lifecycle state.
func (l *Loader[T]) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Timestamp returns when the value was last successfully loaded.
// The zero time means never.
func (l *Loader[T]) Timestamp() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.timestamp
}

// LastError returns the error of the most recent failed refresh, or nil if
// the most recent refresh succeeded.
func (l *Loader[T]) LastError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}

// IsStale reports whether the next Preload(ctx, false) would fetch.
func (l *Loader[T]) IsStale() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.freshLocked()
}

// Refreshing reports whether a refresh is in flight.
func (l *Loader[T]) Refreshing() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.refreshing
}

// Clear resets the loader to its initial state. A refresh that is in flight
// keeps its single-flight slot until it settles. Its result is dropped unless
// another Preload or Refresh joins it after the reset.
func (l *Loader[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	var zero T
	l.value = zero
	l.hasValue = false
	l.timestamp = time.Time{}
	l.state = StateUninitialized
	l.lastErr = nil
	l.generation++

	l.logger.Info().Msg("Cache cleared")
}

// Name returns the label the loader was created with.
func (l *Loader[T]) Name() string {
	return l.name
}
