package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T) (*Tracker, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	t.Cleanup(store.Close)
	return NewTracker(store, 0, 1, zerolog.Nop()), store
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "empty", value: "", want: DefaultBackoff},
		{name: "seconds", value: "30", want: 30 * time.Second},
		{name: "padded seconds", value: " 7 ", want: 7 * time.Second},
		{name: "zero seconds", value: "0", want: DefaultBackoff},
		{name: "negative", value: "-5", want: DefaultBackoff},
		{name: "garbage", value: "soon", want: DefaultBackoff},
		{name: "http date", value: now.Add(45 * time.Second).Format(http.TimeFormat), want: 45 * time.Second},
		{name: "capped", value: "86400", want: MaxBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestTracker_AllowsByDefault(t *testing.T) {
	tracker, _ := newTestTracker(t)

	allowed, err := tracker.ShouldAllowRequest(context.Background())
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if !allowed {
		t.Error("Expected request to be allowed without backoff")
	}
}

func TestTracker_BlocksAfter429(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"60"}},
	}
	if err := tracker.UpdateFromResponse(ctx, resp); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("Expected request to be blocked during backoff")
	}

	state, _ := store.Load(ctx)
	if remaining := state.TimeUntilReset(time.Now()); remaining < 55*time.Second || remaining > 61*time.Second {
		t.Errorf("Remaining backoff = %v, want about 60s", remaining)
	}
}

func TestTracker_IgnoresOtherStatuses(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	for _, status := range []int{200, 304, 404, 500, 503} {
		if err := tracker.UpdateFromResponse(ctx, &http.Response{StatusCode: status, Header: http.Header{}}); err != nil {
			t.Fatalf("UpdateFromResponse(%d) error = %v", status, err)
		}
	}
	if err := tracker.UpdateFromResponse(ctx, nil); err != nil {
		t.Fatalf("UpdateFromResponse(nil) error = %v", err)
	}

	allowed, _ := tracker.ShouldAllowRequest(ctx)
	if !allowed {
		t.Error("Non-429 responses must not start a backoff")
	}
}

func TestTracker_BackoffExpires(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	if err := store.Block(ctx, time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if allowed, _ := tracker.ShouldAllowRequest(ctx); allowed {
		t.Fatal("Expected block right after Block()")
	}

	time.Sleep(100 * time.Millisecond)

	if allowed, _ := tracker.ShouldAllowRequest(ctx); !allowed {
		t.Error("Expected request to be allowed after backoff expired")
	}
}

func TestMemoryStore_KeepsLongerDeadline(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	long := time.Now().Add(time.Minute)
	_ = store.Block(ctx, long)
	_ = store.Block(ctx, time.Now().Add(time.Second))

	state, _ := store.Load(ctx)
	if !state.BlockedUntil.Equal(long) {
		t.Errorf("BlockedUntil = %v, want %v", state.BlockedUntil, long)
	}
}

func TestTracker_WaitPacing(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	tracker := NewTracker(store, 1000, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := tracker.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
}

func TestTracker_WaitCancelled(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	tracker := NewTracker(store, 0.001, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	// consume the single burst token
	_ = tracker.Wait(ctx)
	cancel()

	if err := tracker.Wait(ctx); err == nil {
		t.Error("Expected Wait() to fail with cancelled context")
	}
}
