package routes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/transit-proxy/pkg/geo"
	"github.com/Sternrassler/transit-proxy/pkg/memo"
	"github.com/Sternrassler/transit-proxy/pkg/oba"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves a fixed catalogue and counts calls.
type fakeAPI struct {
	agencyCalls atomic.Int32
	routeCalls  atomic.Int32

	mu        sync.Mutex
	agencies  []oba.Agency
	routes    map[string]*oba.RouteList
	agencyErr error
	routeErr  error
	gate      chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		agencies: []oba.Agency{
			{AgencyID: "1", Name: "Coverage Name", Lat: 47.6, Lon: -122.3, LatSpan: 0.4, LonSpan: 0.6},
			{AgencyID: "40", Lat: 47.0, Lon: -122.0, LatSpan: 1.0, LonSpan: 1.0},
		},
		routes: map[string]*oba.RouteList{
			"1": {
				Routes: []oba.Route{
					{ID: "1_100", AgencyID: "1", ShortName: "10"},
					{ID: "1_200", AgencyID: "1", ShortName: "E Line"},
				},
				References: oba.References{Agencies: []oba.AgencyReference{
					{ID: "1", Name: "Test Agency", URL: "https://metro.example.com", Timezone: "America/Los_Angeles"},
				}},
			},
			"40": {
				Routes: []oba.Route{
					{ID: "40_1", AgencyID: "40", ShortName: "1 Line"},
				},
			},
		},
	}
}

func (f *fakeAPI) ListAgenciesWithCoverage(ctx context.Context) ([]oba.Agency, error) {
	f.agencyCalls.Add(1)

	f.mu.Lock()
	gate, err, agencies := f.gate, f.agencyErr, f.agencies
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return agencies, nil
}

func (f *fakeAPI) ListRoutesForAgency(ctx context.Context, agencyID string) (*oba.RouteList, error) {
	f.routeCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.routeErr != nil {
		return nil, f.routeErr
	}
	list, ok := f.routes[agencyID]
	if !ok {
		return &oba.RouteList{}, nil
	}
	return list, nil
}

func (f *fakeAPI) failAgencies(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agencyErr = err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(api TransitAPI) (*Cache, *testClock) {
	clock := &testClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	return New(api, 2, memo.WithClock(clock.Now), memo.WithLogger(zerolog.Nop())), clock
}

func TestCache_EmptyBeforePreload(t *testing.T) {
	c, _ := newTestCache(newFakeAPI())

	assert.Nil(t, c.Routes())
	assert.Nil(t, c.Agencies())
	assert.Nil(t, c.Bounds())
	assert.Equal(t, memo.StateUninitialized, c.State())
	assert.True(t, c.Timestamp().IsZero())
}

func TestCache_PreloadLoadsCatalogue(t *testing.T) {
	api := newFakeAPI()
	c, clock := newTestCache(api)

	c.Preload(context.Background(), false)

	require.Equal(t, memo.StateLoaded, c.State())
	assert.Equal(t, clock.Now(), c.Timestamp())
	assert.Len(t, c.Agencies(), 2)

	routes := c.Routes()
	require.Len(t, routes, 3)
	assert.Equal(t, []string{"1_100", "1_200", "40_1"}, []string{routes[0].ID, routes[1].ID, routes[2].ID})

	bounds := c.Bounds()
	require.NotNil(t, bounds)
	assert.InDelta(t, 47.8, bounds.North, 1e-9)
	assert.InDelta(t, 46.5, bounds.South, 1e-9)
	assert.InDelta(t, -121.5, bounds.East, 1e-9)
	assert.InDelta(t, -122.6, bounds.West, 1e-9)

	assert.Equal(t, int32(1), api.agencyCalls.Load())
	assert.Equal(t, int32(2), api.routeCalls.Load())
}

func TestCache_AgencyInfoFromReferences(t *testing.T) {
	c, _ := newTestCache(newFakeAPI())

	c.Preload(context.Background(), false)

	routes, ok := c.RoutesForAgency("1")
	require.True(t, ok)
	require.Len(t, routes, 2)
	for _, r := range routes {
		require.NotNil(t, r.AgencyInfo)
		assert.Equal(t, "Test Agency", r.AgencyInfo.Name)
		assert.Equal(t, "https://metro.example.com", r.AgencyInfo.URL)
	}

	// agency 40's response carried no references block
	routes, ok = c.RoutesForAgency("40")
	require.True(t, ok)
	require.Len(t, routes, 1)
	assert.Nil(t, routes[0].AgencyInfo)
}

func TestCache_RoutesForUnknownAgency(t *testing.T) {
	c, _ := newTestCache(newFakeAPI())

	_, ok := c.RoutesForAgency("1")
	assert.False(t, ok, "nothing loaded yet")

	c.Preload(context.Background(), false)
	_, ok = c.RoutesForAgency("999")
	assert.False(t, ok)
}

func TestSnapshot_ForAgency(t *testing.T) {
	snap := Snapshot{
		Agencies: []oba.Agency{{AgencyID: "1"}, {AgencyID: "2"}},
		Routes: []oba.Route{
			{ID: "1_10", AgencyID: "1"},
			{ID: "1_20", AgencyID: "1"},
		},
	}

	routes, ok := snap.ForAgency("1")
	require.True(t, ok)
	assert.Len(t, routes, 2)

	routes, ok = snap.ForAgency("2")
	require.True(t, ok)
	assert.Empty(t, routes)

	_, ok = snap.ForAgency("3")
	assert.False(t, ok)
}

func TestCache_RefreshReturnsBeforeLoad(t *testing.T) {
	api := newFakeAPI()
	api.gate = make(chan struct{})
	c, _ := newTestCache(api)

	c.Refresh(context.Background(), false)
	assert.Equal(t, memo.StateLoading, c.State())
	assert.Nil(t, c.Routes())

	close(api.gate)
	require.Eventually(t, func() bool {
		return c.State() == memo.StateLoaded
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, c.Routes(), 3)
	assert.Equal(t, int32(1), api.agencyCalls.Load())
}

func TestCache_FreshSkipsFetch(t *testing.T) {
	api := newFakeAPI()
	c, clock := newTestCache(api)

	c.Preload(context.Background(), false)
	clock.Advance(59 * time.Minute)
	c.Preload(context.Background(), false)

	assert.Equal(t, int32(1), api.agencyCalls.Load())
}

func TestCache_RefetchAfterTTL(t *testing.T) {
	api := newFakeAPI()
	c, clock := newTestCache(api)

	c.Preload(context.Background(), false)
	clock.Advance(time.Hour + time.Millisecond)
	c.Preload(context.Background(), false)
	c.Preload(context.Background(), false)

	assert.Equal(t, int32(2), api.agencyCalls.Load())
}

func TestCache_ForceRefetches(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestCache(api)

	c.Preload(context.Background(), false)
	c.Preload(context.Background(), true)

	assert.Equal(t, int32(2), api.agencyCalls.Load())
}

func TestCache_ConcurrentPreloadFetchesOnce(t *testing.T) {
	api := newFakeAPI()
	api.gate = make(chan struct{})
	c, _ := newTestCache(api)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Preload(context.Background(), false)
		}()
	}

	require.Eventually(t, func() bool {
		return api.agencyCalls.Load() == 1 && c.State() == memo.StateLoading
	}, 2*time.Second, 5*time.Millisecond)

	close(api.gate)
	wg.Wait()

	assert.Equal(t, int32(1), api.agencyCalls.Load())
	assert.Len(t, c.Routes(), 3)
}

func TestCache_FirstFailure(t *testing.T) {
	api := newFakeAPI()
	api.failAgencies(errors.New("connection refused"))
	c, _ := newTestCache(api)

	c.Preload(context.Background(), false)

	assert.Equal(t, memo.StateError, c.State())
	assert.Nil(t, c.Routes())
	assert.Nil(t, c.Agencies())
	assert.Nil(t, c.Bounds())
	assert.ErrorContains(t, c.LastError(), "list agencies")
}

func TestCache_FailureKeepsPreviousSnapshot(t *testing.T) {
	api := newFakeAPI()
	c, clock := newTestCache(api)

	c.Preload(context.Background(), false)
	before, _ := c.Snapshot()
	loadedAt := c.Timestamp()

	clock.Advance(2 * time.Hour)
	api.mu.Lock()
	api.routeErr = errors.New("503 service unavailable")
	api.mu.Unlock()
	c.Preload(context.Background(), false)

	after, ok := c.Snapshot()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, loadedAt, c.Timestamp())
	assert.Equal(t, memo.StateError, c.State())
}

func TestCache_Clear(t *testing.T) {
	api := newFakeAPI()
	c, _ := newTestCache(api)

	c.Preload(context.Background(), false)
	c.Clear()

	assert.Nil(t, c.Routes())
	assert.Nil(t, c.Bounds())
	assert.Equal(t, memo.StateUninitialized, c.State())
	assert.True(t, c.Timestamp().IsZero())
}

func TestCache_NoAgencies(t *testing.T) {
	api := newFakeAPI()
	api.agencies = nil
	c, _ := newTestCache(api)

	c.Preload(context.Background(), false)

	require.Equal(t, memo.StateLoaded, c.State())
	assert.NotNil(t, c.Routes())
	assert.Empty(t, c.Routes())
	assert.Equal(t, &geo.Bounds{}, c.Bounds())
	assert.Equal(t, int32(0), api.routeCalls.Load())
}

func TestJoinAgencyInfo_Nil(t *testing.T) {
	assert.Nil(t, joinAgencyInfo(nil))
}
