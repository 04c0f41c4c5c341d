// Package routes caches the agencies, routes and map bounds served by a
// OneBusAway server.
//
// The cache is loaded in the background at startup and refreshed lazily once
// its TTL has passed. Reads return the last good snapshot and never block on
// the network.
package routes

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/transit-proxy/pkg/fanout"
	"github.com/Sternrassler/transit-proxy/pkg/geo"
	"github.com/Sternrassler/transit-proxy/pkg/logging"
	"github.com/Sternrassler/transit-proxy/pkg/memo"
	"github.com/Sternrassler/transit-proxy/pkg/oba"
	"github.com/rs/zerolog"
)

// CacheName labels the routes cache in logs and metrics.
const CacheName = "routes"

// TransitAPI is the subset of the OBA client the cache needs.
type TransitAPI interface {
	ListAgenciesWithCoverage(ctx context.Context) ([]oba.Agency, error)
	ListRoutesForAgency(ctx context.Context, agencyID string) (*oba.RouteList, error)
}

// Snapshot is one consistent result of a refresh. Callers must not modify it.
type Snapshot struct {
	Routes   []oba.Route  `json:"routes"`
	Agencies []oba.Agency `json:"agencies"`
	Bounds   geo.Bounds   `json:"bounds"`
}

// Cache memoizes the route catalogue of every agency.
type Cache struct {
	api         TransitAPI
	concurrency int
	logger      zerolog.Logger
	loader      *memo.Loader[Snapshot]
}

// New creates an empty cache. concurrency bounds the parallel
// routes-for-agency requests of one refresh.
func New(api TransitAPI, concurrency int, opts ...memo.Option) *Cache {
	c := &Cache{
		api:         api,
		concurrency: concurrency,
		logger:      logging.NewLogger("routes"),
	}
	c.loader = memo.New(CacheName, c.fetch, opts...)
	return c
}

// fetch loads agencies, derives the bounds and collects every agency's routes.
func (c *Cache) fetch(ctx context.Context) (Snapshot, error) {
	agencies, err := c.api.ListAgenciesWithCoverage(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list agencies: %w", err)
	}

	bounds := geo.ComputeBounds(agencies)

	perAgency, err := fanout.Map(ctx, agencies, c.concurrency, func(ctx context.Context, agency oba.Agency) ([]oba.Route, error) {
		list, err := c.api.ListRoutesForAgency(ctx, agency.AgencyID)
		if err != nil {
			return nil, fmt.Errorf("routes for agency %s: %w", agency.AgencyID, err)
		}
		return joinAgencyInfo(list), nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	routes := make([]oba.Route, 0)
	for _, r := range perAgency {
		routes = append(routes, r...)
	}

	c.logger.Info().
		Int("agencies", len(agencies)).
		Int("routes", len(routes)).
		Msg("Loaded route catalogue")

	return Snapshot{
		Routes:   routes,
		Agencies: agencies,
		Bounds:   bounds,
	}, nil
}

// joinAgencyInfo attaches the referenced agency record to each route.
// Routes whose agency is not referenced keep a nil AgencyInfo.
func joinAgencyInfo(list *oba.RouteList) []oba.Route {
	if list == nil {
		return nil
	}

	lookup := list.References.AgencyLookup()
	routes := make([]oba.Route, len(list.Routes))
	for i, r := range list.Routes {
		if ref, ok := lookup[r.AgencyID]; ok {
			r.AgencyInfo = &ref
		}
		routes[i] = r
	}
	return routes
}

// Preload refreshes the cache if it is empty or stale, or always when force
// is set. Concurrent calls share one refresh. Failures are logged and leave
// the previous snapshot in place.
func (c *Cache) Preload(ctx context.Context, force bool) {
	c.loader.Preload(ctx, force)
}

// Refresh starts a refresh when one is needed and returns without waiting.
func (c *Cache) Refresh(ctx context.Context, force bool) {
	c.loader.Refresh(ctx, force)
}

// Snapshot returns routes, agencies and bounds from the same refresh.
func (c *Cache) Snapshot() (Snapshot, bool) {
	return c.loader.Value()
}

// Routes returns the cached routes, or nil if nothing has been loaded.
func (c *Cache) Routes() []oba.Route {
	s, ok := c.loader.Value()
	if !ok {
		return nil
	}
	return s.Routes
}

// Agencies returns the cached agencies, or nil if nothing has been loaded.
func (c *Cache) Agencies() []oba.Agency {
	s, ok := c.loader.Value()
	if !ok {
		return nil
	}
	return s.Agencies
}

// Bounds returns the area covered by all agencies, or nil if nothing has
// been loaded.
func (c *Cache) Bounds() *geo.Bounds {
	s, ok := c.loader.Value()
	if !ok {
		return nil
	}
	b := s.Bounds
	return &b
}

// RoutesForAgency returns the cached routes of one agency. ok is false when
// the agency is not in the cached catalogue.
func (c *Cache) RoutesForAgency(agencyID string) ([]oba.Route, bool) {
	s, ok := c.loader.Value()
	if !ok {
		return nil, false
	}
	return s.ForAgency(agencyID)
}

// ForAgency filters the snapshot to one agency's routes. ok is false when the
// agency is not part of the snapshot.
func (s Snapshot) ForAgency(agencyID string) ([]oba.Route, bool) {
	known := false
	for _, a := range s.Agencies {
		if a.AgencyID == agencyID {
			known = true
			break
		}
	}
	if !known {
		return nil, false
	}

	routes := make([]oba.Route, 0)
	for _, r := range s.Routes {
		if r.AgencyID == agencyID {
			routes = append(routes, r)
		}
	}
	return routes, true
}

// State returns the loader state.
func (c *Cache) State() memo.State {
	return c.loader.State()
}

// Timestamp returns when the snapshot was loaded; zero means never.
func (c *Cache) Timestamp() time.Time {
	return c.loader.Timestamp()
}

// LastError returns the error of the latest failed refresh.
func (c *Cache) LastError() error {
	return c.loader.LastError()
}

// Clear drops the snapshot and returns the cache to its initial state.
func (c *Cache) Clear() {
	c.loader.Clear()
}
