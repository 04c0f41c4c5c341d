package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/transit-proxy/pkg/geo"
	"github.com/Sternrassler/transit-proxy/pkg/logging"
	"github.com/Sternrassler/transit-proxy/pkg/memo"
	"github.com/Sternrassler/transit-proxy/pkg/metrics"
	"github.com/Sternrassler/transit-proxy/pkg/oba"
	"github.com/Sternrassler/transit-proxy/pkg/otp"
	"github.com/Sternrassler/transit-proxy/pkg/routes"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// retryAfterSeconds is sent with 503 responses while the first load runs.
const retryAfterSeconds = "5"

// server owns the caches and serves them over HTTP.
type server struct {
	routes *routes.Cache
	otp    *otp.VersionCache
	redis  *redis.Client
	logger zerolog.Logger

	// ctx outlives requests; background refreshes run under it.
	ctx context.Context
}

func newServer(ctx context.Context, routesCache *routes.Cache, otpCache *otp.VersionCache, redisClient *redis.Client, logger zerolog.Logger) *server {
	return &server{
		routes: routesCache,
		otp:    otpCache,
		redis:  redisClient,
		logger: logger,
		ctx:    ctx,
	}
}

func (s *server) router() http.Handler {
	r := mux.NewRouter()
	r.Use(logging.Middleware(s.logger))

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/oba/routes", s.routesHandler).Methods(http.MethodGet)
	api.HandleFunc("/oba/agencies/{agencyID}/routes", s.agencyRoutesHandler).Methods(http.MethodGet)
	api.HandleFunc("/otp/api-type", s.otpAPITypeHandler).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin/cache").Subrouter()
	admin.HandleFunc("/refresh", s.refreshHandler).Methods(http.MethodPost)
	admin.HandleFunc("/clear", s.clearHandler).Methods(http.MethodPost)

	return r
}

// preloadAll triggers a refresh of both caches.
func (s *server) preloadAll(ctx context.Context, force bool) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.routes.Preload(ctx, force)
	}()
	go func() {
		defer wg.Done()
		s.otp.Preload(ctx, force)
	}()
	wg.Wait()
}

// refreshLoop calls Preload on both caches every interval until ctx ends.
// Fresh caches make the tick a no-op.
func (s *server) refreshLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.preloadAll(ctx, false)
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check: Redis unavailable")
			http.Error(w, "Redis not available", http.StatusServiceUnavailable)
			return
		}
	}

	if _, ok := s.routes.Snapshot(); !ok {
		http.Error(w, "Routes not loaded", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

type routesResponse struct {
	Routes    []oba.Route  `json:"routes"`
	Agencies  []oba.Agency `json:"agencies"`
	Bounds    geo.Bounds   `json:"bounds"`
	Timestamp int64        `json:"timestamp"`
	State     memo.State   `json:"state"`
}

func (s *server) routesHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.routes.Snapshot()
	state, lastErr, ts := s.routes.State(), s.routes.LastError(), s.routes.Timestamp()
	s.routes.Refresh(s.ctx, false)

	if !ok {
		writeUnavailable(w, state, lastErr)
		return
	}

	writeJSON(w, http.StatusOK, routesResponse{
		Routes:    snap.Routes,
		Agencies:  snap.Agencies,
		Bounds:    snap.Bounds,
		Timestamp: ts.UnixMilli(),
		State:     state,
	})
}

func (s *server) agencyRoutesHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.routes.Snapshot()
	state, lastErr := s.routes.State(), s.routes.LastError()
	s.routes.Refresh(s.ctx, false)

	if !ok {
		writeUnavailable(w, state, lastErr)
		return
	}

	agencyID := mux.Vars(r)["agencyID"]
	list, ok := snap.ForAgency(agencyID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agency "+agencyID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agencyId": agencyID,
		"routes":   list,
	})
}

// writeUnavailable answers a read that found no data: 503 while the first
// load may still succeed, 500 once it has failed.
func writeUnavailable(w http.ResponseWriter, state memo.State, lastErr error) {
	if state == memo.StateError {
		msg := "routes could not be loaded"
		if lastErr != nil {
			msg += ": " + lastErr.Error()
		}
		writeError(w, http.StatusInternalServerError, msg)
		return
	}

	w.Header().Set("Retry-After", retryAfterSeconds)
	writeError(w, http.StatusServiceUnavailable, "routes are loading")
}

type apiTypeResponse struct {
	APIType *otp.APIType `json:"apiType"`
	Enabled bool         `json:"enabled"`
}

func (s *server) otpAPITypeHandler(w http.ResponseWriter, r *http.Request) {
	resp := apiTypeResponse{Enabled: s.otp.Enabled()}
	if t := s.otp.APIType(); t != "" {
		resp.APIType = &t
	}
	s.otp.Refresh(s.ctx, false)

	writeJSON(w, http.StatusOK, resp)
}

type cacheStatus struct {
	State     memo.State `json:"state"`
	Timestamp *time.Time `json:"timestamp"`
	Error     string     `json:"error,omitempty"`
}

func (s *server) statuses() map[string]cacheStatus {
	status := func(state memo.State, ts time.Time, err error) cacheStatus {
		cs := cacheStatus{State: state}
		if !ts.IsZero() {
			cs.Timestamp = &ts
		}
		if err != nil {
			cs.Error = err.Error()
		}
		return cs
	}

	return map[string]cacheStatus{
		routes.CacheName: status(s.routes.State(), s.routes.Timestamp(), s.routes.LastError()),
		otp.CacheName:    status(s.otp.State(), s.otp.Timestamp(), s.otp.LastError()),
	}
}

func (s *server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Info().Msg("Forced cache refresh requested")
	s.preloadAll(r.Context(), true)
	writeJSON(w, http.StatusOK, s.statuses())
}

func (s *server) clearHandler(w http.ResponseWriter, r *http.Request) {
	s.routes.Clear()
	s.otp.Clear()
	writeJSON(w, http.StatusOK, s.statuses())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
