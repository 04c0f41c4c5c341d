// Package httpcache stores upstream transit API responses in Redis so that
// later requests can be revalidated with conditional headers.
//
// Unlike a serving cache, nothing here short-circuits the network: every
// upstream call is still made, but when a stored entry carries an ETag or a
// Last-Modified date the request becomes conditional and a 304 reply is
// answered from Redis. Storing entries in Redis lets every proxy replica
// share the validators.
//
// # Basic Usage
//
//	manager := httpcache.NewManager(redisClient)
//
//	key := httpcache.Key{
//		Endpoint:    "/api/where/routes-for-agency/1.json",
//		QueryParams: req.URL.Query(),
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == nil && httpcache.ShouldMakeConditionalRequest(entry) {
//		httpcache.AddConditionalHeaders(req, entry)
//	}
//
//	// after a 200
//	entry, err = httpcache.ResponseToEntry(resp)
//	_ = manager.Set(ctx, key, entry)
//
//	// after a 304
//	resp = httpcache.EntryToResponse(entry)
//
// # Metrics
//
//   - transit_upstream_cache_hits_total - entries found in Redis
//   - transit_upstream_cache_misses_total - lookups without an entry
//   - transit_upstream_cache_size_bytes - bytes written to Redis
//   - transit_upstream_304_responses_total - successful revalidations
//   - transit_upstream_conditional_requests_total - conditional requests sent
//   - transit_upstream_cache_errors_total{operation} - Redis errors
package httpcache
