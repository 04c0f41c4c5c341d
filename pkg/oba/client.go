// Package oba provides a OneBusAway REST API client with request pacing,
// upstream 429 backoff, Redis-backed revalidation and retry handling.
package oba

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/transit-proxy/pkg/httpcache"
	"github.com/Sternrassler/transit-proxy/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for OBA client operations.
var (
	obaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oba_requests_total",
		Help: "Total OBA requests by endpoint and status",
	}, []string{"endpoint", "status"})

	obaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oba_request_duration_seconds",
		Help:    "OBA request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	obaErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oba_errors_total",
		Help: "Total OBA errors by class",
	}, []string{"class"})
)

const (
	agenciesWithCoveragePath = "/api/where/agencies-with-coverage.json"
	routesForAgencyPath      = "/api/where/routes-for-agency/"
)

// Client is a OneBusAway REST API client.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	apiKey      string
	userAgent   string
	rateLimiter *ratelimit.Tracker
	memoryStore *ratelimit.MemoryStore
	cache       *httpcache.Manager
	retryConfig func(ErrorClass) RetryConfig
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the OBA server root, e.g. "https://api.pugetsound.onebusaway.org"
	BaseURL string

	// APIKey is sent as the "key" query parameter
	APIKey string

	// UserAgent header for outbound requests
	UserAgent string

	// Timeout bounds a single HTTP exchange
	Timeout time.Duration

	// Redis is optional; when set, responses are stored for conditional
	// revalidation and the 429 backoff is shared across replicas
	Redis *redis.Client

	// Outbound pacing
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:           baseURL,
		APIKey:            apiKey,
		UserAgent:         "transit-proxy/0.1.0",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

// New creates a new OBA client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "oba-client").Logger()

	c := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     base,
		apiKey:      cfg.APIKey,
		userAgent:   cfg.UserAgent,
		retryConfig: RetryConfigForErrorClass,
		logger:      logger,
	}

	var store ratelimit.Store
	if cfg.Redis != nil {
		store = ratelimit.NewRedisStore(cfg.Redis)
		c.cache = httpcache.NewManager(cfg.Redis)
	} else {
		c.memoryStore = ratelimit.NewMemoryStore()
		store = c.memoryStore
	}
	c.rateLimiter = ratelimit.NewTracker(store, cfg.RequestsPerSecond, cfg.Burst, logger.With().Str("component", "ratelimit").Logger())

	return c, nil
}

// Do performs an HTTP request with rate limiting, conditional revalidation
// and retries. Non-retriable error statuses are returned to the caller as a
// response, not as an error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := endpointLabel(req.URL.Path)

	startTime := time.Now()
	defer func() {
		obaRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: upstream backoff
	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Rate limit check failed, continuing")
	} else if !allowed {
		obaRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return nil, &APIError{
			Endpoint:   endpoint,
			StatusCode: http.StatusTooManyRequests,
			ErrorClass: ErrorClassRateLimit,
			Message:    "backoff active",
			Err:        ErrRateLimited,
		}
	}

	// Step 2: pacing
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	// Step 3: conditional request from a stored response
	cacheKey := httpcache.Key{
		Upstream:    "oba",
		Endpoint:    req.URL.Path,
		QueryParams: req.URL.Query(),
	}

	var cachedEntry *httpcache.Entry
	if c.cache != nil {
		cachedEntry, err = c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, httpcache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
		if httpcache.ShouldMakeConditionalRequest(cachedEntry) {
			httpcache.AddConditionalHeaders(req, cachedEntry)
			httpcache.ConditionalRequestsSent.Inc()
			c.logger.Debug().
				Str("endpoint", endpoint).
				Str("etag", cachedEntry.ETag).
				Msg("Making conditional request")
		}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing OBA request")

	// Step 4: execute with retries
	var resp *http.Response
	retryErr := retryWithBackoff(ctx, c.logger, c.retryConfig, func() (ErrorClass, error) {
		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			c.logger.Warn().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			obaErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			obaRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return ErrorClassNetwork, &APIError{
				Endpoint:   endpoint,
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        reqErr,
			}
		}

		if err := c.rateLimiter.UpdateFromResponse(ctx, resp); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record rate limit backoff")
		}

		if resp.StatusCode == http.StatusNotModified {
			return "", nil
		}

		errClass := classifyStatus(resp.StatusCode)
		if errClass == "" {
			obaRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			return "", nil
		}

		obaErrorsTotal.WithLabelValues(string(errClass)).Inc()
		obaRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("OBA request error")

		if shouldRetry(errClass) {
			resp.Body.Close()
			return errClass, &APIError{
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Message:    resp.Status,
			}
		}

		// let the caller handle the status
		return "", nil
	})

	if retryErr != nil {
		return nil, retryErr
	}

	// Step 5: 304 Not Modified
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Info().Str("endpoint", endpoint).Msg("304 Not Modified - using stored response")
		obaRequestsTotal.WithLabelValues(endpoint, "304").Inc()
		httpcache.NotModifiedResponses.Inc()

		if expiresStr := resp.Header.Get("Expires"); expiresStr != "" {
			if newExpires, err := http.ParseTime(expiresStr); err == nil {
				if err := c.cache.Touch(ctx, cacheKey, cachedEntry, newExpires); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
				}
			}
		}

		resp.Body.Close()
		return httpcache.EntryToResponse(cachedEntry), nil
	}

	// Step 6: store for later revalidation
	if c.cache != nil && resp.StatusCode == http.StatusOK {
		entry, err := httpcache.ResponseToEntry(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if httpcache.ShouldMakeConditionalRequest(entry) {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache response")
			}
		}
	}

	return resp, nil
}

// getJSON fetches an OBA endpoint and decodes its envelope.
func getJSON[T any](ctx context.Context, c *Client, path string) (*Response[T], error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	endpoint := endpointLabel(path)

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}
	}

	var body Response[T]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		obaErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "invalid JSON",
			Err:        fmt.Errorf("%w: %w", ErrDecode, err),
		}
	}

	if body.Code != 0 && body.Code != http.StatusOK {
		errClass := classifyStatus(body.Code)
		if errClass == "" {
			errClass = ErrorClassClient
		}
		obaErrorsTotal.WithLabelValues(string(errClass)).Inc()
		return nil, &APIError{
			Endpoint:   endpoint,
			StatusCode: body.Code,
			ErrorClass: errClass,
			Message:    body.Text,
		}
	}

	return &body, nil
}

// ListAgenciesWithCoverage returns every agency with its coverage area.
// Agency names are filled from the references block.
func (c *Client) ListAgenciesWithCoverage(ctx context.Context) ([]Agency, error) {
	body, err := getJSON[ListData[Agency]](ctx, c, agenciesWithCoveragePath)
	if err != nil {
		return nil, err
	}

	lookup := body.Data.References.AgencyLookup()
	agencies := make([]Agency, 0, len(body.Data.List))
	for _, a := range body.Data.List {
		if a.Name == "" {
			if ref, ok := lookup[a.AgencyID]; ok {
				a.Name = ref.Name
			}
		}
		agencies = append(agencies, a)
	}

	return agencies, nil
}

// ListRoutesForAgency returns the routes operated by one agency together
// with the references block of the response.
func (c *Client) ListRoutesForAgency(ctx context.Context, agencyID string) (*RouteList, error) {
	if agencyID == "" {
		return nil, fmt.Errorf("agency id is required")
	}

	body, err := getJSON[ListData[Route]](ctx, c, routesForAgencyPath+url.PathEscape(agencyID)+".json")
	if err != nil {
		return nil, err
	}

	return &RouteList{
		Routes:     body.Data.List,
		References: body.Data.References,
	}, nil
}

// endpointLabel turns a request path into a low-cardinality metric label,
// e.g. "/api/where/routes-for-agency/1.json" -> "routes-for-agency".
func endpointLabel(path string) string {
	p := strings.TrimPrefix(path, "/api/where/")
	if i := strings.Index(p, "/"); i >= 0 {
		p = p[:i]
	}
	return strings.TrimSuffix(p, ".json")
}

// Close releases background resources.
func (c *Client) Close() error {
	if c.memoryStore != nil {
		c.memoryStore.Close()
	}
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimiter returns the request gate (for testing).
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
