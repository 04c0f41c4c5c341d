// Package otp detects which API an OpenTripPlanner server speaks and caches
// the answer.
//
// OTP 2.x serves trip planning over GraphQL while 1.x uses the REST planner.
// The dialect is read from the server info document at the base URL.
package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// APIType is the trip planning dialect of an OTP server.
type APIType string

const (
	// APITypeGraphQL is spoken by OTP 2.x and later.
	APITypeGraphQL APIType = "graphql"

	// APITypeREST is spoken by OTP 1.x.
	APITypeREST APIType = "rest"
)

// maxInfoBytes caps how much of the server info document is read.
const maxInfoBytes = 1 << 20

var probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "otp_probe_total",
	Help: "OTP API type probes by result",
}, []string{"result"})

// serverInfo is the part of the OTP server info document we read.
type serverInfo struct {
	Version *struct {
		Major *int `json:"major"`
	} `json:"version"`
}

// Prober issues the detection request.
type Prober struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewProber creates a prober for baseURL. A nil httpClient gets a 30s timeout.
func NewProber(baseURL, userAgent string, httpClient *http.Client, logger zerolog.Logger) *Prober {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Prober{
		baseURL:    strings.TrimSpace(baseURL),
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
	}
}

// BaseURL returns the probed URL.
func (p *Prober) BaseURL() string {
	return p.baseURL
}

// Detect requests the base URL and classifies the server. A JSON document
// with version.major >= 2 means GraphQL; any other successful response,
// including non-JSON ones, means REST.
func (p *Prober) Detect(ctx context.Context) (APIType, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	if err != nil {
		return "", &ProbeError{URL: p.baseURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		probesTotal.WithLabelValues("network_error").Inc()
		return "", &ProbeError{URL: p.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		probesTotal.WithLabelValues("status_error").Inc()
		return "", &ProbeError{URL: p.baseURL, StatusCode: resp.StatusCode}
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		probesTotal.WithLabelValues(string(APITypeREST)).Inc()
		p.logger.Debug().
			Str("content_type", resp.Header.Get("Content-Type")).
			Msg("Non-JSON server info, assuming REST")
		return APITypeREST, nil
	}

	var info serverInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxInfoBytes)).Decode(&info); err != nil {
		probesTotal.WithLabelValues("decode_error").Inc()
		return "", &ProbeError{URL: p.baseURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %w", ErrDecode, err)}
	}

	apiType := APITypeREST
	if info.Version != nil && info.Version.Major != nil && *info.Version.Major >= 2 {
		apiType = APITypeGraphQL
	}

	probesTotal.WithLabelValues(string(apiType)).Inc()
	return apiType, nil
}
