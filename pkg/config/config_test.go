package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OBA_SERVER_URL", "https://api.pugetsound.onebusaway.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "test", cfg.OBAAPIKey)
	assert.Empty(t, cfg.OTPServerURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "transit-proxy/0.1.0", cfg.UserAgent)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 15*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 10.0, cfg.UpstreamRPS)
	assert.Equal(t, 5, cfg.AgencyConcurrency)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("OBA_SERVER_URL", "http://localhost:8080")
	t.Setenv("OBA_API_KEY", "secret")
	t.Setenv("OTP_SERVER_URL", "http://localhost:8081/otp")
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CACHE_TTL", "10m")
	t.Setenv("REFRESH_INTERVAL", "0s")
	t.Setenv("AGENCY_CONCURRENCY", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "secret", cfg.OBAAPIKey)
	assert.Equal(t, "http://localhost:8081/otp", cfg.OTPServerURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Zero(t, cfg.RefreshInterval)
	assert.Equal(t, 2, cfg.AgencyConcurrency)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing OBA url", env: map[string]string{}},
		{name: "malformed OBA url", env: map[string]string{"OBA_SERVER_URL": "not a url"}},
		{name: "malformed OTP url", env: map[string]string{"OBA_SERVER_URL": "http://oba", "OTP_SERVER_URL": "::"}},
		{name: "unknown log level", env: map[string]string{"OBA_SERVER_URL": "http://oba", "LOG_LEVEL": "verbose"}},
		{name: "zero ttl", env: map[string]string{"OBA_SERVER_URL": "http://oba", "CACHE_TTL": "0s"}},
		{name: "bad port", env: map[string]string{"OBA_SERVER_URL": "http://oba", "PORT": "70000"}},
		{name: "unparsable duration", env: map[string]string{"OBA_SERVER_URL": "http://oba", "UPSTREAM_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OBA_SERVER_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := Config{}.RedisOptions()
	require.NoError(t, err)
	assert.Nil(t, opts)

	opts, err = Config{RedisURL: "localhost:6379"}.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	opts, err = Config{RedisURL: "redis://redis:6380/2"}.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	_, err = Config{RedisURL: "redis://redis:6380/notadb"}.RedisOptions()
	assert.Error(t, err)
}
