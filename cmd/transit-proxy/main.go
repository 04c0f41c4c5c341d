// Command transit-proxy serves cached OneBusAway route data and the detected
// OpenTripPlanner API type to the rider web application.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/transit-proxy/pkg/config"
	"github.com/Sternrassler/transit-proxy/pkg/logging"
	"github.com/Sternrassler/transit-proxy/pkg/memo"
	"github.com/Sternrassler/transit-proxy/pkg/oba"
	"github.com/Sternrassler/transit-proxy/pkg/otp"
	"github.com/Sternrassler/transit-proxy/pkg/routes"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	flagPort     int
	flagLogLevel string

	rootCmd = &cobra.Command{
		Use:           "transit-proxy",
		Short:         "Caching proxy for OneBusAway and OpenTripPlanner",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          run,
	}
)

func init() {
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP listen port (overrides PORT)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "transit-proxy:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed("port") {
		cfg.Port = flagPort
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}

	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	logger := logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	obaCfg := oba.DefaultConfig(cfg.OBAServerURL, cfg.OBAAPIKey)
	obaCfg.UserAgent = cfg.UserAgent
	obaCfg.Timeout = cfg.UpstreamTimeout
	obaCfg.RequestsPerSecond = cfg.UpstreamRPS
	obaCfg.Redis = redisClient

	obaClient, err := oba.New(obaCfg)
	if err != nil {
		return fmt.Errorf("create OBA client: %w", err)
	}
	defer obaClient.Close()

	routesCache := routes.New(obaClient, cfg.AgencyConcurrency, memo.WithTTL(cfg.CacheTTL))

	prober := otp.NewProber(cfg.OTPServerURL, cfg.UserAgent,
		&http.Client{Timeout: cfg.UpstreamTimeout}, logging.NewLogger("otp"))
	otpCache := otp.NewVersionCache(prober, memo.WithTTL(cfg.CacheTTL))

	srv := newServer(ctx, routesCache, otpCache, redisClient, logging.NewLogger("http"))

	// best effort: the server answers 503 until the first load lands
	go srv.preloadAll(ctx, false)
	go srv.refreshLoop(ctx, cfg.RefreshInterval)

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("oba", cfg.OBAServerURL).
			Bool("otp_enabled", otpCache.Enabled()).
			Bool("redis", redisClient != nil).
			Str("version", Version).
			Msg("Starting transit proxy")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}

// connectRedis returns nil when Redis is not configured. A configured but
// unreachable Redis is a startup error.
func connectRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	opts, err := cfg.RedisOptions()
	if err != nil || opts == nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to Redis at %s: %w", opts.Addr, err)
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return client, nil
}
