package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hearthhq/calsync/internal/broadcast"
	"github.com/hearthhq/calsync/internal/credentials"
	"github.com/hearthhq/calsync/internal/instrumentation"
	"github.com/hearthhq/calsync/internal/orchestrator"
	"github.com/hearthhq/calsync/internal/realtime"
	"github.com/hearthhq/calsync/internal/reconcile"
	"github.com/hearthhq/calsync/internal/remote"
	"github.com/hearthhq/calsync/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		debugMode      bool
		httpAddr       string
		metricsEnabled bool
		metricsAddr    string
		envFile        string
		tokenFile      string
		pullInterval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service",
		Long: `Run the long-lived sync service: the timer-driven reconciler, the
calendar webhook, and the SSE notification stream.

Configuration:
  Google OAuth (required):
    GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars
    Member refresh tokens are read from the token file (see --token-file).

  Subscriptions (required):
    CALSYNC_JWT_SECRET env var - HMAC key subscription tokens are signed with

  Tenants:
    CALSYNC_TENANTS env var - comma-separated tenantID=memberID pairs naming
    the member whose account backs each household's sync

  Webhook:
    CALSYNC_WEBHOOK_TOKEN env var - optional channel token inbound calendar
    notifications must present`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(serveConfig{
				debug:          debugMode,
				httpAddr:       httpAddr,
				metricsEnabled: metricsEnabled,
				metricsAddr:    metricsAddr,
				envFile:        envFile,
				tokenFile:      tokenFile,
				pullInterval:   pullInterval,
			})
		},
	}

	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&httpAddr, "http-addr", realtime.DefaultAddr, "Client-facing HTTP server address")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", realtime.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "Member token file (default ~/.config/calsync/tokens.json)")
	cmd.Flags().DurationVar(&pullInterval, "pull-interval", 0, "Override the timer-driven pull interval")

	return cmd
}

type serveConfig struct {
	debug          bool
	httpAddr       string
	metricsEnabled bool
	metricsAddr    string
	envFile        string
	tokenFile      string
	pullInterval   time.Duration
}

func runServe(cfg serveConfig) error {
	// A missing env file is fine; explicit configuration wins over it.
	if err := godotenv.Load(cfg.envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading env file %s: %w", cfg.envFile, err)
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if addr := os.Getenv("METRICS_ADDR"); addr != "" && cfg.metricsAddr == realtime.DefaultMetricsAddr {
		cfg.metricsAddr = addr
	}
	if os.Getenv("METRICS_ENABLED") == "false" {
		cfg.metricsEnabled = false
	}

	jwtSecret := os.Getenv("CALSYNC_JWT_SECRET")
	if jwtSecret == "" {
		return fmt.Errorf("CALSYNC_JWT_SECRET is required")
	}

	tenants, err := parseTenants(os.Getenv("CALSYNC_TENANTS"))
	if err != nil {
		return err
	}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("instrumentation shutdown failed", "error", err)
		}
	}()
	metrics := provider.Metrics()

	tokenPath := cfg.tokenFile
	if tokenPath == "" {
		tokenPath, err = credentials.DefaultTokenPath()
		if err != nil {
			return err
		}
	}
	creds := credentials.NewOAuthProvider(nil, credentials.NewFileTokenStore(tokenPath))

	st := store.NewMemory()
	hub := broadcast.NewHub(
		broadcast.WithLogger(logger),
		broadcast.WithConnectionHooks(
			func(string) { metrics.ConnectionOpened(context.Background()) },
			func(string) { metrics.ConnectionClosed(context.Background()) },
		),
	)
	client := remote.NewGoogleClient(creds)
	rec := reconcile.New(st, client, hub,
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(metrics),
	)

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
	}
	if cfg.pullInterval > 0 {
		oc := orchestrator.DefaultConfig()
		oc.PullInterval = cfg.pullInterval
		orchOpts = append(orchOpts, orchestrator.WithConfig(oc))
	}
	orch := orchestrator.New(rec, hub, orchOpts...)
	for tenantID, memberID := range tenants {
		orch.Register(tenantID, memberID)
	}

	srv, err := realtime.NewServer(realtime.Config{
		Addr:         cfg.httpAddr,
		JWTSecret:    []byte(jwtSecret),
		WebhookToken: os.Getenv("CALSYNC_WEBHOOK_TOKEN"),
	}, hub, orch, logger)
	if err != nil {
		return fmt.Errorf("failed to create realtime server: %w", err)
	}

	var metricsServer *realtime.MetricsServer
	if cfg.metricsEnabled && provider.Enabled() && provider.HasPrometheusExporter() {
		metricsServer, err = realtime.NewMetricsServer(cfg.metricsAddr, provider)
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	errCh := make(chan error, 3)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("realtime server: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		logger.Info("metrics server started", "addr", metricsServer.Addr())
	}
	go func() {
		if err := orch.Run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("orchestrator: %w", err)
		}
	}()

	logger.Info("calsync service started",
		"addr", cfg.httpAddr,
		"tenants", len(tenants),
		"version", version,
	)

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		cancel()
		logger.Error("component failed, shutting down", "error", err)
	}

	srv.SetReady(false)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), realtime.DefaultShutdownTimeout)
	defer stopCancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		logger.Error("realtime server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(stopCtx); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
	}
	return nil
}

// parseTenants parses CALSYNC_TENANTS, a comma-separated list of
// tenantID=memberID pairs.
func parseTenants(s string) (map[string]string, error) {
	tenants := make(map[string]string)
	if s == "" {
		return tenants, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tenantID, memberID, ok := strings.Cut(pair, "=")
		if !ok || tenantID == "" || memberID == "" {
			return nil, fmt.Errorf("invalid tenant mapping %q (want tenantID=memberID)", pair)
		}
		tenants[tenantID] = memberID
	}
	return tenants, nil
}
