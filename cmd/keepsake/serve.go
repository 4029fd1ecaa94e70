// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keepsake/keepsake/internal/auth"
	authredis "github.com/keepsake/keepsake/internal/auth/redis"
	"github.com/keepsake/keepsake/internal/config"
	"github.com/keepsake/keepsake/internal/logging"
	"github.com/keepsake/keepsake/internal/observability"
	"github.com/keepsake/keepsake/internal/store"
	"github.com/keepsake/keepsake/internal/web"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long: `Start the HTTP server with local and federated sign-in, the
protected secret pages and the metrics/health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.PoolFactory == nil {
		deps.PoolFactory = func(ctx context.Context, dsn string, cfg store.PoolConfig) (Pool, error) {
			return store.NewPool(ctx, dsn, cfg)
		}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = defaultMigratorFactory
	}
	if deps.RedisFactory == nil {
		deps.RedisFactory = func(ctx context.Context, url string) (goredis.UniversalClient, error) {
			return authredis.NewClient(ctx, url)
		}
	}
	if deps.ProvidersFactory == nil {
		deps.ProvidersFactory = buildProviders
	}

	cfg, err := config.Load(configPath(), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := logging.SetDefault("keepsake", version, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.Info("starting keepsake",
		"addr", cfg.Server.Addr,
		"session_store", cfg.Sessions.Store,
		"password_scheme", cfg.Password.Scheme,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := buildStores(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, codec, err := buildService(cfg, st, logger)
	if err != nil {
		return err
	}

	providers, err := deps.ProvidersFactory(ctx, cfg)
	if err != nil {
		return oops.Code("PROVIDER_SETUP_FAILED").Wrap(err)
	}
	if names := providers.Names(); len(names) > 0 {
		logger.Info("federated providers enabled", "providers", names)
	}

	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, st.checks,
			auth.AuthEvents, auth.FederatedResolutions, auth.PasswordHashDuration)
		obsErrCh, startErr := obsServer.Start()
		if startErr != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	webServer, err := web.NewServer(svc, providers, web.Options{
		Addr:           cfg.Server.Addr,
		HashKey:        []byte(cfg.Server.CookieHashKey),
		BlockKey:       []byte(cfg.Server.CookieBlockKey),
		SecureCookies:  cfg.Server.SecureCookies,
		SessionTTL:     cfg.Sessions.TTL,
		ProtectedPaths: cfg.Server.ProtectedPaths,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}
	webErrCh, err := webServer.Start()
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}
	go monitorServerErrors(ctx, cancel, webErrCh, "web")

	if cfg.Sessions.SweepInterval > 0 {
		go codec.RunSweeper(ctx, cfg.Sessions.SweepInterval)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Keepsake listening on " + webServer.Addr())
	if deps.OnReady != nil {
		deps.OnReady(webServer.Addr())
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := webServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping web server", "error", err)
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return nil
}

func stopObservability(s *observability.Server, logger *slog.Logger) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports a fatal error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
