// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/keepsake/keepsake/internal/auth"
	"github.com/keepsake/keepsake/internal/auth/authtest"
	"github.com/keepsake/keepsake/internal/auth/postgres"
	"github.com/keepsake/keepsake/internal/auth/provider"
	authredis "github.com/keepsake/keepsake/internal/auth/redis"
	"github.com/keepsake/keepsake/internal/config"
	"github.com/keepsake/keepsake/internal/observability"
	"github.com/keepsake/keepsake/internal/store"
)

// stores bundles the repositories chosen by configuration.
type stores struct {
	identities auth.IdentityRepository
	sessions   auth.SessionRepository
	checks     []observability.Check
	closers    []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildStores connects the configured identity and session stores. An empty
// database URL selects the in-memory identity store.
func buildStores(ctx context.Context, cfg *config.Config, deps *ServeDeps, logger *slog.Logger) (*stores, error) {
	out := &stores{}

	if cfg.Database.URL == "" {
		logger.Warn("no database configured; identities are kept in memory and lost on restart")
		out.identities = authtest.NewIdentityStore()
	} else {
		if cfg.Database.AutoMigrate {
			if err := autoMigrate(cfg.Database.URL, deps, logger); err != nil {
				return nil, err
			}
		}
		pool, err := deps.PoolFactory(ctx, cfg.Database.URL, store.PoolConfig{
			MaxConns:        cfg.Database.MaxConns,
			ConnectAttempts: cfg.Database.ConnectAttempts,
			ConnectBackoff:  cfg.Database.ConnectBackoff,
		})
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		out.closers = append(out.closers, pool.Close)
		out.checks = append(out.checks, observability.Check{Name: "database", Probe: pool.Ping})
		out.identities = postgres.NewIdentityRepository(pool)
		if cfg.Sessions.Store == config.SessionStoreDatabase {
			out.sessions = postgres.NewSessionRepository(pool)
		}
	}

	switch cfg.Sessions.Store {
	case config.SessionStoreMemory:
		out.sessions = authtest.NewSessionStore()
	case config.SessionStoreRedis:
		client, err := deps.RedisFactory(ctx, cfg.Sessions.RedisURL)
		if err != nil {
			out.Close()
			return nil, err
		}
		out.closers = append(out.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		})
		out.checks = append(out.checks, observability.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		out.sessions = authredis.NewSessionStore(client, cfg.Sessions.RedisPrefix)
	}
	if out.sessions == nil {
		out.Close()
		return nil, oops.Code("CONFIG_INVALID").
			With("field", "sessions.store").
			Errorf("session store %q is not available with this configuration", cfg.Sessions.Store)
	}
	return out, nil
}

func autoMigrate(databaseURL string, deps *ServeDeps, logger *slog.Logger) error {
	m, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// buildVerifier selects the single active local scheme.
func buildVerifier(cfg config.PasswordConfig) (auth.PasswordVerifier, error) {
	scheme, err := auth.ParseScheme(cfg.Scheme)
	if err != nil {
		return nil, err
	}
	params := auth.DefaultArgon2Params()
	params.Time = cfg.Argon2.Time
	params.Memory = cfg.Argon2.MemoryKiB
	params.Threads = cfg.Argon2.Threads
	return auth.NewPasswordVerifier(auth.VerifierConfig{
		Scheme:     scheme,
		DigestKey:  []byte(cfg.DigestKey),
		BcryptCost: cfg.BcryptCost,
		Argon2:     params,
	})
}

// buildService assembles the orchestrator over the chosen stores.
func buildService(cfg *config.Config, st *stores, logger *slog.Logger) (*auth.Service, *auth.SessionCodec, error) {
	verifier, err := buildVerifier(cfg.Password)
	if err != nil {
		return nil, nil, err
	}
	hashes, err := auth.NewHashPool(verifier, cfg.Password.HashConcurrency)
	if err != nil {
		return nil, nil, err
	}
	codec, err := auth.NewSessionCodec(st.sessions, st.identities, cfg.Sessions.TTL, logger)
	if err != nil {
		return nil, nil, err
	}
	resolver, err := auth.NewFederatedResolver(st.identities, auth.WithResolverLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	svc, err := auth.NewServiceWithLogger(st.identities, codec, resolver, hashes, logger)
	if err != nil {
		return nil, nil, err
	}
	return svc, codec, nil
}

// buildProviders registers every enabled federated provider.
func buildProviders(ctx context.Context, cfg *config.Config) (*provider.Registry, error) {
	var list []provider.Provider

	if g := cfg.Providers.Google; g.Enabled {
		p, err := provider.NewGoogle(ctx, g.Endpoint, provider.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			RedirectURL:  cfg.RedirectURL(provider.NameGoogle),
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if f := cfg.Providers.Facebook; f.Enabled {
		var opts []provider.FacebookOption
		if f.Endpoint != "" {
			opts = append(opts, provider.WithGraphURL(f.Endpoint))
		}
		p, err := provider.NewFacebook(provider.Config{
			ClientID:     f.ClientID,
			ClientSecret: f.ClientSecret,
			RedirectURL:  cfg.RedirectURL(provider.NameFacebook),
		}, opts...)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	return provider.NewRegistry(list...)
}
