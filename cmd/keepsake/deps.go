// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package main

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/keepsake/keepsake/internal/auth/provider"
	"github.com/keepsake/keepsake/internal/config"
	"github.com/keepsake/keepsake/internal/store"
)

// Migrator is the subset of store.Migrator used by the CLI.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// Pool is the subset of pgxpool.Pool used by serve.
type Pool interface {
	store.DB
	Ping(ctx context.Context) error
	Close()
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory connects to PostgreSQL.
	// Default: store.NewPool
	PoolFactory func(ctx context.Context, dsn string, cfg store.PoolConfig) (Pool, error)

	// MigratorFactory opens a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// RedisFactory connects to Redis for the redis session store.
	// Default: redis.NewClient
	RedisFactory func(ctx context.Context, url string) (goredis.UniversalClient, error)

	// ProvidersFactory builds the federated provider registry.
	// Default: buildProviders
	ProvidersFactory func(ctx context.Context, cfg *config.Config) (*provider.Registry, error)

	// OnReady is called with the web listen address once serving.
	OnReady func(webAddr string)
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory opens a migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

func defaultMigratorFactory(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}
