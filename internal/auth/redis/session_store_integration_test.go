// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

//go:build integration

package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/keepsake/keepsake/internal/auth"
	"github.com/keepsake/keepsake/internal/auth/redis"
)

func TestSessionStore_AgainstRedis(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := redis.NewClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := redis.NewSessionStore(client, "test:")
	identityID := ulid.Make()

	newSession := func(t *testing.T, ttl time.Duration) *auth.Session {
		t.Helper()
		_, hash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		s, err := auth.NewSession(identityID, hash, auth.ClientMeta{UserAgent: "ua"}, time.Now().Add(ttl))
		require.NoError(t, err)
		return s
	}

	t.Run("create and get", func(t *testing.T) {
		s := newSession(t, time.Hour)
		require.NoError(t, store.Create(ctx, s))

		got, err := store.GetByTokenHash(ctx, s.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)
		assert.Equal(t, identityID, got.IdentityID)

		err = store.Create(ctx, s)
		assert.True(t, errors.Is(err, auth.ErrDuplicate))
	})

	t.Run("ttl expires the session", func(t *testing.T) {
		s := newSession(t, 1100*time.Millisecond)
		require.NoError(t, store.Create(ctx, s))

		require.Eventually(t, func() bool {
			_, err := store.GetByTokenHash(ctx, s.TokenHash)
			return errors.Is(err, auth.ErrNotFound)
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("update last seen keeps ttl", func(t *testing.T) {
		s := newSession(t, time.Hour)
		require.NoError(t, store.Create(ctx, s))

		seen := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
		require.NoError(t, store.UpdateLastSeen(ctx, s.TokenHash, seen))

		got, err := store.GetByTokenHash(ctx, s.TokenHash)
		require.NoError(t, err)
		assert.True(t, seen.Equal(got.LastSeenAt))

		ttl, err := client.TTL(ctx, "test:session:"+s.TokenHash).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 50*time.Minute)
	})

	t.Run("delete by token and by identity", func(t *testing.T) {
		a := newSession(t, time.Hour)
		b := newSession(t, time.Hour)
		require.NoError(t, store.Create(ctx, a))
		require.NoError(t, store.Create(ctx, b))

		require.NoError(t, store.DeleteByTokenHash(ctx, a.TokenHash))
		err := store.DeleteByTokenHash(ctx, a.TokenHash)
		assert.True(t, errors.Is(err, auth.ErrNotFound))

		require.NoError(t, store.DeleteByIdentity(ctx, identityID))
		_, err = store.GetByTokenHash(ctx, b.TokenHash)
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})
}
