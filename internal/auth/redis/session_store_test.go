// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake/keepsake/internal/auth"
	"github.com/keepsake/keepsake/pkg/errutil"
)

func TestRecordRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	s := &auth.Session{
		ID:         ulid.Make(),
		IdentityID: ulid.Make(),
		TokenHash:  "abc",
		UserAgent:  "ua",
		IPAddress:  "10.0.0.1",
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
		LastSeenAt: now,
	}

	got, err := toRecord(s).session("abc")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestRecordRejectsBadIDs(t *testing.T) {
	_, err := record{ID: "nope", IdentityID: ulid.Make().String()}.session("h")
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_ID")

	_, err = record{ID: ulid.Make().String(), IdentityID: "nope"}.session("h")
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_IDENTITY_ID")
}

func TestSessionStore_Keys(t *testing.T) {
	s := NewSessionStore(nil, "")
	assert.Equal(t, "keepsake:session:h", s.sessionKey("h"))
	assert.Equal(t, "keepsake:identity:X:sessions", s.identityKey("X"))

	custom := NewSessionStore(nil, "test:")
	assert.Equal(t, "test:session:h", custom.sessionKey("h"))
}

func TestSessionStore_CreateRejectsExpired(t *testing.T) {
	s := NewSessionStore(nil, "")
	err := s.Create(context.Background(), &auth.Session{ID: ulid.Make(), ExpiresAt: time.Now().Add(-time.Second)})
	errutil.AssertErrorCode(t, err, "SESSION_ALREADY_EXPIRED")
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "http://not-redis")
	errutil.AssertErrorCode(t, err, "REDIS_INVALID_URL")
}
