// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/keepsake/keepsake/internal/auth"
)

// --- Mock implementations ---

type mockIdentityRepository struct {
	mock.Mock
}

func (m *mockIdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	return m.Called(ctx, identity).Error(0)
}

func (m *mockIdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Identity), args.Error(1)
}

func (m *mockIdentityRepository) GetByUsername(ctx context.Context, username string) (*auth.Identity, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Identity), args.Error(1)
}

func (m *mockIdentityRepository) GetByFederatedLink(ctx context.Context, provider, providerUserID string) (*auth.Identity, error) {
	args := m.Called(ctx, provider, providerUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Identity), args.Error(1)
}

func (m *mockIdentityRepository) Update(ctx context.Context, identity *auth.Identity) error {
	return m.Called(ctx, identity).Error(0)
}

func (m *mockIdentityRepository) RecordFailure(ctx context.Context, id ulid.ULID) (int, *time.Time, error) {
	args := m.Called(ctx, id)
	lockedUntil, _ := args.Get(1).(*time.Time)
	return args.Int(0), lockedUntil, args.Error(2)
}

func (m *mockIdentityRepository) UpdateSecret(ctx context.Context, id ulid.ULID, secret string) error {
	return m.Called(ctx, id, secret).Error(0)
}

type mockSessionRepository struct {
	mock.Mock
}

func (m *mockSessionRepository) Create(ctx context.Context, session *auth.Session) error {
	return m.Called(ctx, session).Error(0)
}

func (m *mockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Session), args.Error(1)
}

func (m *mockSessionRepository) UpdateLastSeen(ctx context.Context, tokenHash string, lastSeen time.Time) error {
	return m.Called(ctx, tokenHash, lastSeen).Error(0)
}

func (m *mockSessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	return m.Called(ctx, tokenHash).Error(0)
}

func (m *mockSessionRepository) DeleteByIdentity(ctx context.Context, identityID ulid.ULID) error {
	return m.Called(ctx, identityID).Error(0)
}

func (m *mockSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Scheme() auth.Scheme {
	return m.Called().Get(0).(auth.Scheme)
}

func (m *mockVerifier) Establish(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *mockVerifier) Verify(password, stored string) (bool, error) {
	args := m.Called(password, stored)
	return args.Bool(0), args.Error(1)
}
