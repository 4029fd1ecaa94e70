// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package authtest provides in-memory repositories for tests and for running
// the server without a database.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keepsake/keepsake/internal/auth"
)

// IdentityStore is a thread-safe in-memory auth.IdentityRepository. It
// enforces the same uniqueness rules as the PostgreSQL schema: usernames are
// unique case-insensitively and each federated link belongs to one identity.
type IdentityStore struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]*auth.Identity
	byUsername map[string]ulid.ULID
	byLink     map[auth.FederatedLink]ulid.ULID
}

// NewIdentityStore creates an empty IdentityStore.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		byID:       make(map[ulid.ULID]*auth.Identity),
		byUsername: make(map[string]ulid.ULID),
		byLink:     make(map[auth.FederatedLink]ulid.ULID),
	}
}

// Create stores identity and its links atomically.
func (s *IdentityStore) Create(_ context.Context, identity *auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[identity.ID]; ok {
		return oops.With("identity_id", identity.ID.String()).Wrap(auth.ErrDuplicate)
	}
	if identity.Username != nil {
		if _, ok := s.byUsername[strings.ToLower(*identity.Username)]; ok {
			return oops.With("username", *identity.Username).Wrap(auth.ErrDuplicate)
		}
	}
	for _, link := range identity.Links {
		if _, ok := s.byLink[link]; ok {
			return oops.With("link", link.String()).Wrap(auth.ErrDuplicate)
		}
	}

	stored := clone(identity)
	s.byID[stored.ID] = stored
	if stored.Username != nil {
		s.byUsername[strings.ToLower(*stored.Username)] = stored.ID
	}
	for _, link := range stored.Links {
		s.byLink[link] = stored.ID
	}
	return nil
}

// GetByID returns a copy of the identity with the given ID.
func (s *IdentityStore) GetByID(_ context.Context, id ulid.ULID) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byID[id]
	if !ok {
		return nil, oops.With("identity_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return clone(identity), nil
}

// GetByUsername looks up an identity case-insensitively.
func (s *IdentityStore) GetByUsername(_ context.Context, username string) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, oops.With("username", username).Wrap(auth.ErrNotFound)
	}
	return clone(s.byID[id]), nil
}

// GetByFederatedLink looks up the identity owning the link.
func (s *IdentityStore) GetByFederatedLink(_ context.Context, provider, providerUserID string) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link := auth.FederatedLink{Provider: provider, ProviderUserID: providerUserID}
	id, ok := s.byLink[link]
	if !ok {
		return nil, oops.With("link", link.String()).Wrap(auth.ErrNotFound)
	}
	return clone(s.byID[id]), nil
}

// Update persists credential and lockout fields.
func (s *IdentityStore) Update(_ context.Context, identity *auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[identity.ID]
	if !ok {
		return oops.With("identity_id", identity.ID.String()).Wrap(auth.ErrNotFound)
	}
	if identity.Credential != nil {
		c := *identity.Credential
		stored.Credential = &c
	}
	stored.FailedAttempts = identity.FailedAttempts
	stored.LockedUntil = copyTime(identity.LockedUntil)
	stored.UpdatedAt = time.Now()
	return nil
}

// RecordFailure increments the failure counter under the store lock.
func (s *IdentityStore) RecordFailure(_ context.Context, id ulid.ULID) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return 0, nil, oops.With("identity_id", id.String()).Wrap(auth.ErrNotFound)
	}
	stored.RecordFailure()
	return stored.FailedAttempts, copyTime(stored.LockedUntil), nil
}

// UpdateSecret replaces the protected payload.
func (s *IdentityStore) UpdateSecret(_ context.Context, id ulid.ULID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return oops.With("identity_id", id.String()).Wrap(auth.ErrNotFound)
	}
	stored.Secret = &secret
	stored.UpdatedAt = time.Now()
	return nil
}

// Len returns the number of stored identities.
func (s *IdentityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Delete removes an identity and its index entries.
func (s *IdentityStore) Delete(id ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return
	}
	if identity.Username != nil {
		delete(s.byUsername, strings.ToLower(*identity.Username))
	}
	for _, link := range identity.Links {
		delete(s.byLink, link)
	}
	delete(s.byID, id)
}

func clone(identity *auth.Identity) *auth.Identity {
	c := *identity
	if identity.Username != nil {
		u := *identity.Username
		c.Username = &u
	}
	if identity.Credential != nil {
		cred := *identity.Credential
		c.Credential = &cred
	}
	if identity.Secret != nil {
		secret := *identity.Secret
		c.Secret = &secret
	}
	c.Links = append([]auth.FederatedLink(nil), identity.Links...)
	c.LockedUntil = copyTime(identity.LockedUntil)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SessionStore is a thread-safe in-memory auth.SessionRepository.
type SessionStore struct {
	mu     sync.RWMutex
	byHash map[string]*auth.Session
	now    func() time.Time
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		byHash: make(map[string]*auth.Session),
		now:    time.Now,
	}
}

// Create stores a session; token hashes are unique.
func (s *SessionStore) Create(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[session.TokenHash]; ok {
		return oops.With("session_id", session.ID.String()).Wrap(auth.ErrDuplicate)
	}
	c := *session
	s.byHash[session.TokenHash] = &c
	return nil
}

// GetByTokenHash returns a copy of the session.
func (s *SessionStore) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.byHash[tokenHash]
	if !ok {
		return nil, oops.Wrap(auth.ErrNotFound)
	}
	c := *session
	return &c, nil
}

// UpdateLastSeen touches the session.
func (s *SessionStore) UpdateLastSeen(_ context.Context, tokenHash string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.byHash[tokenHash]
	if !ok {
		return oops.Wrap(auth.ErrNotFound)
	}
	session.LastSeenAt = lastSeen
	return nil
}

// DeleteByTokenHash removes one session.
func (s *SessionStore) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[tokenHash]; !ok {
		return oops.Wrap(auth.ErrNotFound)
	}
	delete(s.byHash, tokenHash)
	return nil
}

// DeleteByIdentity removes every session for identityID.
func (s *SessionStore) DeleteByIdentity(_ context.Context, identityID ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, session := range s.byHash {
		if session.IdentityID == identityID {
			delete(s.byHash, hash)
		}
	}
	return nil
}

// DeleteExpired removes expired sessions.
func (s *SessionStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for hash, session := range s.byHash {
		if session.IsExpiredAt(now) {
			delete(s.byHash, hash)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHash)
}

// Put stores a session verbatim, bypassing uniqueness checks. Tests use it
// to plant expired sessions.
func (s *SessionStore) Put(session *auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *session
	s.byHash[session.TokenHash] = &c
}

var (
	_ auth.IdentityRepository = (*IdentityStore)(nil)
	_ auth.SessionRepository  = (*SessionStore)(nil)
)
