// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package redis implements auth.SessionRepository on Redis. Expiry is
// delegated to key TTLs, so DeleteExpired has nothing to sweep.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keepsake/keepsake/internal/auth"
)

// DefaultKeyPrefix namespaces every key this package writes.
const DefaultKeyPrefix = "keepsake:"

// NewClient parses a redis:// URL and verifies the server answers a ping.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	redisOpts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_INVALID_URL").With("operation", "parse redis url").Wrap(err)
	}
	client := goredis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", redisOpts.Addr).Wrap(err)
	}
	return client, nil
}

// record is the JSON stored under a session key.
type record struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

func toRecord(s *auth.Session) record {
	return record{
		ID:         s.ID.String(),
		IdentityID: s.IdentityID.String(),
		UserAgent:  s.UserAgent,
		IPAddress:  s.IPAddress,
		ExpiresAt:  s.ExpiresAt,
		CreatedAt:  s.CreatedAt,
		LastSeenAt: s.LastSeenAt,
	}
}

func (r record) session(tokenHash string) (*auth.Session, error) {
	id, err := ulid.Parse(r.ID)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", r.ID).Wrap(err)
	}
	identityID, err := ulid.Parse(r.IdentityID)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_IDENTITY_ID").With("identity_id", r.IdentityID).Wrap(err)
	}
	return &auth.Session{
		ID:         id,
		IdentityID: identityID,
		TokenHash:  tokenHash,
		UserAgent:  r.UserAgent,
		IPAddress:  r.IPAddress,
		ExpiresAt:  r.ExpiresAt,
		CreatedAt:  r.CreatedAt,
		LastSeenAt: r.LastSeenAt,
	}, nil
}

// SessionStore keeps each session under <prefix>session:<token hash> with a
// TTL matching its expiry, and indexes sessions per identity in a set so
// DeleteByIdentity can find them.
type SessionStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewSessionStore creates a SessionStore. An empty prefix selects
// DefaultKeyPrefix.
func NewSessionStore(client goredis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) sessionKey(tokenHash string) string {
	return s.prefix + "session:" + tokenHash
}

func (s *SessionStore) identityKey(identityID string) string {
	return s.prefix + "identity:" + identityID + ":sessions"
}

// Create stores a new session. Token hashes are unique; an existing key
// yields auth.ErrDuplicate.
func (s *SessionStore) Create(ctx context.Context, session *auth.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return oops.Code("SESSION_ALREADY_EXPIRED").
			With("session_id", session.ID.String()).
			Errorf("session expires_at must be in the future")
	}

	data, err := json.Marshal(toRecord(session))
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("operation", "marshal session").Wrap(err)
	}

	created, err := s.client.SetNX(ctx, s.sessionKey(session.TokenHash), data, ttl).Result()
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("operation", "set session").Wrap(err)
	}
	if !created {
		return oops.With("session_id", session.ID.String()).Wrap(auth.ErrDuplicate)
	}

	idxKey := s.identityKey(session.IdentityID.String())
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SAdd(ctx, idxKey, session.TokenHash)
		// The index lives as long as the longest session it references.
		pipe.ExpireGT(ctx, idxKey, ttl)
		pipe.ExpireNX(ctx, idxKey, ttl)
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("operation", "index session").Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (s *SessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(tokenHash)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, oops.Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").With("operation", "get session").Wrap(err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, oops.Code("SESSION_DECODE_FAILED").Wrap(err)
	}
	return rec.session(tokenHash)
}

// UpdateLastSeen rewrites the session keeping its TTL.
func (s *SessionStore) UpdateLastSeen(ctx context.Context, tokenHash string, lastSeen time.Time) error {
	session, err := s.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return err
	}
	session.LastSeenAt = lastSeen

	data, err := json.Marshal(toRecord(session))
	if err != nil {
		return oops.Code("SESSION_UPDATE_LAST_SEEN_FAILED").With("operation", "marshal session").Wrap(err)
	}

	err = s.client.SetArgs(ctx, s.sessionKey(tokenHash), data, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, goredis.Nil) {
		return oops.Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("SESSION_UPDATE_LAST_SEEN_FAILED").With("operation", "set session").Wrap(err)
	}
	return nil
}

// DeleteByTokenHash removes a session.
func (s *SessionStore) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	session, err := s.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(tokenHash))
		pipe.SRem(ctx, s.identityKey(session.IdentityID.String()), tokenHash)
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").With("operation", "delete session").Wrap(err)
	}
	return nil
}

// DeleteByIdentity removes every session for identityID.
func (s *SessionStore) DeleteByIdentity(ctx context.Context, identityID ulid.ULID) error {
	idxKey := s.identityKey(identityID.String())
	hashes, err := s.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_IDENTITY_FAILED").
			With("operation", "list identity sessions").
			With("identity_id", identityID.String()).
			Wrap(err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, s.sessionKey(h))
	}
	keys = append(keys, idxKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return oops.Code("SESSION_DELETE_BY_IDENTITY_FAILED").
			With("operation", "delete identity sessions").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired always reports zero: Redis evicts expired keys itself.
func (s *SessionStore) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionStore)(nil)
