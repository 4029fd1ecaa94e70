// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keepsake/keepsake/pkg/errutil"
)

// Principal is the caller resolved from a session token. The zero value is
// the anonymous principal.
type Principal struct {
	Identity *Identity
	Session  *Session
}

// Anonymous returns a principal with no identity.
func Anonymous() *Principal {
	return &Principal{}
}

// IdentityID returns the bound identity ID, or the zero ULID when anonymous.
func (p *Principal) IdentityID() ulid.ULID {
	if p == nil || p.Identity == nil {
		return ulid.ULID{}
	}
	return p.Identity.ID
}

// SessionCodec mints, resolves and revokes server-tracked sessions. The only
// value bound into a session is the identity ID.
type SessionCodec struct {
	sessions   SessionRepository
	identities IdentityRepository
	ttl        time.Duration
	logger     *slog.Logger
}

// NewSessionCodec creates a SessionCodec. A zero ttl selects
// DefaultSessionTokenExpiry; a nil logger selects slog.Default().
func NewSessionCodec(sessions SessionRepository, identities IdentityRepository, ttl time.Duration, logger *slog.Logger) (*SessionCodec, error) {
	if sessions == nil {
		return nil, oops.Code("CODEC_INVALID_CONFIG").Errorf("sessions repository is required")
	}
	if identities == nil {
		return nil, oops.Code("CODEC_INVALID_CONFIG").Errorf("identities repository is required")
	}
	if ttl < 0 {
		return nil, oops.Code("CODEC_INVALID_CONFIG").With("ttl", ttl).Errorf("session ttl cannot be negative")
	}
	if ttl == 0 {
		ttl = DefaultSessionTokenExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCodec{
		sessions:   sessions,
		identities: identities,
		ttl:        ttl,
		logger:     logger,
	}, nil
}

// TTL returns the lifetime of newly minted sessions.
func (c *SessionCodec) TTL() time.Duration {
	return c.ttl
}

// Mint creates a session bound to identity.ID and returns the plaintext
// token for the client.
func (c *SessionCodec) Mint(ctx context.Context, identity *Identity, meta ClientMeta) (string, *Session, error) {
	if identity == nil {
		return "", nil, oops.Code("SESSION_INVALID_IDENTITY").Errorf("identity cannot be nil")
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return "", nil, oops.Code("SESSION_MINT_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(identity.ID, tokenHash, meta, time.Now().Add(c.ttl))
	if err != nil {
		return "", nil, oops.Code("SESSION_MINT_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := c.sessions.Create(ctx, session); err != nil {
		return "", nil, storeUnavailable("persist session", err)
	}

	return token, session, nil
}

// Resolve returns the principal bound to token. Missing, unknown and expired
// tokens, and sessions whose identity no longer exists, resolve to the
// anonymous principal without error. Only store failures return an error.
func (c *SessionCodec) Resolve(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return Anonymous(), nil
	}

	tokenHash := HashSessionToken(token)

	session, err := c.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Anonymous(), nil
		}
		return nil, storeUnavailable("get session by token hash", err)
	}

	if session.IsExpired() {
		c.discard(ctx, tokenHash, "session expired")
		return Anonymous(), nil
	}

	identity, err := c.identities.GetByID(ctx, session.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.discard(ctx, tokenHash, "identity no longer exists")
			return Anonymous(), nil
		}
		return nil, storeUnavailable("get identity by id", err)
	}

	now := time.Now()
	if err := c.sessions.UpdateLastSeen(ctx, tokenHash, now); err != nil {
		c.logger.DebugContext(ctx, "failed to update session last seen",
			"session_id", session.ID.String(),
			"error", err)
	} else {
		session.LastSeenAt = now
	}

	return &Principal{Identity: identity, Session: session}, nil
}

// Revoke invalidates token. Revoking an unknown or empty token is not an
// error.
func (c *SessionCodec) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := c.sessions.DeleteByTokenHash(ctx, HashSessionToken(token))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return storeUnavailable("delete session", err)
	}
	return nil
}

// RevokeAll invalidates every session bound to identityID.
func (c *SessionCodec) RevokeAll(ctx context.Context, identityID ulid.ULID) error {
	if err := c.sessions.DeleteByIdentity(ctx, identityID); err != nil && !errors.Is(err, ErrNotFound) {
		return storeUnavailable("delete sessions by identity", err)
	}
	return nil
}

// SweepExpired removes expired sessions from the store.
func (c *SessionCodec) SweepExpired(ctx context.Context) (int64, error) {
	n, err := c.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, storeUnavailable("delete expired sessions", err)
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (c *SessionCodec) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.SweepExpired(ctx)
			if err != nil {
				errutil.LogError(c.logger, "session sweep failed", err)
				continue
			}
			if n > 0 {
				c.logger.InfoContext(ctx, "swept expired sessions", "count", n)
			}
		}
	}
}

func (c *SessionCodec) discard(ctx context.Context, tokenHash, reason string) {
	if err := c.sessions.DeleteByTokenHash(ctx, tokenHash); err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.WarnContext(ctx, "failed to discard stale session",
			"reason", reason,
			"error", err)
	}
}
