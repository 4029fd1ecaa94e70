// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keepsake/keepsake/pkg/errutil"
)

var tracer = otel.Tracer("keepsake/auth")

// dummyPassword seeds the hash verified for unknown users so that a missing
// account costs the same as a wrong password.
//
//nolint:gosec // G101: not a credential; it is only hashed to equalize timing.
const dummyPassword = "keepsake-timing-equalizer"

// Service coordinates registration, local and federated login, logout and
// protected writes. It holds no per-request state; every event is handled
// independently against the injected stores.
type Service struct {
	identities IdentityRepository
	codec      *SessionCodec
	resolver   *FederatedResolver
	hashes     *HashPool
	guard      AccessGuard
	logger     *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a new Service that logs to slog.Default().
func NewService(identities IdentityRepository, codec *SessionCodec, resolver *FederatedResolver, hashes *HashPool) (*Service, error) {
	return NewServiceWithLogger(identities, codec, resolver, hashes, slog.Default())
}

// NewServiceWithLogger creates a new Service with an explicit logger.
func NewServiceWithLogger(identities IdentityRepository, codec *SessionCodec, resolver *FederatedResolver, hashes *HashPool, logger *slog.Logger) (*Service, error) {
	if identities == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("identities repository is required")
	}
	if codec == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session codec is required")
	}
	if resolver == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("federated resolver is required")
	}
	if hashes == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("hash pool is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("logger is required")
	}
	return &Service{
		identities: identities,
		codec:      codec,
		resolver:   resolver,
		hashes:     hashes,
		logger:     logger,
	}, nil
}

// Guard returns the access guard used for protected paths.
func (s *Service) Guard() AccessGuard {
	return s.guard
}

// Scheme returns the active local password scheme.
func (s *Service) Scheme() Scheme {
	return s.hashes.Scheme()
}

// Register creates a local identity and signs it in.
func (s *Service) Register(ctx context.Context, username, password string, meta ClientMeta) (principal *Principal, token string, err error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer func() { s.finish(ctx, span, EventRegister, err) }()

	if err := ValidateUsername(username); err != nil {
		return nil, "", err
	}
	if password == "" {
		return nil, "", ErrEmptyPassword
	}

	_, lookupErr := s.identities.GetByUsername(ctx, username)
	switch {
	case lookupErr == nil:
		return nil, "", duplicateCredential(username)
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, "", storeUnavailable("get identity by username", lookupErr)
	}

	hash, err := s.hashes.Establish(ctx, password)
	if err != nil {
		return nil, "", err
	}

	identity, err := NewLocalIdentity(username, Credential{Scheme: s.hashes.Scheme(), Hash: hash})
	if err != nil {
		return nil, "", err
	}

	if err := s.identities.Create(ctx, identity); err != nil {
		// A concurrent registration may win between lookup and insert.
		if errors.Is(err, ErrDuplicate) {
			return nil, "", duplicateCredential(username)
		}
		return nil, "", storeUnavailable("create identity", err)
	}

	s.logger.InfoContext(ctx, "registered local identity",
		"identity_id", identity.ID.String(),
		"scheme", string(s.hashes.Scheme()))

	return s.mint(ctx, identity, meta)
}

// Login verifies a local credential and signs the identity in.
//
// Unknown usernames still run a verification against a dummy hash so that
// response time does not reveal which usernames exist. Unknown-user and
// bad-password rejections carry distinct codes for logs and metrics but the
// same message.
func (s *Service) Login(ctx context.Context, username, password string, meta ClientMeta) (principal *Principal, token string, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer func() { s.finish(ctx, span, EventLogin, err) }()

	identity, lookupErr := s.identities.GetByUsername(ctx, username)
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, "", storeUnavailable("get identity by username", lookupErr)
		}
		s.equalizeTiming(ctx, password)
		return nil, "", oops.Code(CodeUnknownUser).
			With("username", username).
			Errorf(invalidCredentialsMessage)
	}

	// Verify runs even while locked to keep timing flat. A locked identity
	// rejects every password the same way and locked attempts are not counted.
	valid, err := s.verify(ctx, identity, password)
	if err != nil {
		return nil, "", err
	}

	if identity.IsLocked() {
		return nil, "", oops.Code(CodeAccountLocked).
			With("identity_id", identity.ID.String()).
			With("locked_until", identity.LockedUntil).
			Errorf("account is temporarily locked")
	}

	if !valid {
		failures, lockedUntil, recordErr := s.identities.RecordFailure(ctx, identity.ID)
		if recordErr != nil {
			s.logger.WarnContext(ctx, "failed to record login failure",
				"identity_id", identity.ID.String(),
				"error", recordErr)
		} else if lockedUntil != nil {
			s.logger.WarnContext(ctx, "identity locked after repeated failures",
				"identity_id", identity.ID.String(),
				"failed_attempts", failures,
				"locked_until", lockedUntil)
		}
		return nil, "", oops.Code(CodeBadCredential).
			With("identity_id", identity.ID.String()).
			With("failed_attempts", failures).
			Errorf(invalidCredentialsMessage)
	}

	if identity.FailedAttempts > 0 || identity.LockedUntil != nil {
		identity.RecordSuccess()
		if updateErr := s.identities.Update(ctx, identity); updateErr != nil {
			// Login succeeds regardless; the counter resets on the next success.
			s.logger.WarnContext(ctx, "failed to reset login failures",
				"identity_id", identity.ID.String(),
				"error", updateErr)
		}
	}

	return s.mint(ctx, identity, meta)
}

// FederatedLogin signs in the identity linked to a provider account,
// creating it on first login. providerUserID is the id asserted by the
// provider after a successful authorization exchange.
func (s *Service) FederatedLogin(ctx context.Context, provider, providerUserID string, meta ClientMeta) (principal *Principal, token string, err error) {
	ctx, span := tracer.Start(ctx, "auth.federated_login",
		trace.WithAttributes(attribute.String("auth.provider", provider)))
	defer func() { s.finish(ctx, span, EventFederated, err) }()

	link := FederatedLink{Provider: provider, ProviderUserID: providerUserID}
	if err := link.Validate(); err != nil {
		return nil, "", ProviderDenied(provider, err)
	}

	identity, created, err := s.resolver.Resolve(ctx, provider, providerUserID)
	if err != nil {
		return nil, "", err
	}
	span.SetAttributes(attribute.Bool("auth.identity_created", created))

	return s.mint(ctx, identity, meta)
}

// Logout revokes the session token. It returns only after the revoke has
// completed so the transport never responds before the session is gone.
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { s.finish(ctx, span, EventLogout, err) }()

	return s.codec.Revoke(ctx, token)
}

// Authenticate resolves a session token to a principal. An absent or stale
// token yields the anonymous principal; only store failures return errors.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	//nolint:wrapcheck // codec errors are already coded
	return s.codec.Resolve(ctx, token)
}

// UpdateSecret replaces the protected payload of the authenticated
// principal's own identity.
func (s *Service) UpdateSecret(ctx context.Context, principal *Principal, secret string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.update_secret")
	defer func() { s.finish(ctx, span, EventSubmit, err) }()

	if err := s.guard.Require(principal); err != nil {
		return err
	}
	if len(secret) > MaxSecretLength {
		return oops.Code(CodeSecretTooLong).
			With("max", MaxSecretLength).
			Errorf("secret must be at most %d bytes", MaxSecretLength)
	}

	id := principal.Identity.ID
	if err := s.identities.UpdateSecret(ctx, id, secret); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeUnauthenticated).
				With("identity_id", id.String()).
				Errorf("identity no longer exists")
		}
		return storeUnavailable("update secret", err)
	}
	principal.Identity.Secret = &secret
	return nil
}

// ProviderDenied builds the rejection for a failed or refused provider
// assertion.
func ProviderDenied(provider string, cause error) error {
	builder := oops.Code(CodeProviderDenied).With("provider", provider)
	if cause != nil {
		builder = builder.With("cause", cause.Error())
	}
	return builder.Errorf("provider %s denied the sign-in", provider)
}

func duplicateCredential(username string) error {
	return oops.Code(CodeDuplicateCredential).
		With("username", username).
		Errorf("username is already registered")
}

func (s *Service) mint(ctx context.Context, identity *Identity, meta ClientMeta) (*Principal, string, error) {
	token, session, err := s.codec.Mint(ctx, identity, meta)
	if err != nil {
		return nil, "", err
	}
	return &Principal{Identity: identity, Session: session}, token, nil
}

// verify checks password against the identity's stored credential. A missing
// credential, a scheme other than the active one, or an unparsable stored form
// is an anomaly: it is logged and reported as AUTH_MALFORMED_CREDENTIAL, which
// callers treat as a failed verification.
func (s *Service) verify(ctx context.Context, identity *Identity, password string) (bool, error) {
	cred := identity.Credential
	if cred == nil || cred.Scheme != s.hashes.Scheme() {
		s.equalizeTiming(ctx, password)
		found := ""
		if cred != nil {
			found = string(cred.Scheme)
		}
		return false, s.malformedAnomaly(ctx, identity, oops.Code(CodeMalformedCredential).
			With("expected_scheme", string(s.hashes.Scheme())).
			With("found_scheme", found).
			Errorf("stored credential does not match the active scheme"))
	}

	valid, err := s.hashes.Verify(ctx, password, cred.Hash)
	if err != nil {
		if ReasonOf(err) == ReasonMalformedCredential {
			return false, s.malformedAnomaly(ctx, identity, err)
		}
		return false, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(err)
	}
	return valid, nil
}

func (s *Service) malformedAnomaly(ctx context.Context, identity *Identity, cause error) error {
	s.logger.WarnContext(ctx, "malformed stored credential",
		"identity_id", identity.ID.String(),
		"error", cause)
	return oops.Code(CodeMalformedCredential).
		With("identity_id", identity.ID.String()).
		Errorf(invalidCredentialsMessage)
}

// equalizeTiming runs one verification against a hash that never matches.
func (s *Service) equalizeTiming(ctx context.Context, password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hashes.Establish(ctx, dummyPassword)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to prepare timing equalizer hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash == "" {
		return
	}
	//nolint:errcheck // result is discarded; only the elapsed time matters
	_, _ = s.hashes.Verify(ctx, password, s.dummyHash)
}

// finish records metrics, logs and closes the span for an orchestrator event.
func (s *Service) finish(ctx context.Context, span trace.Span, event string, err error) {
	defer span.End()

	if err == nil {
		outcome := OutcomeAuthenticated
		if event == EventLogout || event == EventSubmit {
			outcome = OutcomeOK
		}
		RecordAuthEvent(event, outcome, ReasonNone)
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		return
	}

	reason := ReasonOf(err)
	outcome := OutcomeRejected
	if IsRetryable(err) {
		outcome = OutcomeRetryable
	}
	RecordAuthEvent(event, outcome, reason)
	span.SetAttributes(
		attribute.String("auth.outcome", outcome),
		attribute.String("auth.reason", string(reason)),
	)

	switch reason {
	case ReasonStoreUnavailable, ReasonInternal:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		errutil.LogErrorContext(ctx, s.logger, event+" failed", err)
	default:
		s.logger.InfoContext(ctx, event+" rejected", "reason", string(reason))
	}
}
