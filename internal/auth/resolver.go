// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Resolution outcomes recorded by FederatedResolver.
const (
	ResolutionHit       = "hit"
	ResolutionCreated   = "created"
	ResolutionConverged = "converged"
	ResolutionError     = "error"
)

// Default conflict-retry policy.
const (
	DefaultResolveRetries = 5
	DefaultResolveBackoff = 10 * time.Millisecond
)

// FederatedResolver maps a provider-scoped account to exactly one identity,
// creating it on first sight.
//
// Uniqueness is enforced by the repository (a unique key on provider and
// provider user id), not by an in-process lock, so any number of server
// instances may resolve concurrently. The loser of a creation race sees
// ErrDuplicate and retries as a lookup.
type FederatedResolver struct {
	identities IdentityRepository
	retries    uint64
	backoff    time.Duration
	logger     *slog.Logger
}

// ResolverOption configures a FederatedResolver.
type ResolverOption func(*FederatedResolver)

// WithResolveRetries sets how many lookups the loser of a creation race makes.
func WithResolveRetries(n uint64) ResolverOption {
	return func(r *FederatedResolver) { r.retries = n }
}

// WithResolveBackoff sets the base delay between conflict lookups.
func WithResolveBackoff(d time.Duration) ResolverOption {
	return func(r *FederatedResolver) { r.backoff = d }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *FederatedResolver) { r.logger = logger }
}

// NewFederatedResolver creates a FederatedResolver.
func NewFederatedResolver(identities IdentityRepository, opts ...ResolverOption) (*FederatedResolver, error) {
	if identities == nil {
		return nil, oops.Code("RESOLVER_INVALID_CONFIG").Errorf("identities repository is required")
	}
	r := &FederatedResolver{
		identities: identities,
		retries:    DefaultResolveRetries,
		backoff:    DefaultResolveBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.backoff <= 0 {
		return nil, oops.Code("RESOLVER_INVALID_CONFIG").With("backoff", r.backoff).Errorf("backoff must be positive")
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Resolve returns the identity linked to (provider, providerUserID), creating
// it with exactly that link when absent. created reports whether this call
// created the record. A hit is a pure read: the record is not modified.
func (r *FederatedResolver) Resolve(ctx context.Context, provider, providerUserID string) (identity *Identity, created bool, err error) {
	link := FederatedLink{Provider: provider, ProviderUserID: providerUserID}
	if err := link.Validate(); err != nil {
		return nil, false, err
	}

	defer func() {
		if err != nil {
			RecordFederatedResolution(provider, ResolutionError)
		}
	}()

	identity, err = r.lookup(ctx, link)
	if err == nil {
		RecordFederatedResolution(provider, ResolutionHit)
		return identity, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, storeUnavailable("get identity by federated link", err)
	}

	candidate, err := NewFederatedIdentity(link)
	if err != nil {
		return nil, false, err
	}

	err = r.identities.Create(ctx, candidate)
	if err == nil {
		RecordFederatedResolution(provider, ResolutionCreated)
		r.logger.InfoContext(ctx, "created federated identity",
			"identity_id", candidate.ID.String(),
			"provider", provider)
		return candidate, true, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return nil, false, storeUnavailable("create federated identity", err)
	}

	// Another caller created the record first; converge on theirs.
	identity, err = r.converge(ctx, link)
	if err != nil {
		return nil, false, err
	}
	RecordFederatedResolution(provider, ResolutionConverged)
	r.logger.DebugContext(ctx, "federated identity creation lost race, converged on existing record",
		"identity_id", identity.ID.String(),
		"provider", provider)
	return identity, false, nil
}

func (r *FederatedResolver) lookup(ctx context.Context, link FederatedLink) (*Identity, error) {
	//nolint:wrapcheck // callers classify not-found vs store failure
	return r.identities.GetByFederatedLink(ctx, link.Provider, link.ProviderUserID)
}

// converge re-reads the link after a uniqueness conflict. The winning insert
// may not be visible yet on every replica, so not-found is retried with
// backoff; any other failure stops immediately.
func (r *FederatedResolver) converge(ctx context.Context, link FederatedLink) (*Identity, error) {
	backoff := retry.WithMaxRetries(r.retries, retry.NewExponential(r.backoff))

	var found *Identity
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		identity, err := r.lookup(ctx, link)
		if err == nil {
			found = identity
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeStoreUnavailable).
				With("operation", "converge federated identity").
				With("provider", link.Provider).
				With("attempts", r.retries+1).
				Errorf("federated link conflict did not converge")
		}
		return nil, storeUnavailable("converge federated identity", err)
	}
	return found, nil
}
