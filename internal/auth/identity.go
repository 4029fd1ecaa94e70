// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 64
)

// usernameRegex matches usernames that start with a letter and continue with
// letters, digits, dots, dashes, underscores, or a single @ so that email
// addresses are accepted as usernames.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._\-]*(@[a-zA-Z0-9.\-]+)?$`)

// MaxSecretLength bounds the protected payload.
const MaxSecretLength = 4096

// Credential is a stored local credential tagged with its scheme.
type Credential struct {
	Scheme Scheme
	Hash   string
}

// FederatedLink binds an identity to an account at an external provider.
type FederatedLink struct {
	Provider       string
	ProviderUserID string
}

// String renders the link as provider:id for logs.
func (l FederatedLink) String() string {
	return l.Provider + ":" + l.ProviderUserID
}

// Identity is the persisted user: a local credential, federated links, or
// both, keyed by an immutable ID.
type Identity struct {
	ID             ulid.ULID
	Username       *string
	Credential     *Credential
	Links          []FederatedLink
	Secret         *string
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewLocalIdentity creates an identity established by local registration.
func NewLocalIdentity(username string, credential Credential) (*Identity, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if credential.Scheme == "" || credential.Hash == "" {
		return nil, oops.Code("IDENTITY_INVALID_CREDENTIAL").
			Errorf("local identity requires a credential")
	}
	now := time.Now()
	return &Identity{
		ID:         ulid.Make(),
		Username:   &username,
		Credential: &credential,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NewFederatedIdentity creates an identity established by a first federated
// login. It carries exactly one link and no local credential.
func NewFederatedIdentity(link FederatedLink) (*Identity, error) {
	if err := link.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Identity{
		ID:        ulid.Make(),
		Links:     []FederatedLink{link},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks that both halves of the link are present.
func (l FederatedLink) Validate() error {
	if strings.TrimSpace(l.Provider) == "" {
		return oops.Code("IDENTITY_INVALID_LINK").Errorf("provider cannot be empty")
	}
	if strings.TrimSpace(l.ProviderUserID) == "" {
		return oops.Code("IDENTITY_INVALID_LINK").
			With("provider", l.Provider).
			Errorf("provider user id cannot be empty")
	}
	return nil
}

// HasLink reports whether the identity is linked to the given account.
func (i *Identity) HasLink(provider, providerUserID string) bool {
	for _, l := range i.Links {
		if l.Provider == provider && l.ProviderUserID == providerUserID {
			return true
		}
	}
	return false
}

// DisplayName returns the username, or the first federated link for
// identities created by a provider.
func (i *Identity) DisplayName() string {
	if i.Username != nil {
		return *i.Username
	}
	if len(i.Links) > 0 {
		return i.Links[0].String()
	}
	return i.ID.String()
}

// IsLocked returns true if the identity is currently locked out.
func (i *Identity) IsLocked() bool {
	return IsLockedOut(i.LockedUntil)
}

// RecordFailure increments the failure counter and sets lockout if threshold reached.
func (i *Identity) RecordFailure() {
	i.FailedAttempts++
	i.LockedUntil = ComputeLockoutTime(i.FailedAttempts)
	i.UpdatedAt = time.Now()
}

// RecordSuccess resets failure counter and lockout.
func (i *Identity) RecordSuccess() {
	i.FailedAttempts, i.LockedUntil = ResetOnSuccess()
	i.UpdatedAt = time.Now()
}

// ValidateUsername validates a username against rules.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeInvalidUsername).Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code(CodeInvalidUsername).
			Errorf("username must start with a letter and contain only letters, numbers, dots, dashes, underscores, or an email domain")
	}
	return nil
}

// IdentityRepository manages identity persistence.
//
// Implementations return errors wrapping ErrNotFound for missing records and
// ErrDuplicate for uniqueness violations; anything else is a store failure.
type IdentityRepository interface {
	// Create stores a new identity together with its federated links in one
	// atomic step.
	Create(ctx context.Context, identity *Identity) error

	// GetByID retrieves an identity by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Identity, error)

	// GetByUsername retrieves an identity by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Identity, error)

	// GetByFederatedLink retrieves the identity linked to the given account.
	GetByFederatedLink(ctx context.Context, provider, providerUserID string) (*Identity, error)

	// Update persists credential and lockout changes.
	Update(ctx context.Context, identity *Identity) error

	// RecordFailure atomically increments the failed-login counter and
	// locks the identity for LockoutDuration once the counter reaches
	// LockoutThreshold. It returns the counter and lockout after the write.
	RecordFailure(ctx context.Context, id ulid.ULID) (failures int, lockedUntil *time.Time, err error)

	// UpdateSecret replaces the protected payload.
	UpdateSecret(ctx context.Context, id ulid.ULID, secret string) error
}
