// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keepsake/keepsake/internal/auth"
	"github.com/keepsake/keepsake/internal/store"
)

const identityColumns = `i.id, i.username, i.credential_scheme, i.credential_hash, i.secret,
		       i.failed_attempts, i.locked_until, i.created_at, i.updated_at`

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	db store.DB
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(db store.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create inserts the identity and its federated links in one transaction.
// A unique violation on the username or on a link returns auth.ErrDuplicate.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("IDENTITY_CREATE_FAILED").With("operation", "begin transaction").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // the insert error is what matters
		}
	}()

	var scheme, hash *string
	if identity.Credential != nil {
		s := string(identity.Credential.Scheme)
		scheme, hash = &s, &identity.Credential.Hash
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO identities (
			id, username, credential_scheme, credential_hash, secret,
			failed_attempts, locked_until, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		identity.ID.String(),
		identity.Username,
		scheme,
		hash,
		identity.Secret,
		identity.FailedAttempts,
		identity.LockedUntil,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if pgErr, ok := isUniqueViolation(err); ok {
			return duplicate(pgErr, "insert identity")
		}
		return oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			With("identity_id", identity.ID.String()).
			Wrap(err)
	}

	for _, link := range identity.Links {
		_, err = tx.Exec(ctx, `
			INSERT INTO federated_links (provider, provider_user_id, identity_id, created_at)
			VALUES ($1, $2, $3, $4)
		`, link.Provider, link.ProviderUserID, identity.ID.String(), identity.CreatedAt)
		if err != nil {
			if pgErr, ok := isUniqueViolation(err); ok {
				return duplicate(pgErr, "insert federated link")
			}
			return oops.Code("IDENTITY_CREATE_FAILED").
				With("operation", "insert federated link").
				With("provider", link.Provider).
				Wrap(err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		if pgErr, ok := isUniqueViolation(err); ok {
			return duplicate(pgErr, "commit identity")
		}
		return oops.Code("IDENTITY_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities i WHERE i.id = $1`, id.String())
	return r.get(ctx, row, "id", id.String())
}

// GetByUsername retrieves an identity by username (case-insensitive).
func (r *IdentityRepository) GetByUsername(ctx context.Context, username string) (*auth.Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities i WHERE LOWER(i.username) = LOWER($1)`, username)
	return r.get(ctx, row, "username", username)
}

// GetByFederatedLink retrieves the identity that owns the provider account.
func (r *IdentityRepository) GetByFederatedLink(ctx context.Context, provider, providerUserID string) (*auth.Identity, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM identities i
		JOIN federated_links l ON l.identity_id = i.id
		WHERE l.provider = $1 AND l.provider_user_id = $2
	`, provider, providerUserID)
	return r.get(ctx, row, "link", provider+":"+providerUserID)
}

// Update persists credential and lockout changes.
func (r *IdentityRepository) Update(ctx context.Context, identity *auth.Identity) error {
	var scheme, hash *string
	if identity.Credential != nil {
		s := string(identity.Credential.Scheme)
		scheme, hash = &s, &identity.Credential.Hash
	}
	identity.UpdatedAt = time.Now()

	result, err := r.db.Exec(ctx, `
		UPDATE identities
		SET credential_scheme = $2, credential_hash = $3,
		    failed_attempts = $4, locked_until = $5, updated_at = $6
		WHERE id = $1
	`, identity.ID.String(), scheme, hash, identity.FailedAttempts, identity.LockedUntil, identity.UpdatedAt)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "update identity").
			With("identity_id", identity.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.With("identity_id", identity.ID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// RecordFailure increments failed_attempts in a single statement so that
// concurrent bad logins never lose a count.
func (r *IdentityRepository) RecordFailure(ctx context.Context, id ulid.ULID) (int, *time.Time, error) {
	now := time.Now()
	var (
		failures    int
		lockedUntil *time.Time
	)
	err := r.db.QueryRow(ctx, `
		UPDATE identities
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3::timestamptz ELSE NULL END,
		    updated_at = $4
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`, id.String(), auth.LockoutThreshold, now.Add(auth.LockoutDuration), now).Scan(&failures, &lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, oops.With("identity_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, nil, oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "record login failure").
			With("identity_id", id.String()).
			Wrap(err)
	}
	return failures, lockedUntil, nil
}

// UpdateSecret replaces the protected payload.
func (r *IdentityRepository) UpdateSecret(ctx context.Context, id ulid.ULID, secret string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE identities SET secret = $2, updated_at = $3 WHERE id = $1
	`, id.String(), secret, time.Now())
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_SECRET_FAILED").
			With("operation", "update secret").
			With("identity_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.With("identity_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func (r *IdentityRepository) get(ctx context.Context, row pgx.Row, key, value string) (*auth.Identity, error) {
	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").
			With("operation", "get identity by "+key).
			Wrap(err)
	}

	links, err := r.links(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	identity.Links = links
	return identity, nil
}

func (r *IdentityRepository) links(ctx context.Context, id ulid.ULID) ([]auth.FederatedLink, error) {
	rows, err := r.db.Query(ctx, `
		SELECT provider, provider_user_id FROM federated_links
		WHERE identity_id = $1
		ORDER BY created_at, provider
	`, id.String())
	if err != nil {
		return nil, oops.Code("IDENTITY_LINKS_FAILED").
			With("operation", "list federated links").
			With("identity_id", id.String()).
			Wrap(err)
	}
	defer rows.Close()

	var links []auth.FederatedLink
	for rows.Next() {
		var link auth.FederatedLink
		if err := rows.Scan(&link.Provider, &link.ProviderUserID); err != nil {
			return nil, oops.Code("IDENTITY_LINKS_FAILED").With("operation", "scan federated link").Wrap(err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("IDENTITY_LINKS_FAILED").With("operation", "iterate federated links").Wrap(err)
	}
	return links, nil
}

// scanIdentity scans one identity row. pgx.ErrNoRows is returned unchanged.
func scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var (
		idStr       string
		username    *string
		scheme      *string
		hash        *string
		secret      *string
		failed      int
		lockedUntil *time.Time
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := row.Scan(&idStr, &username, &scheme, &hash, &secret, &failed, &lockedUntil, &createdAt, &updatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with lookup context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("IDENTITY_INVALID_ID").With("id", idStr).Wrap(err)
	}

	identity := &auth.Identity{
		ID:             id,
		Username:       username,
		Secret:         secret,
		FailedAttempts: failed,
		LockedUntil:    lockedUntil,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if scheme != nil && hash != nil {
		identity.Credential = &auth.Credential{Scheme: auth.Scheme(*scheme), Hash: *hash}
	}
	return identity, nil
}

// Compile-time interface check.
var _ auth.IdentityRepository = (*IdentityRepository)(nil)
