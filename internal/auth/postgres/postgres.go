// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/keepsake/keepsake/internal/auth"
)

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return pgErr, true
	}
	return nil, false
}

// duplicate wraps auth.ErrDuplicate so callers can classify the conflict,
// keeping the violated constraint for logs.
func duplicate(pgErr *pgconn.PgError, operation string) error {
	return oops.
		With("operation", operation).
		With("constraint", pgErr.ConstraintName).
		Wrap(auth.ErrDuplicate)
}
