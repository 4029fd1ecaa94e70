// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"github.com/samber/oops"
)

// AccessGuard is the single check that decides whether a resolved principal
// may reach a protected resource. Every protected read and write path must
// consult the same guard.
type AccessGuard struct{}

// IsAuthenticated reports whether p denotes an authenticated identity with a
// live session.
func (AccessGuard) IsAuthenticated(p *Principal) bool {
	if p == nil || p.Identity == nil || p.Session == nil {
		return false
	}
	if p.Session.IdentityID != p.Identity.ID {
		return false
	}
	return !p.Session.IsExpired()
}

// Require returns AUTH_UNAUTHENTICATED unless p is authenticated.
func (g AccessGuard) Require(p *Principal) error {
	if g.IsAuthenticated(p) {
		return nil
	}
	return oops.Code(CodeUnauthenticated).Errorf("authentication required")
}
