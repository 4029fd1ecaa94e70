// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"encoding/base64"
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the cost the original deployments used.
const DefaultBcryptCost = 10

// BcryptVerifier stores salted bcrypt hashes with a configurable cost.
//
// bcrypt only reads the first 72 bytes of its input, so the password is
// first reduced to a base64 BLAKE2b-256 digest (44 bytes). Passwords of any
// length are accepted and every byte counts.
type BcryptVerifier struct {
	cost int
}

// NewBcryptVerifier creates a BcryptVerifier. A zero cost selects
// DefaultBcryptCost.
func NewBcryptVerifier(cost int) (*BcryptVerifier, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("AUTH_INVALID_BCRYPT_COST").
			With("cost", cost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptVerifier{cost: cost}, nil
}

// Scheme returns SchemeBcrypt.
func (v *BcryptVerifier) Scheme() Scheme { return SchemeBcrypt }

// Cost returns the configured work factor.
func (v *BcryptVerifier) Cost() int { return v.cost }

// Establish hashes the password with a fresh salt.
func (v *BcryptVerifier) Establish(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword(bcryptInput(password), v.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").
			With("scheme", string(SchemeBcrypt)).
			Wrap(err)
	}
	return string(hash), nil
}

// Verify re-derives the hash using the salt and cost embedded in stored.
func (v *BcryptVerifier) Verify(password, stored string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(stored), bcryptInput(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, malformed(SchemeBcrypt, "invalid bcrypt hash: %v", err)
	}
}

func bcryptInput(password string) []byte {
	sum := blake2b.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}
