// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package provider

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/samber/oops"
	"golang.org/x/oauth2"
)

const stateBytes = 32

// GenerateState returns a random value binding an authorization request to
// the browser that started it.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("PROVIDER_STATE_FAILED").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateVerifier returns a fresh PKCE code verifier.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// Challenge returns the S256 code challenge for verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

func exchangeFailed(name, step string, err error) error {
	return oops.Code("PROVIDER_EXCHANGE_FAILED").
		With("provider", name).
		With("step", step).
		Wrap(err)
}
