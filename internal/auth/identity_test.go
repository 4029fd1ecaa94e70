// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake/keepsake/internal/auth"
	"github.com/keepsake/keepsake/pkg/errutil"
)

func TestValidateUsername(t *testing.T) {
	valid := []string{"alice", "Bob_99", "carol.smith", "dave@example.com", "e-v-e"}
	for _, u := range valid {
		t.Run("valid/"+u, func(t *testing.T) {
			assert.NoError(t, auth.ValidateUsername(u))
		})
	}

	invalid := []string{"", "ab", "9lives", "has space", "two@@signs", strings.Repeat("a", auth.MaxUsernameLength+1)}
	for _, u := range invalid {
		t.Run("invalid/"+u, func(t *testing.T) {
			err := auth.ValidateUsername(u)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, auth.CodeInvalidUsername)
		})
	}
}

func TestNewLocalIdentity(t *testing.T) {
	identity, err := auth.NewLocalIdentity("alice", auth.Credential{Scheme: auth.SchemeBcrypt, Hash: "$2a$..."})
	require.NoError(t, err)
	require.NotNil(t, identity.Username)
	assert.Equal(t, "alice", *identity.Username)
	assert.Empty(t, identity.Links)
	assert.Equal(t, "alice", identity.DisplayName())

	_, err = auth.NewLocalIdentity("alice", auth.Credential{})
	errutil.AssertErrorCode(t, err, "IDENTITY_INVALID_CREDENTIAL")
}

func TestNewFederatedIdentity(t *testing.T) {
	link := auth.FederatedLink{Provider: "google", ProviderUserID: "g-123"}
	identity, err := auth.NewFederatedIdentity(link)
	require.NoError(t, err)
	assert.Nil(t, identity.Username)
	assert.Nil(t, identity.Credential)
	assert.Equal(t, []auth.FederatedLink{link}, identity.Links)
	assert.True(t, identity.HasLink("google", "g-123"))
	assert.False(t, identity.HasLink("facebook", "g-123"))
	assert.Equal(t, "google:g-123", identity.DisplayName())

	_, err = auth.NewFederatedIdentity(auth.FederatedLink{Provider: "google"})
	errutil.AssertErrorCode(t, err, "IDENTITY_INVALID_LINK")
	_, err = auth.NewFederatedIdentity(auth.FederatedLink{ProviderUserID: "x"})
	errutil.AssertErrorCode(t, err, "IDENTITY_INVALID_LINK")
}
