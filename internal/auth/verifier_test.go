// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/keepsake/keepsake/internal/auth"
	"github.com/keepsake/keepsake/pkg/errutil"
)

// fastArgon2 keeps argon2id tests quick.
var fastArgon2 = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

func verifiersUnderTest(t *testing.T) map[auth.Scheme]auth.PasswordVerifier {
	t.Helper()
	out := make(map[auth.Scheme]auth.PasswordVerifier)
	for _, scheme := range auth.Schemes() {
		v, err := auth.NewPasswordVerifier(auth.VerifierConfig{
			Scheme:     scheme,
			DigestKey:  []byte("deployment-key"),
			BcryptCost: bcrypt.MinCost,
			Argon2:     fastArgon2,
		})
		require.NoError(t, err, "scheme %s", scheme)
		require.Equal(t, scheme, v.Scheme())
		out[scheme] = v
	}
	return out
}

func TestPasswordVerifier_RoundTrip(t *testing.T) {
	for scheme, v := range verifiersUnderTest(t) {
		t.Run(string(scheme), func(t *testing.T) {
			stored, err := v.Establish("correct horse")
			require.NoError(t, err)

			ok, err := v.Verify("correct horse", stored)
			require.NoError(t, err)
			assert.True(t, ok, "established password must verify")

			ok, err = v.Verify("wrong horse", stored)
			require.NoError(t, err)
			assert.False(t, ok, "different password must not verify")
		})
	}
}

func TestPasswordVerifier_RejectsEmptyPassword(t *testing.T) {
	for scheme, v := range verifiersUnderTest(t) {
		t.Run(string(scheme), func(t *testing.T) {
			_, err := v.Establish("")
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, auth.CodeEmptyPassword)
		})
	}
}

func TestPasswordVerifier_MalformedStored(t *testing.T) {
	cases := map[auth.Scheme][]string{
		auth.SchemePlaintext: {""},
		auth.SchemeDigest:    {"", "deadbeef", "$blake2b-256$zz", "$blake2b-256$abcd"},
		auth.SchemeBcrypt:    {"", "not-a-bcrypt-hash"},
		auth.SchemeArgon2id: {
			"",
			"$argon2id$v=19$m=1024,t=1,p=1$salt",
			"$bcrypt$v=19$m=1024,t=1,p=1$c2FsdHNhbHQ$aGFzaA",
			"$argon2id$v=18$m=1024,t=1,p=1$c2FsdHNhbHQ$aGFzaA",
			"$argon2id$v=19$m=1024,t=0,p=1$c2FsdHNhbHQ$aGFzaA",
			"$argon2id$v=19$m=1024,t=1,p=0$c2FsdHNhbHQ$aGFzaA",
			"$argon2id$v=19$m=1024,t=1,p=300$c2FsdHNhbHQ$aGFzaA",
			"$argon2id$v=19$m=99999999,t=1,p=1$c2FsdHNhbHQ$aGFzaA",
			"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
			"$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHQ$!!!",
		},
	}
	verifiers := verifiersUnderTest(t)
	for scheme, inputs := range cases {
		for _, stored := range inputs {
			t.Run(string(scheme)+"/"+stored, func(t *testing.T) {
				ok, err := verifiers[scheme].Verify("password", stored)
				assert.False(t, ok)
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, auth.CodeMalformedCredential)
			})
		}
	}
}

func TestPasswordVerifier_SaltedSchemesDiffer(t *testing.T) {
	verifiers := verifiersUnderTest(t)
	for _, scheme := range []auth.Scheme{auth.SchemeBcrypt, auth.SchemeArgon2id} {
		t.Run(string(scheme), func(t *testing.T) {
			a, err := verifiers[scheme].Establish("same password")
			require.NoError(t, err)
			b, err := verifiers[scheme].Establish("same password")
			require.NoError(t, err)
			assert.NotEqual(t, a, b)
		})
	}
}

func TestDigestVerifier(t *testing.T) {
	t.Run("is deterministic per key", func(t *testing.T) {
		v, err := auth.NewDigestVerifier([]byte("k1"))
		require.NoError(t, err)
		a, err := v.Establish("pw")
		require.NoError(t, err)
		b, err := v.Establish("pw")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.True(t, strings.HasPrefix(a, "$blake2b-256$"))
	})

	t.Run("key changes the digest", func(t *testing.T) {
		v1, err := auth.NewDigestVerifier([]byte("k1"))
		require.NoError(t, err)
		v2, err := auth.NewDigestVerifier([]byte("k2"))
		require.NoError(t, err)
		stored, err := v1.Establish("pw")
		require.NoError(t, err)

		ok, err := v2.Verify("pw", stored)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rejects oversized key", func(t *testing.T) {
		_, err := auth.NewDigestVerifier(make([]byte, 65))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_DIGEST_KEY")
	})
}

func TestPlaintextVerifier_StoresPasswordUnchanged(t *testing.T) {
	v := auth.NewPlaintextVerifier()
	stored, err := v.Establish("hunter2")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", stored)
}

func TestBcryptVerifier(t *testing.T) {
	t.Run("zero cost selects default", func(t *testing.T) {
		v, err := auth.NewBcryptVerifier(0)
		require.NoError(t, err)
		assert.Equal(t, auth.DefaultBcryptCost, v.Cost())
	})

	t.Run("rejects out of range cost", func(t *testing.T) {
		_, err := auth.NewBcryptVerifier(bcrypt.MaxCost + 1)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_BCRYPT_COST")
	})

	t.Run("embeds cost in stored form", func(t *testing.T) {
		v, err := auth.NewBcryptVerifier(bcrypt.MinCost)
		require.NoError(t, err)
		stored, err := v.Establish("pw")
		require.NoError(t, err)
		cost, err := bcrypt.Cost([]byte(stored))
		require.NoError(t, err)
		assert.Equal(t, bcrypt.MinCost, cost)
	})

	t.Run("accepts passwords longer than 72 bytes", func(t *testing.T) {
		v, err := auth.NewBcryptVerifier(bcrypt.MinCost)
		require.NoError(t, err)
		long := strings.Repeat("p", 73)
		stored, err := v.Establish(long)
		require.NoError(t, err)

		ok, err := v.Verify(long, stored)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = v.Verify(long+"x", stored)
		require.NoError(t, err)
		assert.False(t, ok, "bytes past 72 must still count")

		ok, err = v.Verify(long[:72], stored)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestArgon2idVerifier(t *testing.T) {
	t.Run("encodes parameters in PHC format", func(t *testing.T) {
		v, err := auth.NewArgon2idVerifier(fastArgon2)
		require.NoError(t, err)
		stored, err := v.Establish("pw")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(stored, "$argon2id$v=19$m=1024,t=1,p=1$"))
	})

	t.Run("verifies with the parameters embedded in the hash", func(t *testing.T) {
		v1, err := auth.NewArgon2idVerifier(fastArgon2)
		require.NoError(t, err)
		stored, err := v1.Establish("pw")
		require.NoError(t, err)

		other := fastArgon2
		other.Time = 2
		v2, err := auth.NewArgon2idVerifier(other)
		require.NoError(t, err)
		ok, err := v2.Verify("pw", stored)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejects short salt", func(t *testing.T) {
		p := fastArgon2
		p.SaltLen = 4
		_, err := auth.NewArgon2idVerifier(p)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_ARGON2_PARAMS")
	})
}

func TestParseScheme(t *testing.T) {
	s, err := auth.ParseScheme(" BCRYPT ")
	require.NoError(t, err)
	assert.Equal(t, auth.SchemeBcrypt, s)

	_, err = auth.ParseScheme("md5")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_UNKNOWN_SCHEME")
}

func TestNewPasswordVerifier_UnknownScheme(t *testing.T) {
	_, err := auth.NewPasswordVerifier(auth.VerifierConfig{Scheme: "rot13"})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_UNKNOWN_SCHEME")
}
