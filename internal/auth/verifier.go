// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/blake2b"
)

// Scheme names the strategy that produced a stored credential.
type Scheme string

// Supported password schemes. Exactly one is active per deployment.
const (
	SchemePlaintext Scheme = "plaintext"
	SchemeDigest    Scheme = "digest"
	SchemeBcrypt    Scheme = "bcrypt"
	SchemeArgon2id  Scheme = "argon2id"
)

// Schemes lists every supported scheme in order of increasing strength.
func Schemes() []Scheme {
	return []Scheme{SchemePlaintext, SchemeDigest, SchemeBcrypt, SchemeArgon2id}
}

// ParseScheme validates a configured scheme name.
func ParseScheme(name string) (Scheme, error) {
	for _, s := range Schemes() {
		if string(s) == strings.ToLower(strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return "", oops.Code("AUTH_UNKNOWN_SCHEME").
		With("scheme", name).
		Errorf("unknown password scheme %q", name)
}

// ErrEmptyPassword is returned when attempting to establish an empty password.
var ErrEmptyPassword = oops.Code(CodeEmptyPassword).Errorf("password cannot be empty")

// PasswordVerifier proves or establishes a local credential.
type PasswordVerifier interface {
	// Scheme identifies the stored forms this verifier produces.
	Scheme() Scheme

	// Establish derives the stored form for a raw password.
	Establish(password string) (string, error)

	// Verify checks a raw password against a stored form.
	// Returns (true, nil) on match, (false, nil) on mismatch, and
	// (false, AUTH_MALFORMED_CREDENTIAL) when the stored form cannot be parsed.
	Verify(password, stored string) (bool, error)
}

// VerifierConfig selects and tunes the deployment's PasswordVerifier.
type VerifierConfig struct {
	Scheme     Scheme
	DigestKey  []byte
	BcryptCost int
	Argon2     Argon2Params
}

// NewPasswordVerifier builds the verifier for cfg.Scheme.
func NewPasswordVerifier(cfg VerifierConfig) (PasswordVerifier, error) {
	switch cfg.Scheme {
	case SchemePlaintext:
		return NewPlaintextVerifier(), nil
	case SchemeDigest:
		return NewDigestVerifier(cfg.DigestKey)
	case SchemeBcrypt:
		return NewBcryptVerifier(cfg.BcryptCost)
	case SchemeArgon2id:
		return NewArgon2idVerifier(cfg.Argon2)
	default:
		return nil, oops.Code("AUTH_UNKNOWN_SCHEME").
			With("scheme", string(cfg.Scheme)).
			Errorf("unknown password scheme %q", cfg.Scheme)
	}
}

func malformed(scheme Scheme, format string, args ...any) error {
	return oops.Code(CodeMalformedCredential).
		With("scheme", string(scheme)).
		Errorf(format, args...)
}

// PlaintextVerifier stores passwords unchanged.
//
// It is insecure and exists only for compatibility with the earliest
// deployments; never select it for new data.
type PlaintextVerifier struct{}

// NewPlaintextVerifier creates a PlaintextVerifier.
func NewPlaintextVerifier() *PlaintextVerifier {
	return &PlaintextVerifier{}
}

// Scheme returns SchemePlaintext.
func (v *PlaintextVerifier) Scheme() Scheme { return SchemePlaintext }

// Establish returns the password unchanged.
func (v *PlaintextVerifier) Establish(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	return password, nil
}

// Verify compares the password with the stored value in constant time.
func (v *PlaintextVerifier) Verify(password, stored string) (bool, error) {
	if stored == "" {
		return false, malformed(SchemePlaintext, "stored credential is empty")
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1, nil
}

// digestPrefix tags DigestVerifier stored forms.
const digestPrefix = "$blake2b-256$"

// DigestVerifier stores a keyed BLAKE2b-256 digest of the password.
//
// The key is shared by the whole deployment and there is no per-user salt,
// so equal passwords produce equal digests and precomputed tables apply.
type DigestVerifier struct {
	key []byte
}

// NewDigestVerifier creates a DigestVerifier. An empty key yields an unkeyed
// digest. BLAKE2b accepts keys up to 64 bytes.
func NewDigestVerifier(key []byte) (*DigestVerifier, error) {
	if len(key) > blake2b.Size {
		return nil, oops.Code("AUTH_INVALID_DIGEST_KEY").
			With("max", blake2b.Size).
			Errorf("digest key must be at most %d bytes", blake2b.Size)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &DigestVerifier{key: k}, nil
}

// Scheme returns SchemeDigest.
func (v *DigestVerifier) Scheme() Scheme { return SchemeDigest }

// Establish returns the hex digest of the password.
func (v *DigestVerifier) Establish(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	sum, err := v.sum(password)
	if err != nil {
		return "", err
	}
	return digestPrefix + hex.EncodeToString(sum), nil
}

// Verify recomputes the digest and compares in constant time.
func (v *DigestVerifier) Verify(password, stored string) (bool, error) {
	encoded, ok := strings.CutPrefix(stored, digestPrefix)
	if !ok {
		return false, malformed(SchemeDigest, "stored credential is not a blake2b-256 digest")
	}
	expected, err := hex.DecodeString(encoded)
	if err != nil || len(expected) != blake2b.Size256 {
		return false, malformed(SchemeDigest, "stored digest has invalid encoding")
	}
	computed, err := v.sum(password)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func (v *DigestVerifier) sum(password string) ([]byte, error) {
	h, err := blake2b.New256(v.key)
	if err != nil {
		return nil, oops.Code("AUTH_DIGEST_FAILED").Wrap(err)
	}
	h.Write([]byte(password))
	return h.Sum(nil), nil
}
