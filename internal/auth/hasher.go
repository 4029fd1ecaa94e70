// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// maxArgon2Memory bounds the memory a stored hash may demand (4 GiB).
const maxArgon2Memory = 4 * 1024 * 1024

// Argon2Params tunes the argon2id work factor.
type Argon2Params struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8  // parallelism
	SaltLen uint32 // salt length in bytes
	KeyLen  uint32 // output length in bytes
}

// DefaultArgon2Params returns the OWASP-recommended argon2id parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    1,
		Memory:  64 * 1024, // 64 MB
		Threads: 4,
		SaltLen: 16,
		KeyLen:  32,
	}
}

// Argon2idVerifier implements PasswordVerifier using argon2id.
type Argon2idVerifier struct {
	params Argon2Params
}

// NewArgon2idVerifier creates an Argon2idVerifier. Zero fields fall back to
// DefaultArgon2Params.
func NewArgon2idVerifier(params Argon2Params) (*Argon2idVerifier, error) {
	def := DefaultArgon2Params()
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.Memory == 0 {
		params.Memory = def.Memory
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	if params.SaltLen == 0 {
		params.SaltLen = def.SaltLen
	}
	if params.KeyLen == 0 {
		params.KeyLen = def.KeyLen
	}
	if params.SaltLen < 8 {
		return nil, oops.Code("AUTH_INVALID_ARGON2_PARAMS").
			With("salt_len", params.SaltLen).
			Errorf("argon2 salt must be at least 8 bytes")
	}
	return &Argon2idVerifier{params: params}, nil
}

// Scheme returns SchemeArgon2id.
func (h *Argon2idVerifier) Scheme() Scheme { return SchemeArgon2id }

// Establish produces an argon2id hash of the password.
func (h *Argon2idVerifier) Establish(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// Verify checks if the password matches the encoded hash. The parameters
// embedded in the hash are used, not the configured ones.
func (h *Argon2idVerifier) Verify(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, malformed(SchemeArgon2id, "invalid hash format")
	}

	if parts[1] != "argon2id" {
		return false, malformed(SchemeArgon2id, "unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, malformed(SchemeArgon2id, "invalid version segment: %v", err)
	}
	if version != argon2.Version {
		return false, malformed(SchemeArgon2id, "unsupported argon2 version %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, malformed(SchemeArgon2id, "invalid parameter segment: %v", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, malformed(SchemeArgon2id, "invalid salt encoding: %v", err)
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, malformed(SchemeArgon2id, "invalid hash encoding: %v", err)
	}

	// threads must fit in uint8; argon2.IDKey panics on zero rounds.
	if threads == 0 || threads > 255 {
		return false, malformed(SchemeArgon2id, "threads value %d out of range", threads)
	}
	if time == 0 {
		return false, malformed(SchemeArgon2id, "time parameter must be positive")
	}
	if memory > maxArgon2Memory {
		return false, malformed(SchemeArgon2id, "memory parameter %d exceeds %d KiB", memory, maxArgon2Memory)
	}

	keyLen := len(expectedHash)
	if keyLen <= 0 || keyLen > 1<<30 {
		return false, malformed(SchemeArgon2id, "invalid hash key length: %d", keyLen)
	}

	computedHash := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(keyLen))

	if subtle.ConstantTimeCompare(computedHash, expectedHash) == 1 {
		return true, nil
	}

	return false, nil
}
