// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"context"
	"runtime"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"
)

// HashPool bounds how many password establish/verify calls run at once.
// Adaptive schemes are CPU bound; without a bound a burst of logins would
// occupy every core and stall unrelated requests.
type HashPool struct {
	verifier PasswordVerifier
	sem      *semaphore.Weighted
	size     int64
}

// NewHashPool wraps verifier with a pool of size slots. Size 0 selects
// GOMAXPROCS.
func NewHashPool(verifier PasswordVerifier, size int) (*HashPool, error) {
	if verifier == nil {
		return nil, oops.Code("HASH_POOL_INVALID_CONFIG").Errorf("password verifier is required")
	}
	if size < 0 {
		return nil, oops.Code("HASH_POOL_INVALID_CONFIG").With("size", size).Errorf("pool size cannot be negative")
	}
	if size == 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &HashPool{
		verifier: verifier,
		sem:      semaphore.NewWeighted(int64(size)),
		size:     int64(size),
	}, nil
}

// Size returns the number of concurrent slots.
func (p *HashPool) Size() int {
	return int(p.size)
}

// Scheme returns the wrapped verifier's scheme.
func (p *HashPool) Scheme() Scheme {
	return p.verifier.Scheme()
}

// Establish runs verifier.Establish in a pool slot.
func (p *HashPool) Establish(ctx context.Context, password string) (string, error) {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", oops.Code("HASH_POOL_CANCELED").With("operation", "establish").Wrap(err)
	}
	defer p.sem.Release(1)
	defer func() { RecordHashDuration(p.verifier.Scheme(), "establish", time.Since(start)) }()

	//nolint:wrapcheck // verifier errors are already coded
	return p.verifier.Establish(password)
}

// Verify runs verifier.Verify in a pool slot.
func (p *HashPool) Verify(ctx context.Context, password, stored string) (bool, error) {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, oops.Code("HASH_POOL_CANCELED").With("operation", "verify").Wrap(err)
	}
	defer p.sem.Release(1)
	defer func() { RecordHashDuration(p.verifier.Scheme(), "verify", time.Since(start)) }()

	//nolint:wrapcheck // verifier errors are already coded
	return p.verifier.Verify(password, stored)
}
