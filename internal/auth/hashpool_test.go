// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth_test

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake/keepsake/internal/auth"
	"github.com/keepsake/keepsake/pkg/errutil"
)

// slowVerifier records the peak number of concurrent calls.
type slowVerifier struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (v *slowVerifier) Scheme() auth.Scheme { return auth.SchemePlaintext }

func (v *slowVerifier) Establish(password string) (string, error) {
	v.enter()
	defer v.active.Add(-1)
	time.Sleep(5 * time.Millisecond)
	return password, nil
}

func (v *slowVerifier) Verify(password, stored string) (bool, error) {
	v.enter()
	defer v.active.Add(-1)
	time.Sleep(5 * time.Millisecond)
	return password == stored, nil
}

func (v *slowVerifier) enter() {
	n := v.active.Add(1)
	for {
		p := v.peak.Load()
		if n <= p || v.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func TestHashPool_BoundsConcurrency(t *testing.T) {
	v := &slowVerifier{}
	pool, err := auth.NewHashPool(v, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := pool.Verify(context.Background(), "pw", "pw")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, v.peak.Load(), int32(2))
}

func TestHashPool_CanceledWhileQueued(t *testing.T) {
	pool, err := auth.NewHashPool(&slowVerifier{}, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pool.Establish(ctx, "pw")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "HASH_POOL_CANCELED")
}

func TestNewHashPool(t *testing.T) {
	pool, err := auth.NewHashPool(auth.NewPlaintextVerifier(), 0)
	require.NoError(t, err)
	assert.Equal(t, runtime.GOMAXPROCS(0), pool.Size())
	assert.Equal(t, auth.SchemePlaintext, pool.Scheme())

	_, err = auth.NewHashPool(nil, 1)
	errutil.AssertErrorCode(t, err, "HASH_POOL_INVALID_CONFIG")

	_, err = auth.NewHashPool(auth.NewPlaintextVerifier(), -1)
	errutil.AssertErrorCode(t, err, "HASH_POOL_INVALID_CONFIG")
}
