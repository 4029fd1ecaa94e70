// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/keepsake/keepsake/pkg/errutil"
)

func TestAssertErrorCode_WrappedChain(t *testing.T) {
	inner := oops.Code("STORE_UNAVAILABLE").Errorf("connection refused")
	err := oops.With("operation", "get identity").Wrap(inner)

	errutil.AssertErrorCode(t, err, "STORE_UNAVAILABLE")
}

func TestAssertErrorContext_MergedAcrossChain(t *testing.T) {
	inner := oops.With("provider", "google").Errorf("denied")
	err := oops.With("step", "token").Wrap(inner)

	errutil.AssertErrorContext(t, err, "provider", "google")
	errutil.AssertErrorContext(t, err, "step", "token")
}

func TestCode(t *testing.T) {
	assert.Equal(t, "AUTH_BAD_CREDENTIAL", errutil.Code(oops.Code("AUTH_BAD_CREDENTIAL").Errorf("x")))
	assert.Empty(t, errutil.Code(oops.Errorf("no code")))
	assert.Empty(t, errutil.Code(errors.New("plain")))
	assert.Empty(t, errutil.Code(nil))
}
