// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by repositories when an insert collides with a
// uniqueness constraint (username, federated link or session token).
var ErrDuplicate = errors.New("duplicate")

// Error codes attached to oops errors returned by this package.
const (
	CodeDuplicateCredential = "AUTH_DUPLICATE_CREDENTIAL"
	CodeUnknownUser         = "AUTH_UNKNOWN_USER"
	CodeBadCredential       = "AUTH_BAD_CREDENTIAL"
	CodeProviderDenied      = "AUTH_PROVIDER_DENIED"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeMalformedCredential = "AUTH_MALFORMED_CREDENTIAL"
	CodeAccountLocked       = "AUTH_ACCOUNT_LOCKED"
	CodeInvalidUsername     = "AUTH_INVALID_USERNAME"
	CodeEmptyPassword       = "AUTH_EMPTY_PASSWORD"
	CodeUnauthenticated     = "AUTH_UNAUTHENTICATED"
	CodeSecretTooLong       = "AUTH_SECRET_TOO_LONG"
)

// invalidCredentialsMessage is shared by unknown-user and bad-credential
// rejections so callers cannot enumerate usernames.
const invalidCredentialsMessage = "invalid username or password"

// Reason classifies why an authentication event did not produce a session.
type Reason string

// Rejection reasons.
const (
	ReasonNone                Reason = ""
	ReasonDuplicateCredential Reason = "duplicate_credential"
	ReasonUnknownUser         Reason = "unknown_user"
	ReasonBadCredential       Reason = "bad_credential"
	ReasonProviderDenied      Reason = "provider_denied"
	ReasonStoreUnavailable    Reason = "store_unavailable"
	ReasonMalformedCredential Reason = "malformed_credential"
	ReasonAccountLocked       Reason = "account_locked"
	ReasonInvalidInput        Reason = "invalid_input"
	ReasonUnauthenticated     Reason = "unauthenticated"
	ReasonInternal            Reason = "internal"
)

// ReasonOf maps an error returned by Service to its rejection reason.
// Unknown errors map to ReasonInternal.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ReasonInternal
	}
	switch oopsErr.Code() {
	case CodeDuplicateCredential:
		return ReasonDuplicateCredential
	case CodeUnknownUser:
		return ReasonUnknownUser
	case CodeBadCredential:
		return ReasonBadCredential
	case CodeProviderDenied:
		return ReasonProviderDenied
	case CodeStoreUnavailable:
		return ReasonStoreUnavailable
	case CodeMalformedCredential:
		return ReasonMalformedCredential
	case CodeAccountLocked:
		return ReasonAccountLocked
	case CodeInvalidUsername, CodeEmptyPassword, CodeSecretTooLong:
		return ReasonInvalidInput
	case CodeUnauthenticated:
		return ReasonUnauthenticated
	default:
		return ReasonInternal
	}
}

// PublicMessage returns the message safe to show an end user for err.
// Unknown-user and bad-credential rejections share one message.
func PublicMessage(err error) string {
	switch ReasonOf(err) {
	case ReasonNone:
		return ""
	case ReasonUnknownUser, ReasonBadCredential, ReasonMalformedCredential:
		return invalidCredentialsMessage
	case ReasonDuplicateCredential:
		return "username is already registered"
	case ReasonProviderDenied:
		return "sign-in with the provider was denied"
	case ReasonAccountLocked:
		return "account is temporarily locked"
	case ReasonInvalidInput:
		if oopsErr, ok := oops.AsOops(err); ok {
			return oopsErr.Error()
		}
		return "invalid input"
	case ReasonUnauthenticated:
		return "please sign in"
	case ReasonStoreUnavailable:
		return "service temporarily unavailable, please retry"
	default:
		return "internal error"
	}
}

// IsRetryable reports whether the caller may retry the same request later.
// Only store outages are retryable; rejections are final.
func IsRetryable(err error) bool {
	return ReasonOf(err) == ReasonStoreUnavailable
}

// storeUnavailable converts a repository failure that is not a not-found or
// duplicate outcome. oops reports the deepest code in a chain, so the cause
// is flattened into context instead of wrapped; otherwise a coded repository
// error would hide STORE_UNAVAILABLE from ReasonOf.
func storeUnavailable(operation string, err error) error {
	builder := oops.Code(CodeStoreUnavailable).
		With("operation", operation).
		With("cause", err.Error())
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil {
			builder = builder.With("cause_code", code)
		}
	}
	return builder.Errorf("store unavailable during %s", operation)
}
