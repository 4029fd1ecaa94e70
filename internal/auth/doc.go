// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package auth authenticates Keepsake users and carries who they are across
// requests.
//
// # Domain Types
//
// Identity records are created with their constructors:
//   - NewLocalIdentity - a username plus an established credential
//   - NewFederatedIdentity - exactly one provider link, no local credential
//   - NewSession - a server-side session keyed by the hash of its token
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
//   - Service - register, login, federated login, logout and secret updates
//   - SessionCodec - mints, resolves and revokes session tokens
//   - FederatedResolver - find-or-create of identities keyed by provider link
//   - AccessGuard - the one authorization check for protected resources
//   - HashPool - bounds concurrent password hashing
//
// Failures carry an oops code. ReasonOf maps a code to a Reason and
// PublicMessage to text safe to show an end user; unknown usernames and
// wrong passwords share one message.
package auth
