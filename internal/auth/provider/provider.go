// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package provider implements the external sign-in providers. A provider
// only asserts who the user is at the provider; linking that assertion to a
// local identity is the job of auth.FederatedResolver.
package provider

import (
	"context"
	"slices"

	"github.com/samber/oops"
)

// Well-known provider names.
const (
	NameGoogle   = "google"
	NameFacebook = "facebook"
)

// Provider runs the authorization-code flow against one external identity
// provider.
type Provider interface {
	// Name is the stable identifier stored in federated links.
	Name() string

	// AuthCodeURL returns the URL the browser is sent to. verifier is the
	// PKCE code verifier; only its S256 challenge leaves the server.
	AuthCodeURL(state, verifier string) string

	// Exchange trades the authorization code for the provider's stable
	// user ID.
	Exchange(ctx context.Context, code, verifier string) (string, error)
}

// Config holds the OAuth client registration for one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

func (c Config) validate(name string) error {
	if c.ClientID == "" {
		return oops.Code("PROVIDER_INVALID_CONFIG").With("provider", name).Errorf("client id is required")
	}
	if c.ClientSecret == "" {
		return oops.Code("PROVIDER_INVALID_CONFIG").With("provider", name).Errorf("client secret is required")
	}
	if c.RedirectURL == "" {
		return oops.Code("PROVIDER_INVALID_CONFIG").With("provider", name).Errorf("redirect url is required")
	}
	return nil
}

// Registry looks providers up by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry registers the given providers. Names must be unique.
func NewRegistry(list ...Provider) (*Registry, error) {
	m := make(map[string]Provider, len(list))
	for _, p := range list {
		if p == nil {
			return nil, oops.Code("PROVIDER_INVALID_CONFIG").Errorf("provider cannot be nil")
		}
		if _, dup := m[p.Name()]; dup {
			return nil, oops.Code("PROVIDER_DUPLICATE").
				With("provider", p.Name()).
				Errorf("provider %s registered twice", p.Name())
		}
		m[p.Name()] = p
	}
	return &Registry{providers: m}, nil
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, oops.Code("PROVIDER_UNKNOWN").
			With("provider", name).
			Errorf("unknown provider %q", name)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
