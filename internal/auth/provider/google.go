// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package provider

import (
	"context"
	"errors"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/samber/oops"
	"golang.org/x/oauth2"
)

// GoogleIssuer is the OpenID Connect issuer for Google accounts.
const GoogleIssuer = "https://accounts.google.com"

// Google signs users in with Google over OpenID Connect. The asserted user
// ID is the verified id_token subject.
type Google struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogle runs OIDC discovery against issuer (GoogleIssuer when empty).
func NewGoogle(ctx context.Context, issuer string, cfg Config) (*Google, error) {
	if err := cfg.validate(NameGoogle); err != nil {
		return nil, err
	}
	if issuer == "" {
		issuer = GoogleIssuer
	}
	discovered, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, oops.Code("PROVIDER_DISCOVERY_FAILED").
			With("provider", NameGoogle).
			With("issuer", issuer).
			Wrap(err)
	}
	return newGoogle(cfg, discovered.Endpoint(), discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID})), nil
}

func newGoogle(cfg Config, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *Google {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile"}
	}
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		verifier: verifier,
	}
}

// Name implements Provider.
func (g *Google) Name() string { return NameGoogle }

// AuthCodeURL implements Provider.
func (g *Google) AuthCodeURL(state, verifier string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

// Exchange implements Provider.
func (g *Google) Exchange(ctx context.Context, code, verifier string) (string, error) {
	token, err := g.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", exchangeFailed(NameGoogle, "token", err)
	}
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return "", exchangeFailed(NameGoogle, "id_token", errors.New("token response carried no id_token"))
	}
	idToken, err := g.verifier.Verify(ctx, raw)
	if err != nil {
		return "", exchangeFailed(NameGoogle, "verify", err)
	}
	if idToken.Subject == "" {
		return "", oops.Code("PROVIDER_EXCHANGE_FAILED").
			With("provider", NameGoogle).
			Errorf("id_token has no subject")
	}
	return idToken.Subject, nil
}
