// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/samber/oops"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

// FacebookGraphURL is the Graph API base used to read the signed-in user.
const FacebookGraphURL = "https://graph.facebook.com"

// Facebook signs users in with Facebook Login. The asserted user ID is the
// app-scoped id returned by the Graph API /me endpoint.
type Facebook struct {
	oauth    *oauth2.Config
	graphURL string
}

// FacebookOption customizes a Facebook provider.
type FacebookOption func(*Facebook)

// WithFacebookEndpoint overrides the OAuth endpoint.
func WithFacebookEndpoint(endpoint oauth2.Endpoint) FacebookOption {
	return func(f *Facebook) { f.oauth.Endpoint = endpoint }
}

// WithGraphURL overrides the Graph API base URL.
func WithGraphURL(base string) FacebookOption {
	return func(f *Facebook) { f.graphURL = base }
}

// NewFacebook creates the Facebook provider.
func NewFacebook(cfg Config, opts ...FacebookOption) (*Facebook, error) {
	if err := cfg.validate(NameFacebook); err != nil {
		return nil, err
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"public_profile"}
	}
	f := &Facebook{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     facebook.Endpoint,
			Scopes:       scopes,
		},
		graphURL: FacebookGraphURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Name implements Provider.
func (f *Facebook) Name() string { return NameFacebook }

// AuthCodeURL implements Provider.
func (f *Facebook) AuthCodeURL(state, verifier string) string {
	return f.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange implements Provider.
func (f *Facebook) Exchange(ctx context.Context, code, verifier string) (string, error) {
	token, err := f.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", exchangeFailed(NameFacebook, "token", err)
	}

	endpoint, err := url.JoinPath(f.graphURL, "me")
	if err != nil {
		return "", exchangeFailed(NameFacebook, "graph_url", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?fields=id", nil)
	if err != nil {
		return "", exchangeFailed(NameFacebook, "graph_request", err)
	}
	resp, err := f.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return "", exchangeFailed(NameFacebook, "graph_request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", oops.Code("PROVIDER_EXCHANGE_FAILED").
			With("provider", NameFacebook).
			With("step", "graph_status").
			With("status", resp.StatusCode).
			Errorf("graph api returned %s", resp.Status)
	}

	var me struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", exchangeFailed(NameFacebook, "graph_decode", err)
	}
	if me.ID == "" {
		return "", exchangeFailed(NameFacebook, "graph_decode", errors.New("graph response carried no id"))
	}
	return me.ID, nil
}
