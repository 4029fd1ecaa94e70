// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package web

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/samber/oops"

	"github.com/keepsake/keepsake/internal/auth/provider"
)

const (
	flowCookieName = "keepsake_oauth"
	flowTTL        = 5 * time.Minute

	flowKeyProvider = "provider"
	flowKeyState    = "state"
	flowKeyVerifier = "verifier"
)

// flowStore keeps the OAuth state and PKCE verifier between the redirect to
// a provider and its callback. Each flow is single-use.
type flowStore struct {
	store *sessions.CookieStore
}

func newFlowStore(hashKey, blockKey []byte, secure bool) *flowStore {
	keys := [][]byte{hashKey}
	if len(blockKey) > 0 {
		keys = append(keys, blockKey)
	}
	store := sessions.NewCookieStore(keys...)
	store.Options = &sessions.Options{
		Path:     "/auth",
		MaxAge:   int(flowTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		// Lax lets the cookie ride on the provider's top-level redirect back.
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(int(flowTTL.Seconds()))
	return &flowStore{store: store}
}

// begin starts a flow for providerName and returns the state and verifier
// to put on the authorization URL.
func (f *flowStore) begin(w http.ResponseWriter, r *http.Request, providerName string) (state, verifier string, err error) {
	state, err = provider.GenerateState()
	if err != nil {
		return "", "", err
	}
	verifier = provider.GenerateVerifier()

	// A stale or forged cookie yields a fresh session, which is overwritten.
	sess, _ := f.store.New(r, flowCookieName) //nolint:errcheck // see above
	sess.Values[flowKeyProvider] = providerName
	sess.Values[flowKeyState] = state
	sess.Values[flowKeyVerifier] = verifier
	if err := sess.Save(r, w); err != nil {
		return "", "", oops.Code("WEB_FLOW_SAVE_FAILED").With("provider", providerName).Wrap(err)
	}
	return state, verifier, nil
}

// finish consumes the flow and returns its verifier when state matches the
// flow started for providerName.
func (f *flowStore) finish(w http.ResponseWriter, r *http.Request, providerName, state string) (string, error) {
	sess, err := f.store.Get(r, flowCookieName)
	if err != nil || sess.IsNew {
		return "", oops.Code("WEB_FLOW_MISSING").With("provider", providerName).Errorf("no sign-in in progress")
	}

	gotProvider, _ := sess.Values[flowKeyProvider].(string)
	wantState, _ := sess.Values[flowKeyState].(string)
	verifier, _ := sess.Values[flowKeyVerifier].(string)

	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		return "", oops.Code("WEB_FLOW_SAVE_FAILED").With("provider", providerName).Wrap(err)
	}

	if gotProvider != providerName {
		return "", oops.Code("WEB_FLOW_MISMATCH").
			With("provider", providerName).
			With("flow_provider", gotProvider).
			Errorf("sign-in was started for a different provider")
	}
	if state == "" || wantState == "" || subtle.ConstantTimeCompare([]byte(state), []byte(wantState)) != 1 {
		return "", oops.Code("WEB_FLOW_STATE_MISMATCH").With("provider", providerName).Errorf("state does not match")
	}
	return verifier, nil
}
