// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package web

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/samber/oops"
)

// SessionCookieName names the cookie carrying the session token.
const SessionCookieName = "keepsake_session"

// CookieCarrier carries the opaque session token in a signed cookie. The
// signature only detects tampering; the token is still checked against the
// session store on every request.
type CookieCarrier struct {
	codec  *securecookie.SecureCookie
	secure bool
	ttl    time.Duration
}

// NewCookieCarrier creates a carrier. hashKey must be at least 32 bytes;
// blockKey may be nil to sign without encrypting.
func NewCookieCarrier(hashKey, blockKey []byte, ttl time.Duration, secure bool) (*CookieCarrier, error) {
	if len(hashKey) < 32 {
		return nil, oops.Code("WEB_INVALID_CONFIG").
			With("length", len(hashKey)).
			Errorf("cookie hash key must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, oops.Code("WEB_INVALID_CONFIG").With("ttl", ttl).Errorf("cookie ttl must be positive")
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(ttl.Seconds()))
	return &CookieCarrier{codec: codec, secure: secure, ttl: ttl}, nil
}

// Write attaches token to the response.
func (c *CookieCarrier) Write(w http.ResponseWriter, token string) error {
	encoded, err := c.codec.Encode(SessionCookieName, token)
	if err != nil {
		return oops.Code("WEB_COOKIE_ENCODE_FAILED").Wrap(err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Read returns the token carried by r, or "" when the cookie is absent,
// tampered with or too old.
func (c *CookieCarrier) Read(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	var token string
	if err := c.codec.Decode(SessionCookieName, cookie.Value, &token); err != nil {
		return ""
	}
	return token
}

// Clear removes the cookie from the client.
func (c *CookieCarrier) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
