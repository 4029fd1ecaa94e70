// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake/keepsake/pkg/errutil"
)

func requestWith(cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestCookieCarrier_RoundTrip(t *testing.T) {
	carrier, err := NewCookieCarrier(testHashKey, nil, time.Hour, true)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, carrier.Write(rec, "plain-token"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookieName, c.Name)
	assert.NotContains(t, c.Value, "plain-token", "the cookie value is encoded")
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)

	assert.Equal(t, "plain-token", carrier.Read(requestWith(cookies)))
}

func TestCookieCarrier_EncryptsWithBlockKey(t *testing.T) {
	carrier, err := NewCookieCarrier(testHashKey, []byte("0123456789abcdef"), time.Hour, false)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, carrier.Write(rec, "plain-token"))
	assert.Equal(t, "plain-token", carrier.Read(requestWith(rec.Result().Cookies())))
}

func TestCookieCarrier_RejectsForeignSignature(t *testing.T) {
	writer, err := NewCookieCarrier([]byte("ffffffffffffffffffffffffffffffff"), nil, time.Hour, false)
	require.NoError(t, err)
	reader, err := NewCookieCarrier(testHashKey, nil, time.Hour, false)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, writer.Write(rec, "plain-token"))

	assert.Empty(t, reader.Read(requestWith(rec.Result().Cookies())))
	assert.Empty(t, reader.Read(requestWith(nil)))
	assert.Empty(t, reader.Read(requestWith([]*http.Cookie{{Name: SessionCookieName, Value: "garbage"}})))
}

func TestCookieCarrier_Clear(t *testing.T) {
	carrier, err := NewCookieCarrier(testHashKey, nil, time.Hour, false)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	carrier.Clear(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.Empty(t, cookies[0].Value)
}

func TestNewCookieCarrier_Validation(t *testing.T) {
	_, err := NewCookieCarrier([]byte("short"), nil, time.Hour, false)
	errutil.AssertErrorCode(t, err, "WEB_INVALID_CONFIG")

	_, err = NewCookieCarrier(testHashKey, nil, 0, false)
	errutil.AssertErrorCode(t, err, "WEB_INVALID_CONFIG")
}

func TestFlowStore_SingleUse(t *testing.T) {
	flows := newFlowStore(testHashKey, nil, false)

	rec := httptest.NewRecorder()
	state, verifier, err := flows.begin(rec, httptest.NewRequest(http.MethodGet, "/auth/google", nil), "google")
	require.NoError(t, err)
	require.NotEmpty(t, state)
	require.NotEmpty(t, verifier)
	started := rec.Result().Cookies()

	t.Run("wrong provider", func(t *testing.T) {
		_, err := flows.finish(httptest.NewRecorder(), requestWith(started), "facebook", state)
		errutil.AssertErrorCode(t, err, "WEB_FLOW_MISMATCH")
	})

	t.Run("wrong state", func(t *testing.T) {
		_, err := flows.finish(httptest.NewRecorder(), requestWith(started), "google", "nope")
		errutil.AssertErrorCode(t, err, "WEB_FLOW_STATE_MISMATCH")
	})

	t.Run("match", func(t *testing.T) {
		rec := httptest.NewRecorder()
		got, err := flows.finish(rec, requestWith(started), "google", state)
		require.NoError(t, err)
		assert.Equal(t, verifier, got)

		cleared := rec.Result().Cookies()
		require.Len(t, cleared, 1)
		assert.Equal(t, -1, cleared[0].MaxAge)
	})

	t.Run("missing cookie", func(t *testing.T) {
		_, err := flows.finish(httptest.NewRecorder(), requestWith(nil), "google", state)
		errutil.AssertErrorCode(t, err, "WEB_FLOW_MISSING")
	})
}
