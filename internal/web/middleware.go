// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keepsake/keepsake/internal/auth"
	"github.com/keepsake/keepsake/pkg/errutil"
)

const principalKey = "keepsake.principal"

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// resolvePrincipal turns the cookie into a principal for every request. A
// cookie that no longer names a live session is cleared.
func (s *Server) resolvePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.cookies.Read(c.Request)
		principal, err := s.svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			errutil.LogErrorContext(c.Request.Context(), s.logger, "failed to resolve session", err)
			s.renderError(c, statusFor(err), auth.PublicMessage(err))
			c.Abort()
			return
		}
		if token != "" && principal.Identity == nil {
			s.cookies.Clear(c.Writer)
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// requireAuth applies the access guard to every protected path. It is the
// only place protected routes are checked, for reads and writes alike.
func (s *Server) requireAuth() gin.HandlerFunc {
	guard := s.svc.Guard()
	return func(c *gin.Context) {
		if !s.isProtected(c.Request.URL.Path) {
			c.Next()
			return
		}
		if guard.IsAuthenticated(principalFrom(c)) {
			c.Next()
			return
		}
		c.Redirect(http.StatusSeeOther, "/login")
		c.Abort()
	}
}

func (s *Server) isProtected(path string) bool {
	for _, g := range s.protected {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func principalFrom(c *gin.Context) *auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*auth.Principal); ok && p != nil {
			return p
		}
	}
	return auth.Anonymous()
}

func clientMeta(c *gin.Context) auth.ClientMeta {
	return auth.ClientMeta{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	}
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch auth.ReasonOf(err) {
	case auth.ReasonNone:
		return http.StatusOK
	case auth.ReasonDuplicateCredential:
		return http.StatusConflict
	case auth.ReasonUnknownUser, auth.ReasonBadCredential, auth.ReasonMalformedCredential,
		auth.ReasonProviderDenied, auth.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case auth.ReasonAccountLocked:
		return http.StatusTooManyRequests
	case auth.ReasonInvalidInput:
		return http.StatusBadRequest
	case auth.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
