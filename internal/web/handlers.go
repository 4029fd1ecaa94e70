// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keepsake/keepsake/internal/auth"
	"github.com/keepsake/keepsake/pkg/errutil"
)

type pageData struct {
	Principal *auth.Principal
	Providers []string
	Username  string
	Secret    string
	Error     string
}

func (s *Server) data(c *gin.Context) pageData {
	p := principalFrom(c)
	d := pageData{Principal: p, Providers: s.providers.Names()}
	if p.Identity != nil && p.Identity.Secret != nil {
		d.Secret = *p.Identity.Secret
	}
	return d
}

func (s *Server) home(c *gin.Context) {
	s.render(c, http.StatusOK, "home", s.data(c))
}

func (s *Server) registerPage(c *gin.Context) {
	s.render(c, http.StatusOK, "register", s.data(c))
}

func (s *Server) loginPage(c *gin.Context) {
	s.render(c, http.StatusOK, "login", s.data(c))
}

func (s *Server) register(c *gin.Context) {
	username := c.PostForm("username")
	_, token, err := s.svc.Register(c.Request.Context(), username, c.PostForm("password"), clientMeta(c))
	if err != nil {
		s.reject(c, "register", username, err)
		return
	}
	s.signIn(c, token)
}

func (s *Server) login(c *gin.Context) {
	username := c.PostForm("username")
	_, token, err := s.svc.Login(c.Request.Context(), username, c.PostForm("password"), clientMeta(c))
	if err != nil {
		s.reject(c, "login", username, err)
		return
	}
	s.signIn(c, token)
}

// logout completes the revoke before the browser is redirected.
func (s *Server) logout(c *gin.Context) {
	token := s.cookies.Read(c.Request)
	if token != "" {
		if err := s.svc.Logout(c.Request.Context(), token); err != nil {
			errutil.LogErrorContext(c.Request.Context(), s.logger, "logout failed", err)
			s.renderError(c, statusFor(err), auth.PublicMessage(err))
			return
		}
	}
	s.cookies.Clear(c.Writer)
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) secrets(c *gin.Context) {
	s.render(c, http.StatusOK, "secrets", s.data(c))
}

func (s *Server) submitPage(c *gin.Context) {
	s.render(c, http.StatusOK, "submit", s.data(c))
}

func (s *Server) submit(c *gin.Context) {
	err := s.svc.UpdateSecret(c.Request.Context(), principalFrom(c), c.PostForm("secret"))
	if err != nil {
		if auth.ReasonOf(err) == auth.ReasonUnauthenticated {
			s.cookies.Clear(c.Writer)
			c.Redirect(http.StatusSeeOther, "/login")
			return
		}
		s.reject(c, "submit", "", err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/secrets")
}

func (s *Server) beginFederated(c *gin.Context) {
	name := c.Param("provider")
	p, err := s.providers.Get(name)
	if err != nil {
		s.renderError(c, http.StatusNotFound, "unknown sign-in provider")
		return
	}
	state, verifier, err := s.flows.begin(c.Writer, c.Request, name)
	if err != nil {
		errutil.LogErrorContext(c.Request.Context(), s.logger, "failed to start federated sign-in", err)
		s.renderError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.Redirect(http.StatusFound, p.AuthCodeURL(state, verifier))
}

func (s *Server) federatedCallback(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("provider")
	p, err := s.providers.Get(name)
	if err != nil {
		s.renderError(c, http.StatusNotFound, "unknown sign-in provider")
		return
	}

	verifier, err := s.flows.finish(c.Writer, c.Request, name, c.Query("state"))
	if err != nil {
		s.reject(c, "login", "", auth.ProviderDenied(name, err))
		return
	}
	if denial := c.Query("error"); denial != "" {
		s.reject(c, "login", "", auth.ProviderDenied(name, errors.New(denial)))
		return
	}

	providerUserID, err := p.Exchange(ctx, c.Query("code"), verifier)
	if err != nil {
		s.reject(c, "login", "", auth.ProviderDenied(name, err))
		return
	}

	_, token, err := s.svc.FederatedLogin(ctx, name, providerUserID, clientMeta(c))
	if err != nil {
		s.reject(c, "login", "", err)
		return
	}
	s.signIn(c, token)
}

func (s *Server) signIn(c *gin.Context, token string) {
	if err := s.cookies.Write(c.Writer, token); err != nil {
		errutil.LogErrorContext(c.Request.Context(), s.logger, "failed to write session cookie", err)
		s.renderError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.Redirect(http.StatusSeeOther, "/secrets")
}

// reject re-renders the form page with the public message for err.
func (s *Server) reject(c *gin.Context, page, username string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(c.Request.Context(), s.logger, page+" failed", err)
	}
	d := s.data(c)
	d.Username = username
	d.Error = auth.PublicMessage(err)
	s.render(c, status, page, d)
}
