// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package web is the HTTP transport. It renders the pages, carries the
// session token in a signed cookie and runs the OAuth redirect flow; every
// authentication decision is delegated to auth.Service.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/glob"
	"github.com/gorilla/securecookie"
	"github.com/samber/oops"

	"github.com/keepsake/keepsake/internal/auth"
	"github.com/keepsake/keepsake/internal/auth/provider"
	"github.com/keepsake/keepsake/internal/observability"
)

// AuthService is the orchestrator the transport delivers events to.
type AuthService interface {
	Register(ctx context.Context, username, password string, meta auth.ClientMeta) (*auth.Principal, string, error)
	Login(ctx context.Context, username, password string, meta auth.ClientMeta) (*auth.Principal, string, error)
	FederatedLogin(ctx context.Context, provider, providerUserID string, meta auth.ClientMeta) (*auth.Principal, string, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
	UpdateSecret(ctx context.Context, principal *auth.Principal, secret string) error
	Guard() auth.AccessGuard
}

// DefaultProtectedPaths are guarded when Options.ProtectedPaths is empty.
var DefaultProtectedPaths = []string{"/secrets", "/submit"}

// Options configures the web server.
type Options struct {
	Addr string
	// HashKey signs cookies and must be at least 32 bytes. A random key is
	// generated when empty, so sessions do not survive a restart.
	HashKey        []byte
	BlockKey       []byte
	SecureCookies  bool
	SessionTTL     time.Duration
	ProtectedPaths []string
	Metrics        *observability.Metrics
	Logger         *slog.Logger
}

// Server serves the Keepsake pages.
type Server struct {
	addr       string
	svc        AuthService
	providers  *provider.Registry
	cookies    *CookieCarrier
	flows      *flowStore
	protected  []glob.Glob
	pages      *pages
	metrics    *observability.Metrics
	logger     *slog.Logger
	engine     *gin.Engine
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates the web server. providers may be nil when no federated
// sign-in is configured.
func NewServer(svc AuthService, providers *provider.Registry, opts Options) (*Server, error) {
	if svc == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("auth service is required")
	}
	if providers == nil {
		var err error
		if providers, err = provider.NewRegistry(); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = auth.DefaultSessionTokenExpiry
	}
	hashKey := opts.HashKey
	if len(hashKey) == 0 {
		logger.Warn("no cookie hash key configured; generated an ephemeral key")
		hashKey = securecookie.GenerateRandomKey(64)
	}

	cookies, err := NewCookieCarrier(hashKey, opts.BlockKey, opts.SessionTTL, opts.SecureCookies)
	if err != nil {
		return nil, err
	}

	patterns := opts.ProtectedPaths
	if len(patterns) == 0 {
		patterns = DefaultProtectedPaths
	}
	protected := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, oops.Code("WEB_INVALID_CONFIG").With("pattern", p).Wrap(err)
		}
		protected = append(protected, g)
	}

	tmpl, err := loadPages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		addr:      opts.Addr,
		svc:       svc,
		providers: providers,
		cookies:   cookies,
		flows:     newFlowStore(hashKey, opts.BlockKey, opts.SecureCookies),
		protected: protected,
		pages:     tmpl,
		metrics:   opts.Metrics,
		logger:    logger,
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.observe(), s.resolvePrincipal(), s.requireAuth())

	r.GET("/", s.home)
	r.GET("/register", s.registerPage)
	r.POST("/register", s.register)
	r.GET("/login", s.loginPage)
	r.POST("/login", s.login)
	r.GET("/logout", s.logout)
	r.GET("/secrets", s.secrets)
	r.GET("/submit", s.submitPage)
	r.POST("/submit", s.submit)
	r.GET("/auth/:provider", s.beginFederated)
	r.GET("/auth/:provider/callback", s.federatedCallback)
	r.NoRoute(func(c *gin.Context) {
		s.renderError(c, http.StatusNotFound, "page not found")
	})
	return r
}

// Start begins serving. It returns an error channel that receives any
// serve error and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("web server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("WEB_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("web server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("web server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_web_server").Wrap(err)
		}
	}
	s.logger.Info("web server stopped")
	return nil
}

// Addr returns the listen address, or "" when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
