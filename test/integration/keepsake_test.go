// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/keepsake/keepsake/internal/auth"
	authpg "github.com/keepsake/keepsake/internal/auth/postgres"
	"github.com/keepsake/keepsake/internal/auth/provider"
	"github.com/keepsake/keepsake/internal/store"
	"github.com/keepsake/keepsake/internal/web"
)

var hashKey = []byte("integration-hash-key-0123456789abcdef")

// stubProvider hands out a fixed account for code "ok".
type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) AuthCodeURL(state, _ string) string {
	return "https://idp.test/authorize?state=" + url.QueryEscape(state)
}

func (stubProvider) Exchange(_ context.Context, code, verifier string) (string, error) {
	if code != "ok" || verifier == "" {
		return "", errors.New("invalid_grant")
	}
	return "stub-account-1", nil
}

// testEnv holds the database and a running web server.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	srv       *httptest.Server
}

func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	env := &testEnv{ctx: ctx, cancel: cancel}

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("keepsake_test"),
		postgres.WithUsername("keepsake"),
		postgres.WithPassword("keepsake"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.NewPool(ctx, connStr, store.PoolConfig{MaxConns: 5, ConnectAttempts: 5})
	if err != nil {
		env.cleanup()
		return nil, err
	}

	svc, err := newService(env.pool)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	registry, err := provider.NewRegistry(stubProvider{})
	if err != nil {
		env.cleanup()
		return nil, err
	}
	server, err := web.NewServer(svc, registry, web.Options{
		HashKey:    hashKey,
		SessionTTL: time.Hour,
	})
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.srv = httptest.NewServer(server.Handler())
	return env, nil
}

func newService(pool *pgxpool.Pool) (*auth.Service, error) {
	identities := authpg.NewIdentityRepository(pool)
	codec, err := auth.NewSessionCodec(authpg.NewSessionRepository(pool), identities, time.Hour, nil)
	if err != nil {
		return nil, err
	}
	resolver, err := auth.NewFederatedResolver(identities)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewBcryptVerifier(bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	hashes, err := auth.NewHashPool(verifier, 2)
	if err != nil {
		return nil, err
	}
	return auth.NewService(identities, codec, resolver, hashes)
}

func (e *testEnv) cleanup() {
	if e.srv != nil {
		e.srv.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(context.Background())
	}
	e.cancel()
}

// browser is a cookie-keeping client that does not follow redirects.
type browser struct {
	base   string
	client *http.Client
}

func newBrowser(base string) *browser {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &browser{
		base: base,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) get(path string) (*http.Response, string) {
	resp, err := b.client.Get(b.base + path)
	Expect(err).NotTo(HaveOccurred())
	return resp, readBody(resp)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	resp, err := b.client.PostForm(b.base+path, form)
	Expect(err).NotTo(HaveOccurred())
	return resp, readBody(resp)
}

// sessionToken decodes the bearer token from the browser's session cookie.
func (b *browser) sessionToken() string {
	u, err := url.Parse(b.base)
	Expect(err).NotTo(HaveOccurred())
	req := httptest.NewRequest(http.MethodGet, b.base+"/", nil)
	for _, c := range b.client.Jar.Cookies(u) {
		req.AddCookie(c)
	}
	carrier, err := web.NewCookieCarrier(hashKey, nil, time.Hour, false)
	Expect(err).NotTo(HaveOccurred())
	return carrier.Read(req)
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(body)
}

// errorLine extracts the rendered error paragraph.
func errorLine(body string) string {
	_, rest, ok := strings.Cut(body, `<p class="error">`)
	if !ok {
		return ""
	}
	line, _, _ := strings.Cut(rest, "</p>")
	return line
}

func credentials(username, password string) url.Values {
	return url.Values{"username": {username}, "password": {password}}
}

var _ = Describe("Keepsake end to end", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if env != nil {
			env.cleanup()
		}
	})

	Describe("local accounts", func() {
		It("registers, stores a secret and signs out", func() {
			b := newBrowser(env.srv.URL)

			resp, _ := b.post("/register", credentials("alice", "correct horse"))
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal("/secrets"))

			resp, body := b.get("/secrets")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring("You have not stored a secret yet."))

			resp, _ = b.post("/submit", url.Values{"secret": {"I like pineapple pizza"}})
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

			_, body = b.get("/secrets")
			Expect(body).To(ContainSubstring("I like pineapple pizza"))

			resp, _ = b.get("/logout")
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

			resp, _ = b.get("/secrets")
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal("/login"))
		})

		It("keeps the secret across sign-ins", func() {
			b := newBrowser(env.srv.URL)

			resp, _ := b.post("/login", credentials("alice", "correct horse"))
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

			_, body := b.get("/secrets")
			Expect(body).To(ContainSubstring("I like pineapple pizza"))
		})

		It("rejects a duplicate username", func() {
			b := newBrowser(env.srv.URL)

			resp, _ := b.post("/register", credentials("alice", "another password"))
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("rejects a wrong password without revealing which field was wrong", func() {
			b := newBrowser(env.srv.URL)

			resp, wrongPassword := b.post("/login", credentials("alice", "wrong"))
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

			resp, unknownUser := b.post("/login", credentials("nobody", "wrong"))
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

			Expect(errorLine(wrongPassword)).NotTo(BeEmpty())
			Expect(errorLine(wrongPassword)).To(Equal(errorLine(unknownUser)))
		})
	})

	Describe("federated accounts", func() {
		signInWithStub := func(b *browser) {
			resp, _ := b.get("/auth/stub")
			Expect(resp.StatusCode).To(Equal(http.StatusFound))
			loc, err := url.Parse(resp.Header.Get("Location"))
			Expect(err).NotTo(HaveOccurred())

			resp, _ = b.get("/auth/stub/callback?code=ok&state=" + url.QueryEscape(loc.Query().Get("state")))
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal("/secrets"))
		}

		It("resolves the same identity on every sign-in", func() {
			first := newBrowser(env.srv.URL)
			signInWithStub(first)
			resp, _ := first.post("/submit", url.Values{"secret": {"federated secret"}})
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

			second := newBrowser(env.srv.URL)
			signInWithStub(second)
			_, body := second.get("/secrets")
			Expect(body).To(ContainSubstring("federated secret"))

			var links int
			err := env.pool.QueryRow(env.ctx,
				`SELECT count(*) FROM federated_links WHERE provider = 'stub' AND provider_user_id = 'stub-account-1'`,
			).Scan(&links)
			Expect(err).NotTo(HaveOccurred())
			Expect(links).To(Equal(1))
		})
	})

	Describe("sessions", func() {
		It("stores only a hash of the session token", func() {
			b := newBrowser(env.srv.URL)
			resp, _ := b.post("/register", credentials("bob", "hunter22"))
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

			token := b.sessionToken()
			Expect(token).NotTo(BeEmpty())

			var byHash, byToken int
			Expect(env.pool.QueryRow(env.ctx,
				`SELECT count(*) FROM web_sessions WHERE token_hash = $1`, auth.HashSessionToken(token),
			).Scan(&byHash)).To(Succeed())
			Expect(env.pool.QueryRow(env.ctx,
				`SELECT count(*) FROM web_sessions WHERE token_hash = $1`, token,
			).Scan(&byToken)).To(Succeed())
			Expect(byHash).To(Equal(1))
			Expect(byToken).To(BeZero())
		})

		It("revokes the server-side session on logout", func() {
			b := newBrowser(env.srv.URL)
			resp, _ := b.post("/login", credentials("bob", "hunter22"))
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

			var before int
			Expect(env.pool.QueryRow(env.ctx, `SELECT count(*) FROM web_sessions`).Scan(&before)).To(Succeed())

			resp, _ = b.get("/logout")
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

			var after int
			Expect(env.pool.QueryRow(env.ctx, `SELECT count(*) FROM web_sessions`).Scan(&after)).To(Succeed())
			Expect(after).To(Equal(before - 1))
		})
	})
})
