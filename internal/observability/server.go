// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds each readiness probe.
const DefaultProbeTimeout = 2 * time.Second

// Check probes one backing store. A nil error means the store is reachable.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// ReadinessReport is the JSON body of /healthz/readiness.
type ReadinessReport struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks,omitempty"`
}

// renderFailures counts page render failures. It is package-level so the
// web layer can record it without holding the Server.
var renderFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keepsake_render_failures_total",
		Help: "Total number of page render failures by template",
	},
	[]string{"template"},
)

// RecordRenderFailure increments the render failure counter.
func RecordRenderFailure(template string) {
	renderFailures.WithLabelValues(template).Inc()
}

// Metrics contains the HTTP transport metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the transport metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keepsake_http_requests_total",
				Help: "Total number of HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keepsake_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(renderFailures)

	return m
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Server exposes /metrics and the liveness and readiness probes.
type Server struct {
	addr         string
	listener     net.Listener
	httpServer   *http.Server
	registry     *prometheus.Registry
	metrics      *Metrics
	checks       []Check
	probeTimeout time.Duration
	dependencyUp *prometheus.GaugeVec
	running      atomic.Bool
}

// NewServer creates an observability server listening on addr.
// Readiness succeeds only when every check passes; with no checks the
// service is always ready. Extra collectors, such as the auth package
// metrics, are registered on the server's own registry.
func NewServer(addr string, checks []Check, extra ...prometheus.Collector) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dependencyUp := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keepsake_dependency_up",
			Help: "Whether the last readiness probe reached the dependency (1) or not (0)",
		},
		[]string{"dependency"},
	)
	registry.MustRegister(dependencyUp)

	metrics := NewMetrics(registry)
	for _, c := range extra {
		registry.MustRegister(c)
	}

	return &Server{
		addr:         addr,
		registry:     registry,
		metrics:      metrics,
		checks:       checks,
		probeTimeout: DefaultProbeTimeout,
		dependencyUp: dependencyUp,
	}
}

// Metrics returns the transport metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Readiness runs every check concurrently and reports each outcome.
func (s *Server) Readiness(ctx context.Context) ReadinessReport {
	report := ReadinessReport{Ready: true}
	if len(s.checks) == 0 {
		return report
	}
	report.Checks = make(map[string]string, len(s.checks))

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, check := range s.checks {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
			defer cancel()
			err := check.Probe(probeCtx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Ready = false
				report.Checks[check.Name] = err.Error()
				s.dependencyUp.WithLabelValues(check.Name).Set(0)
				return nil
			}
			report.Checks[check.Name] = "ok"
			s.dependencyUp.WithLabelValues(check.Name).Set(1)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // probes record failures instead of returning them
	return report
}

// Start begins serving. The returned channel receives any serve error and
// is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String(), "checks", len(s.checks))
	return errCh, nil
}

// Stop gracefully shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}
	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	report := s.Readiness(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(report)
}
