// Package dashboard exposes a small read-only JSON status API plus a
// Prometheus /metrics endpoint, grounded on the teacher's
// internal/dashboard/server.go chi-router/auth-middleware/graceful-
// shutdown skeleton. The teacher's HTML dashboard and its embedded
// templates are dropped (see DESIGN.md): this engine has no operator
// front-end to render, only machine-readable status for on-call tooling.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/storage"
)

// Config tunes the listener and its auth token.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the status/metrics HTTP surface.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	repo      storage.Repository
	gw        gateway.Gateway
	log       *logrus.Entry
	port      int
	authToken string
	metrics   *Metrics
}

// NewServer builds a Server and wires its routes, registering metrics
// against a fresh Prometheus registry.
func NewServer(cfg Config, repo storage.Repository, gw gateway.Gateway, log *logrus.Entry) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		router:    chi.NewRouter(),
		repo:      repo,
		gw:        gw,
		log:       log,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		metrics:   NewMetrics(reg),
	}
	s.setupRoutes(reg)
	return s
}

// Metrics exposes the registered metric set so the trading loops can
// record events as they happen.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) setupRoutes(reg *prometheus.Registry) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(15 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if s.authToken != "" {
		s.router.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/api/positions", s.handleGetPositions)
			r.Get("/api/position/{id}", s.handleGetPosition)
			r.Get("/api/stats", s.handleGetStats)
		})
	} else {
		s.router.Get("/api/positions", s.handleGetPositions)
		s.router.Get("/api/position/{id}", s.handleGetPosition)
		s.router.Get("/api/stats", s.handleGetStats)
	}
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Info("dashboard request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.isValidToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isValidToken compares in constant time to avoid leaking the token's
// length or prefix via response-time side channels.
func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.authToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// Start begins serving; it blocks until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.WithField("port", s.port).Info("dashboard: starting status server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	positions, err := s.repo.OpenPositions()
	if err != nil {
		s.log.WithError(err).Error("dashboard: open_positions failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.log, http.StatusOK, positions)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	positions, err := s.repo.OpenPositions()
	if err != nil {
		s.log.WithError(err).Error("dashboard: open_positions failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	for _, p := range positions {
		if p.PositionID == id {
			writeJSON(w, s.log, http.StatusOK, p)
			return
		}
	}
	http.Error(w, "Not Found", http.StatusNotFound)
}

// statsView summarizes the open book for the operator, computed on
// demand rather than cached — this engine has no high-frequency poller
// hitting this endpoint, unlike the trading loops themselves.
type statsView struct {
	OpenPositions     int     `json:"open_positions"`
	GrossExposureUSD  float64 `json:"gross_exposure_usd"`
	AccountEquityUSD  float64 `json:"account_equity_usd"`
	LastReconciledAt  *time.Time `json:"last_reconciled_at,omitempty"`
	LastReconCleanRun bool    `json:"last_reconciliation_clean,omitempty"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	positions, err := s.repo.OpenPositions()
	if err != nil {
		s.log.WithError(err).Error("dashboard: open_positions failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	gross := 0.0
	for _, p := range positions {
		price, err := s.gw.GetQuote(r.Context(), p.Symbol)
		if err != nil {
			price = p.CostPrice
		}
		gross += price * float64(p.Shares)
	}

	account, err := s.gw.GetAccount(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("dashboard: get_account failed")
	}

	view := statsView{
		OpenPositions:    len(positions),
		GrossExposureUSD: gross,
		AccountEquityUSD: account.Equity,
	}

	if report, err := s.repo.LastReconciliation(); err == nil && report != nil {
		t := report.GeneratedEast
		view.LastReconciledAt = &t
		view.LastReconCleanRun = report.Empty()
	}

	writeJSON(w, s.log, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, log *logrus.Entry, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("dashboard: failed to encode response")
	}
}
