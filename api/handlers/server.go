// Package handlers serves the revenue-share engine over HTTP: the inbound
// transaction-paid event, reversals, the disbursement workflow, read models
// and operator queues.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ziswaf/revshare/api/metrics"
	"github.com/ziswaf/revshare/revshare/pkg/disbursement"
	"github.com/ziswaf/revshare/revshare/pkg/engine"
	"github.com/ziswaf/revshare/revshare/pkg/pg"
	"github.com/ziswaf/revshare/revshare/pkg/report"
)

type Config struct {
	Logger   *slog.Logger
	DB       pg.Querier
	Engine   *engine.Engine
	Workflow *disbursement.Workflow
	Reports  *report.Aggregator

	Addr           string
	AllowedOrigins []string
	// RateLimiter is optional; nil disables per-IP limiting.
	RateLimiter  *RateLimiter
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Workflow == nil {
		return errors.New("workflow is required")
	}
	if cfg.Reports == nil {
		return errors.New("report aggregator is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:8080"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	return nil
}

// Server is the HTTP API.
type Server struct {
	log    *slog.Logger
	cfg    Config
	router *chi.Mux
	srv    *http.Server
}

func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{log: cfg.Logger, cfg: cfg, router: chi.NewRouter()}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", ActorHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.RateLimiter != nil {
			r.Use(RateLimitMiddleware(s.cfg.RateLimiter))
		}

		r.Post("/events/transaction-paid", s.handleTransactionPaid)

		r.Get("/revenue-shares", s.handleListRevenueShares)
		r.Get("/revenue-shares/{transactionID}", s.handleGetRevenueShare)

		r.Get("/balances", s.handleListBalances)
		r.Get("/balances/{partyType}/{partyID}", s.handleGetBalance)
		r.Get("/balances/{partyType}/{partyID}/movements", s.handleListMovements)

		r.Get("/disbursements", s.handleListDisbursements)
		r.Get("/disbursements/{id}", s.handleGetDisbursement)

		r.Get("/reports/summary", s.handleSummaryReport)
		r.Get("/reports/disbursements", s.handleDisbursementReport)
		r.Get("/reports/parties/{partyType}/{partyID}", s.handlePartyStatement)

		r.Get("/deferred", s.handleListDeferred)
		r.Get("/flags", s.handleListFlags)

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/transactions/{transactionID}/reverse", s.handleReverse)
			r.Post("/disbursements", s.handleCreateDisbursement)
			r.Post("/disbursements/{id}/{action}", s.handleDisbursementAction)
			r.Post("/deferred/retry", s.handleRetryDeferred)
			r.Post("/flags/{id}/resolve", s.handleResolveFlag)
		})
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	var one int
	if err := s.cfg.DB.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		s.log.Warn("api: readiness check failed", "error", err)
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("api: listening", "addr", s.cfg.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("api: shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("api: failed to encode response", "error", err)
	}
}

// writeError maps err and logs anything that is not the caller's fault.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := mapError(err)
	metrics.RecordError(body.Code)
	if status >= http.StatusInternalServerError {
		s.log.Error("api: request failed", "status", status, "code", body.Code, "error", err)
	}
	s.writeJSON(w, status, body)
}
