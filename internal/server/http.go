package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"LendCore/internal/auction"
	"LendCore/internal/lending"
	"LendCore/internal/observability"
	"LendCore/internal/query"
)

// Server is the read-only HTTP surface. All mutations enter through NATS;
// the HTTP layer only exposes state views, health, and metrics.
type Server struct {
	svc     *query.Service
	metrics *observability.Metrics
	log     zerolog.Logger
	ready   atomic.Bool
	httpSrv *http.Server
}

func New(addr string, svc *query.Service, metrics *observability.Metrics) *Server {
	s := &Server{
		svc:     svc,
		metrics: metrics,
		log:     observability.NewLogger("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.instrument("status", s.handleStatus))
		r.Get("/balances/{owner}/{asset}", s.instrument("balance", s.handleBalance))
		r.Get("/positions/{owner}/{asset}", s.instrument("position", s.handlePosition))
		r.Get("/reserves", s.instrument("reserves", s.handleReserves))
		r.Get("/pools", s.instrument("pools", s.handlePools))
		r.Get("/vaults", s.instrument("vaults", s.handleVaults))
		r.Get("/auctions", s.instrument("auctions", s.handleAuctions))
		r.Get("/auctions/{id}", s.instrument("auction", s.handleAuction))
	})

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// SetReady flips the readiness probe once recovery and wiring are complete.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// instrument wraps a handler with request counting and latency observation.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready.Load() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	asset := chi.URLParam(r, "asset")
	writeJSON(w, http.StatusOK, s.svc.Balance(owner, asset))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	asset := chi.URLParam(r, "asset")
	view, err := s.svc.Position(time.Now().Unix(), owner, asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReserves(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Reserves())
}

func (s *Server) handlePools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Pools())
}

func (s *Server) handleVaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Vaults())
}

func (s *Server) handleAuctions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Auctions(time.Now().Unix()))
}

func (s *Server) handleAuction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid auction id"})
		return
	}
	view, err := s.svc.Auction(time.Now().Unix(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lending.ErrPositionNotFound),
		errors.Is(err, lending.ErrReserveNotFound),
		errors.Is(err, auction.ErrAuctionNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
