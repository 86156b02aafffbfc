package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miiworld/lotsettle/service/metrics"
)

// Server is the HTTP surface for the settlement service. It exposes the
// two-phase purchase endpoint, the distribution trigger, and read-only
// lookups for listings and distribution history.
type Server struct {
	addr        string
	store       ListingStore
	settlement  SettlementService
	distributor DistributionRunner
	metrics     *metrics.Metrics
	logger      *slog.Logger
	server      *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, store ListingStore, settlementSvc SettlementService, distributor DistributionRunner, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:        addr,
		store:       store,
		settlement:  settlementSvc,
		distributor: distributor,
		metrics:     m,
		logger:      logger,
	}
}

// Handler builds the route table. Exposed separately from Start so tests can
// drive the full middleware stack through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	withMetrics := func(name string, h http.Handler) http.Handler {
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	// Purchase settlement routes
	mux.Handle("POST /api/v1/purchases",
		withMetrics("/api/v1/purchases", handlePurchase(s.settlement, s.logger)))

	// Distribution routes
	mux.Handle("POST /api/v1/distributions",
		withMetrics("/api/v1/distributions", handleRunDistribution(s.distributor, s.logger)))
	mux.Handle("GET /api/v1/distributions",
		withMetrics("/api/v1/distributions", handleListDistributions(s.store, s.logger)))

	// Listing lookups
	mux.Handle("GET /api/v1/listings",
		withMetrics("/api/v1/listings", handleListListings(s.store, s.logger)))
	mux.Handle("GET /api/v1/listings/{id}",
		withMetrics("/api/v1/listings/{id}", handleGetListing(s.store, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
