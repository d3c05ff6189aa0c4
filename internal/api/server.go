package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/customer-sync/internal/config"
	"github.com/ignite/customer-sync/internal/progress"
	"github.com/ignite/customer-sync/internal/service/customer"
	"github.com/ignite/customer-sync/internal/worker"
)

// Server wraps the HTTP server and its wired handlers.
type Server struct {
	cfg     *config.Config
	handler http.Handler
	server  *http.Server
}

// NewServer assembles the router from the wired collaborators.
func NewServer(
	cfg *config.Config,
	customers *customer.Service,
	broker *progress.Broker,
	supervisor *worker.Supervisor,
	health *HealthChecker,
) *Server {
	imp := NewImportHandlers(supervisor, broker, cfg.Import, cfg.SSE)
	cust := NewCustomerHandlers(customers)
	router := SetupRoutes(imp, cust, health, cfg.CORS)

	return &Server{
		cfg:     cfg,
		handler: router,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// The write timeout is generous because list queries can be slow
		// while an import hammers the customers table. The SSE stream clears
		// its own deadline per connection.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
