package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/theoremus-urban-solutions/departures/background"
	"github.com/theoremus-urban-solutions/departures/config"
	"github.com/theoremus-urban-solutions/departures/engine"
	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/orchestrator"
	"github.com/theoremus-urban-solutions/departures/scheduler"
)

// Engine is the part of engine.Engine the HTTP surface calls.
type Engine interface {
	Route(ctx context.Context, id string) (model.Route, error)
	Routes(ctx context.Context) ([]model.Route, error)
	FetchJourneyOptions(ctx context.Context, route model.Route) ([]model.JourneyOption, error)
	Best(ctx context.Context, id string) (model.JourneyOption, bool, error)
	State(id string) (orchestrator.RouteState, bool)
	NextRefresh(route model.Route) time.Time
	MarkRouteUsed(ctx context.Context, id string) (model.Route, error)
	OnMemoryPressure()
	RunDueRefreshes(ctx context.Context, deadline time.Time) background.Report
	SetDeviceState(s scheduler.DeviceState)
	DeviceState() scheduler.DeviceState
	Stats() engine.Stats
}

var _ Engine = (*engine.Engine)(nil)

// Server owns the HTTP listener.
type Server struct {
	http            *http.Server
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// NewRouter builds the API routes behind CORS.
func NewRouter(e Engine, allowedOrigins []string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{engine: e, log: logger.With("component", "server"), started: time.Now()}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.health).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", h.stats).Methods(http.MethodGet)
	api.HandleFunc("/routes", h.routes).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/journeys", h.journeys).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/best", h.best).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/used", h.used).Methods(http.MethodPost)
	api.HandleFunc("/memory-pressure", h.memoryPressure).Methods(http.MethodPost)
	api.HandleFunc("/background/run", h.runBackground).Methods(http.MethodPost)
	api.HandleFunc("/device", h.device).Methods(http.MethodGet, http.MethodPut)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Origin"},
		MaxAge:         86400,
	})
	return c.Handler(r)
}

// New prepares a server on cfg.Port without starting it.
func New(e Engine, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.Seconds(cfg.ShutdownTimeoutSec)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewRouter(e, cfg.AllowedOrigins, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		shutdownTimeout: timeout,
		log:             logger.With("component", "server"),
	}
}

// Start listens in the background. Listener failures are sent on the
// returned channel.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", "err", err)
			errc <- err
		}
		close(errc)
	}()
	s.log.Info("server listening", "addr", s.http.Addr)
	return errc
}

// Shutdown drains connections within the configured timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Error("server shutdown error", "err", err)
		return err
	}
	s.log.Info("server shut down successfully")
	return nil
}

// HandleGracefulShutdown blocks until SIGINT, SIGTERM or a listener failure
// and then shuts the server down.
func (s *Server) HandleGracefulShutdown(errc <-chan error) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	select {
	case sig := <-sigs:
		s.log.Info("shutdown signal received", "signal", sig.String())
	case err, ok := <-errc:
		if ok && err != nil {
			return err
		}
	}
	return s.Shutdown()
}
