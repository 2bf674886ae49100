package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chimeralabs/chimera-core/internal/infrastructure/config"
	"github.com/chimeralabs/chimera-core/internal/infrastructure/database"
	"github.com/chimeralabs/chimera-core/internal/infrastructure/logging"
	"github.com/chimeralabs/chimera-core/internal/infrastructure/mqtt"
	"github.com/chimeralabs/chimera-core/internal/instrument"
	"github.com/chimeralabs/chimera-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Instruments *instrument.Registry
	Telemetry   *telemetry.Manager
	MQTT        *mqtt.Client  // optional: health reporting only
	DB          *database.DB  // optional: health reporting only
	Version     string
}

// Server is the HTTP API server for Chimera Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	instruments *instrument.Registry
	telemetry   *telemetry.Manager
	mqtt        *mqtt.Client
	db          *database.DB
	version     string

	server     *http.Server
	hub        *Hub
	observerID string
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Instruments == nil {
		return nil, fmt.Errorf("instrument registry is required")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("telemetry manager is required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		instruments: deps.Instruments,
		telemetry:   deps.Telemetry,
		mqtt:        deps.MQTT,
		db:          deps.DB,
		version:     deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, hooks into the telemetry manager's change
// notifications for real-time broadcast, and launches the HTTP listener
// in a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	// Relay derived-state changes to WebSocket clients.
	s.observerID = s.telemetry.Observe(s.broadcastTelemetry)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.observerID != "" {
		s.telemetry.Unobserve(s.observerID)
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
