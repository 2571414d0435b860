// Package api provides the HTTP REST API of the Haier bridge.
//
// It exposes the selected devices, their cached attribute models, the
// last pushed state, live snapshots and a control endpoint to local
// clients that do not speak MQTT.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/haier-bridge/internal/bridges/haier"
	"github.com/nerrad567/haier-bridge/internal/infrastructure/config"
	"github.com/nerrad567/haier-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceService is the bridge surface the API reads and controls.
// *haier.Service implements it.
type DeviceService interface {
	Devices() []haier.Device
	Device(id string) (haier.Device, bool)
	Snapshot(ctx context.Context, id string) (map[string]any, error)
	Control(ev haier.ControlEvent) error
	RefreshModel(ctx context.Context, id string) (haier.Device, error)
}

// StateReader returns the last pushed values. *haier.StateTracker implements it.
type StateReader interface {
	Device(deviceID string) (haier.DeviceState, bool)
}

// HealthSource reports bridge health. *haier.HealthReporter implements it.
type HealthSource interface {
	Current() haier.HealthMessage
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Service  DeviceService
	State    StateReader  // optional
	Health   HealthSource // optional
	Version  string
}

// Server is the HTTP API server for the bridge.
type Server struct {
	cfg     config.APIConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	service DeviceService
	state   StateReader
	health  HealthSource
	version string
	server  *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("device service is required")
	}

	return &Server{
		cfg:     deps.Config,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		service: deps.Service,
		state:   deps.State,
		health:  deps.Health,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The listener is bound before Start returns so a busy port is reported
// to the caller.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("API server starting", "address", ln.Addr().String(), "auth", s.authEnabled())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
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
