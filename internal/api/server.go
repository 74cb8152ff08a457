package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-aircon/internal/audit"
	"github.com/nerrad567/gray-logic-aircon/internal/bridges/advantageair"
	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the part of the aircon bridge the API serves.
// Satisfied by *advantageair.Bridge.
type Bridge interface {
	DeviceStatuses() []advantageair.DeviceStatus
	Device(id string) (advantageair.DeviceStatus, bool)
	Snapshot(id string) (advantageair.Snapshot, bool)
	Refresh(ctx context.Context, id string) (advantageair.Snapshot, error)
	Submit(ctx context.Context, req advantageair.SubmitRequest) (advantageair.AckStatus, error)
	OnSnapshot(l advantageair.SnapshotListener)
}

// CommandLister pages through the command log. Satisfied by
// *audit.SQLiteRepository.
type CommandLister interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// ConnectionChecker reports broker connectivity. Satisfied by *mqtt.Client.
type ConnectionChecker interface {
	IsConnected() bool
}

// MQTTStatsProvider is optionally implemented by the ConnectionChecker
// to add traffic counters to /metrics.
type MQTTStatsProvider interface {
	Stats() mqtt.Stats
}

// TelemetryStats reports InfluxDB write counters. Satisfied by
// *influxdb.Client.
type TelemetryStats interface {
	Stats() influxdb.Stats
}

// StatsProvider exposes database pool statistics. Satisfied by *database.DB.
type StatsProvider interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger
	Bridge Bridge

	// Optional.
	Commands  CommandLister
	MQTT      ConnectionChecker
	Telemetry TelemetryStats
	DB        StatsProvider

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	bridge    Bridge
	commands  CommandLister
	mqtt      ConnectionChecker
	telemetry TelemetryStats
	db        StatsProvider
	version   string
	startTime time.Time

	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	mu       sync.Mutex
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger.Component("api"),
		bridge:    deps.Bridge,
		commands:  deps.Commands,
		mqtt:      deps.MQTT,
		telemetry: deps.Telemetry,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.bridge.OnSnapshot(s.broadcastSnapshot)
	return s, nil
}

// Start binds the listener and serves in the background until Close.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
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

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
