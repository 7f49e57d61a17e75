package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/rollcall/internal/attendance"
	"github.com/nerrad567/rollcall/internal/audit"
	"github.com/nerrad567/rollcall/internal/directory"
	"github.com/nerrad567/rollcall/internal/dispatch"
	"github.com/nerrad567/rollcall/internal/infrastructure/config"
	"github.com/nerrad567/rollcall/internal/infrastructure/logging"
	"github.com/nerrad567/rollcall/internal/reader"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ScanService runs manual submissions and owns the scan mode.
type ScanService interface {
	SubmitManualID(ctx context.Context, text string) dispatch.Outcome
	Mode() attendance.Mode
	SetMode(mode attendance.Mode) error
	Handled() uint64
}

// ReaderService controls the attached card reader.
type ReaderService interface {
	Stats() reader.Stats
	Detect() reader.ConnectionState
	Connect(ctx context.Context, device string) error
	Disconnect() error
}

// PortLister enumerates serial ports a reader might be on.
type PortLister interface {
	Ports() ([]reader.PortInfo, error)
}

// PeopleStore is the enrolment store behind the local directory.
type PeopleStore interface {
	directory.Lister
	Get(ctx context.Context, personID string) (directory.PersonRecord, error)
	Upsert(ctx context.Context, p directory.PersonRecord) error
}

// DirectoryCache is the local directory snapshot.
type DirectoryCache interface {
	Refresh(ctx context.Context, src directory.Lister) error
	Size() int
}

// DirectoryMirror receives enrolments for the shared remote directory.
type DirectoryMirror interface {
	Publish(ctx context.Context, p directory.PersonRecord) error
}

// HealthChecker is a component whose health is reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Scans   ScanService
	Reader  ReaderService
	Ports   PortLister
	Ledger  attendance.Ledger
	People  PeopleStore
	Cache   DirectoryCache
	Mirror  DirectoryMirror // optional; enrolments are copied to it
	Audit   audit.Repository
	Metrics http.Handler // Prometheus exposition; /metrics is absent when nil

	// Health components by name, e.g. "database", "mqtt".
	Health map[string]HealthChecker

	// OnModeChange is called after a successful PUT /mode.
	OnModeChange func(from, to attendance.Mode)

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for rollcall.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	logger       *logging.Logger
	scans        ScanService
	reader       ReaderService
	ports        PortLister
	ledger       attendance.Ledger
	people       PeopleStore
	cache        DirectoryCache
	mirror       DirectoryMirror
	auditRepo    audit.Repository
	metrics      http.Handler
	health       map[string]HealthChecker
	onModeChange func(from, to attendance.Mode)
	version      string
	startTime    time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub
	limiter  *scanLimiter
	auditCh  chan *audit.AuditLog
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, scan service); the rest are optional
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Scans == nil {
		return nil, fmt.Errorf("scan service is required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		scans:        deps.Scans,
		reader:       deps.Reader,
		ports:        deps.Ports,
		ledger:       deps.Ledger,
		people:       deps.People,
		cache:        deps.Cache,
		mirror:       deps.Mirror,
		auditRepo:    deps.Audit,
		metrics:      deps.Metrics,
		health:       deps.Health,
		onModeChange: deps.OnModeChange,
		version:      deps.Version,
		startTime:    time.Now(),
		limiter:      newScanLimiter(deps.Config.RateLimit),
		hub:          deps.ExternalHub,
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub, for wiring broadcasters.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, the audit writer and the rate limiter
// cleanup, binds the listener and serves in a background goroutine. The
// server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}
	if s.limiter != nil {
		go s.limiter.cleanupLoop(srvCtx)
	}

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
		s.cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, audit writer, limiter cleanup)
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
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
