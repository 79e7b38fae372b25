package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ridgelink/apgw-core/internal/command"
	"github.com/ridgelink/apgw-core/internal/inventory"
	"github.com/ridgelink/apgw-core/internal/metrics"
	"github.com/ridgelink/apgw-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for the listener to
// drain during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Defaults applied when the configuration leaves a field zero.
const (
	defaultPath           = "/ws"
	defaultMaxMessageSize = 1 << 20
	defaultPingInterval   = 30 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultSessionTimeout = 10 * time.Minute
	defaultSweepInterval  = time.Minute
)

// Responder receives correlated command replies read off device sockets.
// Implemented by the command orchestrator.
type Responder interface {
	HandleResponse(resp command.Response)
}

// CommandResults stores on-demand results for durable commands, for state
// reports that carry a request UUID.
type CommandResults interface {
	SetResult(ctx context.Context, uuid string, result string) error
}

// DeviceInventory is the durable device store the transport feeds.
type DeviceInventory interface {
	Get(ctx context.Context, serialNumber string) (*inventory.Device, error)
	RefreshOnConnect(ctx context.Context, info inventory.ConnectInfo) (provisioned, firmwareChanged bool, err error)
	SetLastSeen(ctx context.Context, serialNumber string, seen time.Time) error
	ResolveUpgrade(ctx context.Context, serialNumber string, reported uint64) (effective uint64, upgraded bool, err error)
	AddStatistics(ctx context.Context, stats *inventory.Statistics) error
	AddHealthcheck(ctx context.Context, hc *inventory.Healthcheck) error
}

// Notifier fans device lifecycle events out to subscribers.
type Notifier interface {
	DeviceConnected(serialNumber string)
	DeviceDisconnected(serialNumber string)
	DeviceStatistics(serialNumber string)
	ConfigurationUpgrade(serialNumber string, oldRevision, newRevision uint64)
	FirmwareUpgrade(serialNumber, newFirmware string)
	ConnectionsCount(devices, averageConnectedSecs, connecting uint64)
}

// EventSink receives the bulk event stream (state frames, telemetry,
// healthchecks, association counts).
type EventSink interface {
	WriteStateFrame(serialNumber string, revision uint64, payload []byte)
	WriteTelemetry(serialNumber string, payload []byte)
	WriteHealthcheck(serialNumber string, sanity uint64)
	WriteAssociations(serialNumber string, assoc2G, assoc5G int)
}

// Logger is the minimal logging interface used by the transport.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds the transport server listen settings. Zero fields fall back
// to package defaults.
type Options struct {
	Host           string
	Port           int
	Path           string
	MaxMessageSize int64
	PingInterval   time.Duration
	PongWait       time.Duration
	SessionTimeout time.Duration
	SweepInterval  time.Duration
	AutoProvision  bool
}

// Deps holds the dependencies required by the transport server. Registry is
// mandatory; the rest are optional and skipped when nil.
type Deps struct {
	Options   Options
	Registry  *session.Registry
	Responder Responder
	Results   CommandResults
	Inventory DeviceInventory
	Notifier  Notifier
	Sink      EventSink
	Logger    Logger
}

// Server is the device-facing WebSocket listener.
//
// It follows the same lifecycle as the other long-running components:
//
//	srv, err := transport.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
type Server struct {
	registry  *session.Registry
	responder Responder
	results   CommandResults
	inventory DeviceInventory
	notifier  Notifier
	sink      EventSink
	logger    Logger

	host           string
	port           int
	path           string
	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration
	sessionTimeout time.Duration
	sweepInterval  time.Duration
	autoProvision  bool

	upgrader   websocket.Upgrader
	server     *http.Server
	nextConnID atomic.Uint64
	cancel     context.CancelFunc
}

// New creates a transport server from its dependencies. The server does not
// listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("%w: session registry is required", ErrInvalidConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	opts := deps.Options
	s := &Server{
		registry:       deps.Registry,
		responder:      deps.Responder,
		results:        deps.Results,
		inventory:      deps.Inventory,
		notifier:       deps.Notifier,
		sink:           deps.Sink,
		logger:         logger,
		host:           opts.Host,
		port:           opts.Port,
		path:           opts.Path,
		maxMessageSize: opts.MaxMessageSize,
		pingInterval:   opts.PingInterval,
		pongWait:       opts.PongWait,
		sessionTimeout: opts.SessionTimeout,
		sweepInterval:  opts.SweepInterval,
		autoProvision:  opts.AutoProvision,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Devices are not browsers; origin checking does not apply.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	if s.path == "" {
		s.path = defaultPath
	}
	if s.maxMessageSize <= 0 {
		s.maxMessageSize = defaultMaxMessageSize
	}
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}
	if s.pongWait <= 0 {
		s.pongWait = defaultPongWait
	}
	if s.sessionTimeout <= 0 {
		s.sessionTimeout = defaultSessionTimeout
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = defaultSweepInterval
	}

	return s, nil
}

// Start launches the WebSocket listener and the session sweep loop in
// background goroutines. The server is stopped with Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWS)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweepLoop(srvCtx)

	go func() {
		s.logger.Info("device transport listening", "address", s.server.Addr, "path", s.path)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("device transport error", "error", err)
		}
	}()

	return nil
}

// Close stops the sweep loop and drains the listener.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("device transport shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down device transport: %w", err)
	}
	return nil
}

// Handler returns the WebSocket upgrade handler, for mounting under an
// external HTTP server in tests.
func (s *Server) Handler() http.HandlerFunc {
	return s.handleWS
}

// handleWS upgrades the HTTP request and runs the connection pumps. The
// request goroutine becomes the read pump.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := &connection{
		id:     s.nextConnID.Add(1),
		ws:     ws,
		server: s,
	}
	s.registry.StartSession(conn.id)
	s.logger.Debug("connection accepted", "connection", conn.id, "remote", r.RemoteAddr)

	done := make(chan struct{})
	go conn.pingLoop(done)
	conn.readPump()
	close(done)
}

// sweepLoop periodically evicts stale sessions and publishes the rolling
// connection aggregates.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) sweep() {
	evicted := s.registry.Sweep(s.sessionTimeout)
	if len(evicted) > 0 {
		metrics.AddSessionsEvicted(len(evicted))
		s.logger.Info("evicted stale sessions", "count", len(evicted))
	}

	for _, serial := range evicted {
		serialStr := session.IntToSerial(serial)
		if s.inventory != nil {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			if err := s.inventory.SetLastSeen(ctx, serialStr, time.Now().UTC()); err != nil {
				s.logger.Warn("recording last-seen on eviction", "serial", serialStr, "error", err)
			}
			cancel()
		}
		if s.notifier != nil {
			s.notifier.DeviceDisconnected(serialStr)
		}
	}

	connected := s.registry.ConnectedCount()
	metrics.SetDevicesConnected(connected)
	metrics.SetDevicesConnecting(s.registry.SessionCount() - connected)

	if s.notifier != nil {
		devices, avg, connecting := s.registry.AverageDeviceStatistics()
		s.notifier.ConnectionsCount(devices, avg, connecting)
	}
}
