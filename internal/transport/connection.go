package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ridgelink/apgw-core/internal/command"
	"github.com/ridgelink/apgw-core/internal/inventory"
	"github.com/ridgelink/apgw-core/internal/metrics"
	"github.com/ridgelink/apgw-core/internal/session"
)

// writeWait is the deadline applied to every outbound frame.
const writeWait = 10 * time.Second

// handlerTimeout bounds the persistence work triggered by a single frame.
const handlerTimeout = 15 * time.Second

// connection is one device WebSocket. It implements session.Sender so the
// registry (and through it the command orchestrator) can push frames to the
// device. A single goroutine runs the read pump; writes are serialized by
// writeMu.
type connection struct {
	id     uint64
	ws     *websocket.Conn
	server *Server

	writeMu sync.Mutex

	// Identity, set by the connect handshake. Zero until then.
	serial    uint64
	serialStr string
	connected bool
}

// WriteFrame sends one text frame to the device.
func (c *connection) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// ping sends a WebSocket-level ping. Failures surface on the read pump when
// the pong deadline lapses.
func (c *connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// readPump reads frames until the connection drops, dispatching each one.
// It owns the read side of the socket and runs the teardown when it exits.
func (c *connection) readPump() {
	defer c.teardown()

	s := c.server
	c.ws.SetReadLimit(s.maxMessageSize)
	deadline := s.pingInterval + s.pongWait
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed unexpectedly",
					"connection", c.id,
					"serial", c.serialStr,
					"error", err,
				)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))

		if err := c.dispatch(data); err != nil {
			s.logger.Warn("closing connection on protocol error",
				"connection", c.id,
				"serial", c.serialStr,
				"error", err,
			)
			return
		}
	}
}

// pingLoop sends protocol pings until the done channel closes.
func (c *connection) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.server.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// teardown unbinds the session and records the disconnect. Safe to call
// exactly once, from the read pump.
func (c *connection) teardown() {
	s := c.server
	_ = c.ws.Close()

	s.registry.EndSession(c.id, c.serial)
	metrics.SetDevicesConnected(s.registry.ConnectedCount())

	if !c.connected {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if s.inventory != nil {
		if err := s.inventory.SetLastSeen(ctx, c.serialStr, time.Now().UTC()); err != nil {
			s.logger.Warn("recording last-seen on disconnect", "serial", c.serialStr, "error", err)
		}
	}
	if s.notifier != nil {
		s.notifier.DeviceDisconnected(c.serialStr)
	}
	s.logger.Info("device disconnected", "serial", c.serialStr, "connection", c.id)
}

// dispatch decodes one frame and routes it. A returned error closes the
// connection; recoverable problems are logged and counted instead.
func (c *connection) dispatch(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.violation("malformed frame", err)
		return ErrMalformedFrame
	}

	// Frames without a method are command responses.
	if env.Method == "" {
		if env.Result == nil || env.ID == 0 {
			c.violation("frame has neither method nor result", nil)
			return nil
		}
		if !c.connected {
			c.violation("response before connect", nil)
			return nil
		}
		metrics.IncFrame("result")
		c.server.registry.Touch(c.serial)
		if c.server.responder != nil {
			c.server.responder.HandleResponse(command.Response{
				SerialNumber: c.serial,
				ID:           env.ID,
				Payload:      env.Result,
			})
		}
		return nil
	}

	metrics.IncFrame(env.Method)

	if env.Method == methodConnect {
		return c.handleConnect(env.Params)
	}

	// Everything else requires an identified device.
	if !c.connected {
		c.violation(env.Method+" before connect", nil)
		return nil
	}
	c.server.registry.Touch(c.serial)

	switch env.Method {
	case methodState:
		c.handleState(env.Params)
	case methodHealthcheck:
		c.handleHealthcheck(env.Params)
	case methodLog:
		c.handleLog(env.Params)
	case methodPing:
		c.handlePing(env.Params)
	case methodTelemetry:
		c.handleTelemetry(env.Params)
	default:
		c.violation("unknown method "+env.Method, nil)
	}
	return nil
}

// handleConnect binds the device identity, refreshes the inventory record,
// and reconciles the reported configuration revision. A mismatch rejection
// or an unusable serial number closes the connection.
func (c *connection) handleConnect(raw json.RawMessage) error {
	s := c.server

	var params connectParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.violation("malformed connect params", err)
		return ErrMalformedFrame
	}
	if !session.ValidSerial(params.Serial) {
		c.violation("connect with invalid serial "+params.Serial, nil)
		return ErrMissingSerial
	}

	serial := session.SerialToInt(params.Serial)
	if err := s.registry.BindDeviceIdentity(c.id, serial, c); err != nil {
		c.violation("identity bind rejected", err)
		return err
	}
	c.serial = serial
	c.serialStr = params.Serial
	c.connected = true

	metrics.IncSessionStarted()
	metrics.SetDevicesConnected(s.registry.ConnectedCount())

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	firmwareChanged := false
	if s.inventory != nil {
		refresh := s.autoProvision
		if !refresh {
			// Without auto-provisioning only known devices get refreshed.
			_, err := s.inventory.Get(ctx, params.Serial)
			refresh = err == nil
		}
		if refresh {
			provisioned, changed, err := s.inventory.RefreshOnConnect(ctx, inventory.ConnectInfo{
				SerialNumber: params.Serial,
				Capabilities: params.Capabilities,
				Firmware:     params.Firmware,
				Compatible:   compatibleFromCapabilities(params.Capabilities),
			})
			if err != nil {
				s.logger.Warn("refreshing device on connect", "serial", params.Serial, "error", err)
			} else {
				firmwareChanged = changed
				if provisioned {
					s.logger.Info("auto-provisioned device", "serial", params.Serial)
				}
			}
		}

		effective, upgraded, err := s.inventory.ResolveUpgrade(ctx, params.Serial, params.UUID)
		if err != nil {
			s.logger.Warn("resolving configuration revision", "serial", params.Serial, "error", err)
			effective = params.UUID
			upgraded = false
		}
		s.registry.SetConfigRevision(serial, effective)
		if upgraded && s.notifier != nil {
			s.notifier.ConfigurationUpgrade(params.Serial, params.UUID, effective)
		}
	} else {
		s.registry.SetConfigRevision(serial, params.UUID)
	}

	if s.notifier != nil {
		s.notifier.DeviceConnected(params.Serial)
		if firmwareChanged {
			s.notifier.FirmwareUpgrade(params.Serial, params.Firmware)
		}
	}

	s.logger.Info("device connected",
		"serial", params.Serial,
		"connection", c.id,
		"firmware", params.Firmware,
		"revision", params.UUID,
	)
	return nil
}

// handleState processes a periodic state report: revision reconciliation,
// association counting, snapshot caching, persistence, and fan-out.
func (c *connection) handleState(raw json.RawMessage) {
	s := c.server

	var params stateParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.violation("malformed state params", err)
		return
	}
	if len(params.State) == 0 {
		c.violation("state report without state object", nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	effective := params.UUID
	if s.inventory != nil {
		resolved, upgraded, err := s.inventory.ResolveUpgrade(ctx, c.serialStr, params.UUID)
		if err != nil {
			s.logger.Warn("resolving configuration revision", "serial", c.serialStr, "error", err)
		} else {
			effective = resolved
			if upgraded && s.notifier != nil {
				s.notifier.ConfigurationUpgrade(c.serialStr, params.UUID, effective)
			}
		}
	}
	s.registry.SetConfigRevision(c.serial, effective)

	assoc2G, assoc5G := ComputeAssociations(params.State)
	s.registry.SetAssociations(c.serial, assoc2G, assoc5G)
	s.registry.SetStatistics(c.serial, string(params.State))

	if s.inventory != nil {
		err := s.inventory.AddStatistics(ctx, &inventory.Statistics{
			SerialNumber: c.serialStr,
			Revision:     effective,
			Data:         params.State,
			Recorded:     time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("persisting state snapshot", "serial", c.serialStr, "error", err)
		}
	}

	// A report produced on demand completes the durable command that asked
	// for it.
	if params.RequestUUID != "" && s.results != nil {
		if err := s.results.SetResult(ctx, params.RequestUUID, string(params.State)); err != nil {
			s.logger.Warn("storing requested state result",
				"serial", c.serialStr,
				"uuid", params.RequestUUID,
				"error", err,
			)
		}
	}

	if s.sink != nil {
		s.sink.WriteStateFrame(c.serialStr, effective, params.State)
		s.sink.WriteAssociations(c.serialStr, assoc2G, assoc5G)
		if s.registry.TelemetryActive(c.serial, session.ChannelStream) {
			s.sink.WriteTelemetry(c.serialStr, params.State)
		}
	}
	if s.notifier != nil {
		s.notifier.DeviceStatistics(c.serialStr)
	}
}

func (c *connection) handleHealthcheck(raw json.RawMessage) {
	s := c.server

	var params healthcheckParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.violation("malformed healthcheck params", err)
		return
	}

	now := time.Now().UTC()
	s.registry.SetHealthcheck(c.serial, session.Healthcheck{
		Revision: params.UUID,
		Sanity:   int(params.Sanity),
		Data:     string(params.Data),
		Recorded: now,
	})

	if s.inventory != nil {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		err := s.inventory.AddHealthcheck(ctx, &inventory.Healthcheck{
			SerialNumber: c.serialStr,
			Revision:     params.UUID,
			Sanity:       params.Sanity,
			Data:         params.Data,
			Recorded:     now,
		})
		if err != nil {
			s.logger.Warn("persisting healthcheck", "serial", c.serialStr, "error", err)
		}
	}
	if s.sink != nil {
		s.sink.WriteHealthcheck(c.serialStr, params.Sanity)
	}
}

// handleLog surfaces device log lines into the gateway log. Severity follows
// syslog numbering, smaller is more severe.
func (c *connection) handleLog(raw json.RawMessage) {
	var params logParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.violation("malformed log params", err)
		return
	}

	switch {
	case params.Severity <= 3:
		c.server.logger.Error("device log", "serial", c.serialStr, "log", params.Log)
	case params.Severity <= 4:
		c.server.logger.Warn("device log", "serial", c.serialStr, "log", params.Log)
	default:
		c.server.logger.Info("device log", "serial", c.serialStr, "log", params.Log)
	}
}

// handlePing answers an application-level keepalive with the bound serial.
func (c *connection) handlePing(raw json.RawMessage) {
	var params pingParams
	_ = json.Unmarshal(raw, &params)

	result, err := json.Marshal(map[string]string{"serial": c.serialStr})
	if err != nil {
		return
	}
	reply := envelope{JSONRPC: "2.0", Result: result}
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := c.WriteFrame(payload); err != nil {
		c.server.logger.Debug("ping reply failed", "serial", c.serialStr, "error", err)
	}
}

// handleTelemetry forwards a telemetry batch to the event-stream sink when
// streaming is active for the device.
func (c *connection) handleTelemetry(raw json.RawMessage) {
	var params telemetryParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.violation("malformed telemetry params", err)
		return
	}
	if len(params.Data) == 0 {
		return
	}
	if c.server.sink != nil && c.server.registry.TelemetryActive(c.serial, session.ChannelStream) {
		c.server.sink.WriteTelemetry(c.serialStr, params.Data)
	}
}

// violation counts and logs a protocol violation without closing the
// connection. Callers that must close return an error from dispatch.
func (c *connection) violation(detail string, err error) {
	metrics.IncProtocolViolation()
	c.server.logger.Warn("protocol violation",
		"connection", c.id,
		"serial", c.serialStr,
		"detail", detail,
		"error", err,
	)
}

// compatibleFromCapabilities pulls the platform compatibility string out of
// a capabilities object, empty when absent.
func compatibleFromCapabilities(capabilities json.RawMessage) string {
	var caps struct {
		Compatible string `json:"compatible"`
	}
	if err := json.Unmarshal(capabilities, &caps); err != nil {
		return ""
	}
	return caps.Compatible
}
