package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ridgelink/apgw-core/internal/session"
)

// Telemetry cadence bounds.
const (
	defaultTelemetryLifetime = time.Hour
	maxTelemetryLifetime     = 24 * time.Hour
)

// telemetryRequest starts, refreshes, or stops telemetry reporting for a
// device. An interval of zero stops both channels.
type telemetryRequest struct {
	Interval int  `json:"interval"`
	Lifetime int  `json:"lifetime"`
	Stream   bool `json:"stream"`
}

// telemetryChannelView is one channel's cadence in a status response.
type telemetryChannelView struct {
	Active   bool   `json:"active"`
	Interval int    `json:"interval,omitempty"`
	Until    string `json:"until,omitempty"`
	Packets  uint64 `json:"packets"`
}

// handleGetTelemetry returns the current cadence for both channels.
func (s *Server) handleGetTelemetry(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	notify, stream, found := s.registry.TelemetryParameters(session.SerialToInt(serial))
	if !found {
		writeNotFound(w, "device not connected")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"serialNumber": serial,
		"notify":       channelView(notify),
		"stream":       channelView(stream),
	})
}

// handleSetTelemetry starts or stops telemetry reporting for a device. The
// cadence lives on the session, so it ends when the device disconnects.
func (s *Server) handleSetTelemetry(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	serialInt := session.SerialToInt(serial)
	if !s.registry.IsConnected(serialInt) {
		writeNotFound(w, "device not connected")
		return
	}

	if req.Interval == 0 {
		s.registry.StopTelemetryReporting(serialInt, session.ChannelNotify)
		s.registry.StopTelemetryReporting(serialInt, session.ChannelStream)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.Interval < 0 {
		writeBadRequest(w, "interval must not be negative")
		return
	}

	interval := time.Duration(req.Interval) * time.Second
	lifetime := defaultTelemetryLifetime
	if req.Lifetime > 0 {
		lifetime = time.Duration(req.Lifetime) * time.Second
	}
	if lifetime > maxTelemetryLifetime {
		lifetime = maxTelemetryLifetime
	}

	channel := session.ChannelNotify
	if req.Stream {
		channel = session.ChannelStream
	}
	s.registry.SetTelemetryReporting(serialInt, channel, interval, lifetime)

	notify, stream, _ := s.registry.TelemetryParameters(serialInt)
	writeJSON(w, http.StatusOK, map[string]any{
		"serialNumber": serial,
		"notify":       channelView(notify),
		"stream":       channelView(stream),
	})
}

func channelView(t session.TelemetryReporting) telemetryChannelView {
	view := telemetryChannelView{
		Active:  t.Active(time.Now().UTC()),
		Packets: t.Packets,
	}
	if view.Active {
		view.Interval = int(t.Interval / time.Second)
		view.Until = t.Until.UTC().Format(time.RFC3339)
	}
	return view
}
