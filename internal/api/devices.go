package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ridgelink/apgw-core/internal/inventory"
	"github.com/ridgelink/apgw-core/internal/session"
)

// List pagination bounds.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// deviceStatus is the live session view of one device.
type deviceStatus struct {
	SerialNumber   string     `json:"serialNumber"`
	Connected      bool       `json:"connected"`
	Started        *time.Time `json:"started,omitempty"`
	LastContact    *time.Time `json:"lastContact,omitempty"`
	ConfigRevision uint64     `json:"uuid"`
	Certificate    string     `json:"certificate"`
	Associations2G int        `json:"associations_2g"`
	Associations5G int        `json:"associations_5g"`
	RunningCommand string     `json:"runningCommand,omitempty"`
}

// handleListDevices returns the device inventory, paginated by serial number.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)

	devices, err := s.devices.List(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	count, err := s.devices.Count(r.Context())
	if err != nil {
		s.logger.Error("counting devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   count,
	})
}

// handleGetDevice returns one inventory record.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	device, err := s.devices.Get(r.Context(), serial)
	if errors.Is(err, inventory.ErrDeviceNotFound) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("fetching device", "serial", serial, "error", err)
		writeInternalError(w, "failed to fetch device")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// handleDeleteDevice removes a device from the inventory. Live sessions are
// untouched; the device can re-provision on its next connect.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	if err := s.devices.Delete(r.Context(), serial); err != nil {
		if errors.Is(err, inventory.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("deleting device", "serial", serial, "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceStatus returns the live session state for a device.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	serialInt := session.SerialToInt(serial)
	status := deviceStatus{SerialNumber: serial, Certificate: session.CertNotChecked.String()}

	if state, found := s.registry.GetState(serialInt); found {
		status.Connected = state.Connected
		status.ConfigRevision = state.ConfigRevision
		status.Certificate = state.Certificate.String()
		status.Associations2G = state.Associations2G
		status.Associations5G = state.Associations5G
		if !state.Started.IsZero() {
			started := state.Started
			status.Started = &started
		}
		if !state.LastContact.IsZero() {
			last := state.LastContact
			status.LastContact = &last
		}
	}

	if s.tracker != nil {
		if uuid, _, running := s.tracker.CommandRunningForDevice(serialInt); running {
			status.RunningCommand = uuid
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// handleDeviceStatistics returns the most recent state snapshot for a device.
func (s *Server) handleDeviceStatistics(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	stats, err := s.devices.LatestStatistics(r.Context(), serial)
	if errors.Is(err, inventory.ErrDeviceNotFound) {
		writeNotFound(w, "no statistics recorded")
		return
	}
	if err != nil {
		s.logger.Error("fetching statistics", "serial", serial, "error", err)
		writeInternalError(w, "failed to fetch statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDeviceHealthcheck returns the most recent healthcheck for a device.
func (s *Server) handleDeviceHealthcheck(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	hc, err := s.devices.LatestHealthcheck(r.Context(), serial)
	if errors.Is(err, inventory.ErrDeviceNotFound) {
		writeNotFound(w, "no healthcheck recorded")
		return
	}
	if err != nil {
		s.logger.Error("fetching healthcheck", "serial", serial, "error", err)
		writeInternalError(w, "failed to fetch healthcheck")
		return
	}
	writeJSON(w, http.StatusOK, hc)
}

// serialParam extracts and validates the {serial} URL parameter, writing a
// 400 response on failure.
func serialParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	serial := chi.URLParam(r, "serial")
	if !session.ValidSerial(serial) {
		writeBadRequest(w, "invalid serial number")
		return "", false
	}
	return serial, true
}

// pagination parses offset/limit query parameters with defaults and caps.
func pagination(r *http.Request) (offset, limit int) {
	limit = defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = min(v, maxListLimit)
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	return offset, limit
}
