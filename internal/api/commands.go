package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ridgelink/apgw-core/internal/command"
	"github.com/ridgelink/apgw-core/internal/inventory"
	"github.com/ridgelink/apgw-core/internal/metrics"
	"github.com/ridgelink/apgw-core/internal/session"
)

// submitCommandRequest is the request body for POST /device/{serial}/command.
type submitCommandRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// handleSubmitCommand persists a pending command for a device. Delivery is
// asynchronous; the scheduler picks the record up on its next cycle. A
// configure command additionally records the pushed revision as pending on
// the inventory record, so later state reports can resolve the upgrade.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	var req submitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	var pendingRevision uint64
	if req.Command == command.ConfigureCommand {
		var cfg struct {
			UUID uint64 `json:"uuid"`
		}
		if err := json.Unmarshal(req.Payload, &cfg); err != nil || cfg.UUID == 0 {
			writeBadRequest(w, "configure payload requires a uuid revision")
			return
		}
		if _, err := s.devices.Get(r.Context(), serial); err != nil {
			if errors.Is(err, inventory.ErrDeviceNotFound) {
				writeNotFound(w, "device not registered")
				return
			}
			s.logger.Error("fetching device", "serial", serial, "error", err)
			writeInternalError(w, "failed to fetch device")
			return
		}
		pendingRevision = cfg.UUID
	}

	cmd := &command.Command{
		UUID:         uuid.New().String(),
		SerialNumber: serial,
		Command:      req.Command,
		Details:      req.Payload,
		SubmittedBy:  subjectFrom(r),
	}

	if err := s.commands.Add(r.Context(), cmd); err != nil {
		s.logger.Error("persisting command", "serial", serial, "error", err)
		writeInternalError(w, "failed to persist command")
		return
	}
	metrics.IncCommandSubmitted()

	if pendingRevision != 0 {
		if err := s.devices.SetPendingRevision(r.Context(), serial, pendingRevision); err != nil {
			s.logger.Error("recording pending revision",
				"serial", serial, "revision", pendingRevision, "error", err)
		}
	}

	s.logger.Info("command submitted",
		"serial", serial,
		"command", req.Command,
		"uuid", cmd.UUID,
	)
	writeJSON(w, http.StatusCreated, cmd)
}

// handleListCommands returns command history for a device, newest first.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	serial := r.URL.Query().Get("serialNumber")
	if !session.ValidSerial(serial) {
		writeBadRequest(w, "invalid serialNumber parameter")
		return
	}
	offset, limit := pagination(r)

	commands, err := s.commands.List(r.Context(), serial, offset, limit)
	if err != nil {
		s.logger.Error("listing commands", "serial", serial, "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands})
}

// handleGetCommand returns one durable command record.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")

	cmd, err := s.commands.Get(r.Context(), id)
	if errors.Is(err, command.ErrCommandNotFound) {
		writeNotFound(w, "command not found")
		return
	}
	if err != nil {
		s.logger.Error("fetching command", "uuid", id, "error", err)
		writeInternalError(w, "failed to fetch command")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleDeleteCommand removes a command record. In-flight commands cannot
// be deleted; the response for one would complete against a missing row.
func (s *Server) handleDeleteCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")

	if s.tracker != nil && s.tracker.IsCommandRunning(id) {
		writeConflict(w, "command is in flight")
		return
	}

	if err := s.commands.Delete(r.Context(), id); err != nil {
		if errors.Is(err, command.ErrCommandNotFound) {
			writeNotFound(w, "command not found")
			return
		}
		s.logger.Error("deleting command", "uuid", id, "error", err)
		writeInternalError(w, "failed to delete command")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
