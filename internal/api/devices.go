package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-aircon/internal/bridges/advantageair"
)

// snapshotResponse is the body of GET /devices/{id}/snapshot.
type snapshotResponse struct {
	DeviceID string                `json:"device_id"`
	Mode     string                `json:"mode"`
	LastPoll *time.Time            `json:"last_poll,omitempty"`
	Snapshot advantageair.Snapshot `json:"snapshot"`
}

// submitResponse is the body of a successful POST /devices/{id}/{endpoint}.
type submitResponse struct {
	CommandID string                 `json:"command_id"`
	Status    advantageair.AckStatus `json:"status"`
	Flushed   bool                   `json:"flushed"`
}

// handleListDevices returns every configured controller.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.DeviceStatuses()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single controller's status.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.bridge.Device(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleGetSnapshot returns the cached snapshot, polling the controller
// when ?refresh=true is given or nothing has been cached yet.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.bridge.Device(id); !ok {
		writeNotFound(w, "device not found")
		return
	}

	snap, ok := s.bridge.Snapshot(id)
	if !ok || r.URL.Query().Get("refresh") == "true" {
		var err error
		snap, err = s.bridge.Refresh(r.Context(), id)
		if err != nil {
			s.logger.Warn("snapshot refresh failed", "device_id", id, "error", err)
			writeBridgeError(w, err)
			return
		}
	}

	st, _ := s.bridge.Device(id)
	writeJSON(w, http.StatusOK, snapshotResponse{
		DeviceID: id,
		Mode:     st.Mode,
		LastPoll: st.LastPoll,
		Snapshot: snap,
	})
}

// handleSubmitChange merges the request body into an endpoint's pending
// batch. 200 means this request flushed the batch, 202 that it rode along
// with a flush already in progress.
func (s *Server) handleSubmitChange(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	endpoint := chi.URLParam(r, "endpoint")

	if _, ok := s.bridge.Device(id); !ok {
		writeNotFound(w, "device not found")
		return
	}
	if _, err := advantageair.ParseEndpointClass(endpoint); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var change map[string]any
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
		case errors.Is(err, io.EOF):
			writeBadRequest(w, "request body is required")
		default:
			writeBadRequest(w, "invalid JSON: "+err.Error())
		}
		return
	}
	if len(change) == 0 {
		writeBadRequest(w, "change must be a non-empty object")
		return
	}

	commandID := uuid.NewString()
	status, err := s.bridge.Submit(r.Context(), advantageair.SubmitRequest{
		ID:       commandID,
		DeviceID: id,
		Endpoint: endpoint,
		Change:   change,
		Source:   "api",
	})
	event := CommandEvent{CommandID: commandID, DeviceID: id, Endpoint: endpoint, Status: status}
	if err != nil {
		s.logger.Warn("change failed",
			"command_id", commandID,
			"request_id", requestID(r.Context()),
			"device_id", id,
			"endpoint", endpoint,
			"error", err)
		e := bridgeError(err)
		event.Status, event.Error = advantageair.AckFailed, &e
		s.broadcastCommand(event)
		writeJSON(w, e.Status, e)
		return
	}
	s.broadcastCommand(event)

	code := http.StatusOK
	if status != advantageair.AckAccepted {
		code = http.StatusAccepted
	}
	writeJSON(w, code, submitResponse{
		CommandID: commandID,
		Status:    status,
		Flushed:   status == advantageair.AckAccepted,
	})
}
