package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/haier-bridge/internal/bridges/haier"
)

// deviceView is a device with its last pushed state, when known.
type deviceView struct {
	haier.Device
	State *haier.DeviceState `json:"state,omitempty"`
}

// controlRequest is the body of POST /devices/{id}/control.
type controlRequest struct {
	Attributes map[string]any `json:"attributes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": s.version,
		})
		return
	}
	writeJSON(w, http.StatusOK, s.health.Current())
}

// handleListDevices returns the selected devices without attribute models.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.service.Devices()
	out := make([]haier.Device, len(devices))
	for i, d := range devices {
		d.Attributes = nil
		out[i] = d
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.service.Device(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	view := deviceView{Device: withoutValues(d)}
	if s.state != nil {
		if st, ok := s.state.Device(id); ok {
			view.State = &st
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// withoutValues strips the values captured when the model was cached;
// live values come from state or the snapshot endpoint.
func withoutValues(d haier.Device) haier.Device {
	attrs := make([]haier.Attribute, len(d.Attributes))
	for i, a := range d.Attributes {
		a.Value = nil
		a.HasValue = false
		attrs[i] = a
	}
	d.Attributes = attrs
	return d
}

// handleGetSnapshot fetches live values from the cloud.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	values, err := s.service.Snapshot(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"device_id":  id,
			"attributes": values,
			"timestamp":  time.Now().UTC(),
		})
	case errors.Is(err, haier.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	default:
		s.logger.Warn("snapshot failed", "device_id", id, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "cloud request failed")
	}
}

// handleControl forwards a command to the live gateway session. The
// device's next push reflects the outcome, so success is 202.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Attributes) == 0 {
		writeBadRequest(w, "attributes must not be empty")
		return
	}

	err := s.service.Control(haier.ControlEvent{DeviceID: id, Attributes: req.Attributes})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":    "accepted",
			"device_id": id,
		})
	case errors.Is(err, haier.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, haier.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "gateway not connected")
	default:
		s.logger.Error("control failed", "device_id", id, "error", err)
		writeInternalError(w, "control failed")
	}
}

// handleRefreshModel refetches a device's attribute model from the cloud.
func (s *Server) handleRefreshModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.service.RefreshModel(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, withoutValues(d))
	case errors.Is(err, haier.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	default:
		s.logger.Warn("model refresh failed", "device_id", id, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "cloud request failed")
	}
}
