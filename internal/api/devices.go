package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devsync-core/internal/device"
)

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - user_id: filter by owning user
//   - protocol: filter by protocol (ble, wifi, usb, mqtt)
//   - status: filter by device status (active, inactive, ...)
//   - online: filter by link state (true or false)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		devices []device.Device
		err     error
	)
	if userID := q.Get("user_id"); userID != "" {
		devices, err = s.devices.ListByUser(ctx, userID)
	} else {
		devices, err = s.devices.ListDevices(ctx)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var online *bool
	if raw := q.Get("online"); raw != "" {
		v, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			writeStatus(w, http.StatusBadRequest, "online must be true or false")
			return
		}
		online = &v
	}
	protocol := device.Protocol(q.Get("protocol"))
	status := device.Status(q.Get("status"))

	filtered := devices[:0]
	for _, d := range devices {
		if protocol != "" && d.Protocol != protocol {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		if online != nil && d.IsOnline != *online {
			continue
		}
		filtered = append(filtered, d)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": filtered, "count": len(filtered)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.devices.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device. Its pending commands are cancelled
// by the registry delete hook; commands, telemetry and configuration rows
// cascade with it.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.devices.DeleteDevice(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("device deleted via API", "device_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.GetStats())
}
