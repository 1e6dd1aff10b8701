// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/access"
	"github.com/relabs-tech/sensorhub/core/logger"
	"github.com/relabs-tech/sensorhub/sensor"
)

const deviceCreateSchema = "https://relabs.tech/sensorhub/device-create.json"

func (s *Service) handleDevices(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("devices")
	rlog.Debugln("  handle route: /api/devices GET,POST")
	rlog.Debugln("  handle route: /api/devices/{deviceId} GET,DELETE")

	router.HandleFunc("/api/devices", access.RequireAuthorization(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.listDevices(w, r)
	})).Methods(http.MethodGet)

	router.HandleFunc("/api/devices", access.RequireAuthorization(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.addDevice(w, r)
	})).Methods(http.MethodPost)

	router.HandleFunc("/api/devices/{deviceId}", access.RequireAuthorization(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.getDevice(w, r)
	})).Methods(http.MethodGet)

	router.HandleFunc("/api/devices/{deviceId}", access.RequireAuthorization(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.deleteDevice(w, r)
	})).Methods(http.MethodDelete)
}

func (s *Service) listDevices(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	devices, err := s.devices.List(r.Context(), auth.UserID)
	if err != nil {
		writeError(w, r, "4740", err)
		return
	}
	writeJSON(w, map[string]interface{}{"devices": devices})
}

func (s *Service) addDevice(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	body, err := s.readBody(r, deviceCreateSchema)
	if err != nil {
		writeError(w, r, "4741", err)
		return
	}
	var request struct {
		DeviceID string `json:"deviceId"`
	}
	if err := json.Unmarshal(body, &request); err != nil {
		writeError(w, r, "4741", core.Validation("body", "%s", err))
		return
	}
	if err := s.devices.Add(r.Context(), auth.UserID, request.DeviceID); err != nil {
		writeError(w, r, "4742", err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

// getDevice returns all owners of a device, provided the caller owns it as well
func (s *Service) getDevice(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	deviceID := mux.Vars(r)["deviceId"]
	owns, err := s.devices.Owns(r.Context(), auth.UserID, deviceID)
	if err != nil {
		writeError(w, r, "4743", err)
		return
	}
	if !owns {
		writeError(w, r, "4743", fmt.Errorf("device %q: %w", deviceID, core.ErrNotFound))
		return
	}
	owners, err := s.devices.FindByDeviceID(r.Context(), deviceID)
	if err != nil {
		writeError(w, r, "4743", err)
		return
	}
	writeJSON(w, map[string]interface{}{"devices": owners})
}

func (s *Service) deleteDevice(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	if err := s.devices.Delete(r.Context(), auth.UserID, mux.Vars(r)["deviceId"]); err != nil {
		writeError(w, r, "4744", err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

// handleDeviceReadings adds the readings routes scoped to the devices of the caller
func (s *Service) handleDeviceReadings(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("device readings")
	rlog.Debugln("  handle route: /api/sensor/{sensorType} GET,POST")
	rlog.Debugln("  handle route: /api/sensor/{sensorType}/latest GET")

	router.Handle("/api/sensor/{sensorType}", handlers.CompressHandler(access.RequireAuthorization(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.listDeviceReadings(w, r)
	}))).Methods(http.MethodGet)

	router.HandleFunc("/api/sensor/{sensorType}/latest", access.RequireAuthorization(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.latestDeviceReading(w, r)
	})).Methods(http.MethodGet)

	router.HandleFunc("/api/sensor/{sensorType}", access.RequireAuthorization(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.createDeviceReading(w, r)
	})).Methods(http.MethodPost)
}

// requireOwnership fails with core.ErrForbidden unless the caller owns deviceID
func (s *Service) requireOwnership(r *http.Request, deviceID string) error {
	auth := access.AuthorizationFromContext(r.Context())
	owns, err := s.devices.Owns(r.Context(), auth.UserID, deviceID)
	if err != nil {
		return err
	}
	if !owns {
		return fmt.Errorf("device %q is not registered to you: %w", deviceID, core.ErrForbidden)
	}
	return nil
}

func (s *Service) listDeviceReadings(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	t, err := sensorTypeFromRequest(r)
	if err != nil {
		writeError(w, r, "4750", err)
		return
	}
	filter, err := sensor.ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, "4750", err)
		return
	}
	if filter.DeviceID != "" {
		if err := s.requireOwnership(r, filter.DeviceID); err != nil {
			writeError(w, r, "4751", err)
			return
		}
	}
	deviceIDs, err := s.devices.DeviceIDs(r.Context(), auth.UserID)
	if err != nil {
		writeError(w, r, "4751", err)
		return
	}
	readings, err := s.sensors.ListForDevices(r.Context(), t, deviceIDs, filter)
	if err != nil {
		writeError(w, r, "4752", err)
		return
	}
	writeJSON(w, readings)
}

func (s *Service) latestDeviceReading(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	t, err := sensorTypeFromRequest(r)
	if err != nil {
		writeError(w, r, "4753", err)
		return
	}
	var deviceIDs []string
	if deviceID := r.URL.Query().Get("device-id"); deviceID != "" {
		if err := s.requireOwnership(r, deviceID); err != nil {
			writeError(w, r, "4753", err)
			return
		}
		deviceIDs = []string{deviceID}
	} else if deviceIDs, err = s.devices.DeviceIDs(r.Context(), auth.UserID); err != nil {
		writeError(w, r, "4753", err)
		return
	}
	rd, err := s.sensors.Latest(r.Context(), t, deviceIDs)
	if err != nil {
		writeError(w, r, "4754", err)
		return
	}
	writeJSON(w, rd)
}

func (s *Service) createDeviceReading(w http.ResponseWriter, r *http.Request) {
	t, err := sensorTypeFromRequest(r)
	if err != nil {
		writeError(w, r, "4755", err)
		return
	}
	rd, err := s.decodeReading(r)
	if err != nil {
		writeError(w, r, "4755", err)
		return
	}
	if rd.DeviceID == "" {
		writeError(w, r, "4755", core.Validation("device_id", "Device ID is required"))
		return
	}
	if err := s.requireOwnership(r, rd.DeviceID); err != nil {
		writeError(w, r, "4756", err)
		return
	}
	id, err := s.sensors.Insert(r.Context(), t, rd)
	if err != nil {
		writeError(w, r, "4757", err)
		return
	}
	writeJSON(w, map[string]int64{"id": id})
}
