// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/logger"
	"github.com/relabs-tech/sensorhub/sensor"
)

// the schema ids of the reading bodies
const (
	readingCreateSchema = "https://relabs.tech/sensorhub/reading-create.json"
	readingUpdateSchema = "https://relabs.tech/sensorhub/reading-update.json"
)

// readingBody is the request body of reading creation and update
type readingBody struct {
	Value     *float64 `json:"value"`
	Unit      *string  `json:"unit"`
	Timestamp *string  `json:"timestamp"`
	DeviceID  *string  `json:"device_id"`
}

func (b readingBody) reading() (sensor.Reading, error) {
	rd := sensor.Reading{}
	if b.Value != nil {
		rd.Value = *b.Value
	}
	if b.Unit != nil {
		rd.Unit = *b.Unit
	}
	if b.DeviceID != nil {
		rd.DeviceID = *b.DeviceID
	}
	if b.Timestamp != nil {
		t, err := sensor.ParseTimestamp(*b.Timestamp)
		if err != nil {
			return rd, err
		}
		rd.Timestamp = t
	}
	return rd, nil
}

func (b readingBody) patch() (sensor.Patch, error) {
	patch := sensor.Patch{Value: b.Value, Unit: b.Unit, DeviceID: b.DeviceID}
	if b.Timestamp != nil {
		t, err := sensor.ParseTimestamp(*b.Timestamp)
		if err != nil {
			return patch, err
		}
		patch.Timestamp = &t
	}
	return patch, nil
}

func sensorTypeFromRequest(r *http.Request) (sensor.Type, error) {
	return sensor.ParseType(mux.Vars(r)["sensorType"])
}

func readingIDFromRequest(r *http.Request) (int64, error) {
	s := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("reading %q: %w", s, core.ErrNotFound)
	}
	return id, nil
}

func (s *Service) handleReadings(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("readings")
	rlog.Debugln("  handle route: /api/{sensorType} GET,POST")
	rlog.Debugln("  handle route: /api/{sensorType}/count GET")
	rlog.Debugln("  handle route: /api/{sensorType}/{id} GET,PUT,DELETE")

	listRoute := "/api/{sensorType}"
	countRoute := "/api/{sensorType}/count"
	itemRoute := "/api/{sensorType}/{id}"

	router.Handle(listRoute, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.listReadings(w, r)
	}))).Methods(http.MethodGet)

	router.Handle(listRoute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.createReading(w, r)
	})).Methods(http.MethodPost).Name(routeCreateReading)

	router.Handle(countRoute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.countReadings(w, r)
	})).Methods(http.MethodGet)

	router.Handle(itemRoute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.getReading(w, r)
	})).Methods(http.MethodGet)

	router.Handle(itemRoute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.updateReading(w, r)
	})).Methods(http.MethodPut)

	router.Handle(itemRoute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.deleteReading(w, r)
	})).Methods(http.MethodDelete)
}

func (s *Service) listReadings(w http.ResponseWriter, r *http.Request) {
	t, err := sensorTypeFromRequest(r)
	if err != nil {
		writeError(w, r, "4710", err)
		return
	}
	filter, err := sensor.ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, "4710", err)
		return
	}
	readings, err := s.sensors.List(r.Context(), t, filter)
	if err != nil {
		writeError(w, r, "4711", err)
		return
	}
	writeJSON(w, readings)
}

func (s *Service) countReadings(w http.ResponseWriter, r *http.Request) {
	t, err := sensorTypeFromRequest(r)
	if err != nil {
		writeError(w, r, "4712", err)
		return
	}
	count, err := s.sensors.Count(r.Context(), t)
	if err != nil {
		writeError(w, r, "4712", err)
		return
	}
	writeJSON(w, map[string]int64{"count": count})
}

func (s *Service) getReading(w http.ResponseWriter, r *http.Request) {
	t, err := sensorTypeFromRequest(r)
	if err != nil {
		writeError(w, r, "4713", err)
		return
	}
	id, err := readingIDFromRequest(r)
	if err != nil {
		writeError(w, r, "4713", err)
		return
	}
	rd, err := s.sensors.Get(r.Context(), t, id)
	if err != nil {
		writeError(w, r, "4713", err)
		return
	}
	writeJSON(w, rd)
}

// decodeReading reads and validates the body of a reading creation
func (s *Service) decodeReading(r *http.Request) (sensor.Reading, error) {
	body, err := s.readBody(r, readingCreateSchema)
	if err != nil {
		return sensor.Reading{}, err
	}
	var rb readingBody
	if err := json.Unmarshal(body, &rb); err != nil {
		return sensor.Reading{}, core.Validation("body", "%s", err)
	}
	return rb.reading()
}

func (s *Service) createReading(w http.ResponseWriter, r *http.Request) {
	t, err := sensorTypeFromRequest(r)
	if err != nil {
		writeError(w, r, "4714", err)
		return
	}
	rd, err := s.decodeReading(r)
	if err != nil {
		writeError(w, r, "4714", err)
		return
	}
	id, err := s.sensors.Insert(r.Context(), t, rd)
	if err != nil {
		writeError(w, r, "4715", err)
		return
	}
	writeJSON(w, map[string]int64{"id": id})
}

func (s *Service) updateReading(w http.ResponseWriter, r *http.Request) {
	t, err := sensorTypeFromRequest(r)
	if err != nil {
		writeError(w, r, "4716", err)
		return
	}
	id, err := readingIDFromRequest(r)
	if err != nil {
		writeError(w, r, "4716", err)
		return
	}
	body, err := s.readBody(r, readingUpdateSchema)
	if err != nil {
		writeError(w, r, "4716", err)
		return
	}
	var rb readingBody
	if err := json.Unmarshal(body, &rb); err != nil {
		writeError(w, r, "4716", core.Validation("body", "%s", err))
		return
	}
	patch, err := rb.patch()
	if err != nil {
		writeError(w, r, "4716", err)
		return
	}
	if err := s.sensors.Update(r.Context(), t, id, patch); err != nil {
		writeError(w, r, "4717", err)
		return
	}
	writeMessage(w, fmt.Sprintf("%s reading %d updated", t, id))
}

func (s *Service) deleteReading(w http.ResponseWriter, r *http.Request) {
	t, err := sensorTypeFromRequest(r)
	if err != nil {
		writeError(w, r, "4718", err)
		return
	}
	id, err := readingIDFromRequest(r)
	if err != nil {
		writeError(w, r, "4718", err)
		return
	}
	if err := s.sensors.Delete(r.Context(), t, id); err != nil {
		writeError(w, r, "4718", err)
		return
	}
	writeMessage(w, fmt.Sprintf("%s reading %d deleted", t, id))
}
