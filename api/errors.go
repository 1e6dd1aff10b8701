// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/access"
	"github.com/relabs-tech/sensorhub/core/logger"
)

// maxBodySize limits JSON request bodies
const maxBodySize = 1 << 20

// writeJSON writes object as JSON with status 200
func writeJSON(w http.ResponseWriter, object interface{}) {
	jsonData, err := json.Marshal(object)
	if err != nil {
		http.Error(w, "Error 4702", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}

// writeMessage writes {"message": message}
func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, map[string]string{"message": message})
}

// writeError classifies err and writes the matching status code with an {"error"} body.
// Unclassified errors are logged and answered with a numbered 500.
func writeError(w http.ResponseWriter, r *http.Request, code string, err error) {
	var validationErr *core.ValidationError
	switch {
	case errors.As(err, &validationErr):
		access.WriteJSONError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, core.ErrNotFound):
		access.WriteJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrInvalidCredentials):
		access.WriteJSONError(w, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, core.ErrUnauthorized):
		access.WriteJSONError(w, http.StatusUnauthorized, "Not logged in")
	case errors.Is(err, core.ErrForbidden):
		access.WriteJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrConflict):
		access.WriteJSONError(w, http.StatusConflict, err.Error())
	default:
		logger.FromContext(r.Context()).WithError(err).Errorf("Error %s: %s %s", code, r.Method, r.URL.Path)
		access.WriteJSONError(w, http.StatusInternalServerError, "Error "+code)
	}
}

// readBody reads a JSON body and validates it against schemaID
func (s *Service) readBody(r *http.Request, schemaID string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, core.Validation("body", "cannot read body: %s", err)
	}
	if err := s.validator.ValidateBytes(body, schemaID); err != nil {
		return nil, err
	}
	return body, nil
}
