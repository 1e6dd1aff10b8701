// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/access"
	"github.com/relabs-tech/sensorhub/core/logger"
	"github.com/relabs-tech/sensorhub/wardrobe"
)

const wardrobeSaveSchema = "https://relabs.tech/sensorhub/wardrobe-save.json"

func (s *Service) handleWardrobe(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("wardrobe")
	rlog.Debugln("  handle route: /api/save-wardrobe POST")
	rlog.Debugln("  handle route: /api/get-wardrobe GET")

	router.HandleFunc("/api/save-wardrobe", access.RequireAuthorization(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.saveWardrobe(w, r)
	})).Methods(http.MethodPost)

	router.HandleFunc("/api/get-wardrobe", access.RequireAuthorization(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.getWardrobe(w, r)
	})).Methods(http.MethodGet)
}

func (s *Service) saveWardrobe(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	body, err := s.readBody(r, wardrobeSaveSchema)
	if err != nil {
		writeError(w, r, "4760", err)
		return
	}
	var request struct {
		Wardrobe []wardrobe.Item `json:"wardrobe"`
	}
	if err := json.Unmarshal(body, &request); err != nil {
		writeError(w, r, "4760", core.Validation("body", "%s", err))
		return
	}
	if err := s.wardrobe.Replace(r.Context(), auth.UserID, request.Wardrobe); err != nil {
		writeError(w, r, "4761", err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Service) getWardrobe(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	items, err := s.wardrobe.List(r.Context(), auth.UserID)
	if err != nil {
		writeError(w, r, "4762", err)
		return
	}
	writeJSON(w, map[string]interface{}{"wardrobe": items})
}
