// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensorhub/core/access"
	"github.com/relabs-tech/sensorhub/core/logger"
)

// healthTimeout bounds the database ping of /health
const healthTimeout = 2 * time.Second

var (
	// Version is the version of the current build, set with -ldflags "-X github.com/relabs-tech/sensorhub/api.Version=..."
	Version = "unset"
)

func (s *Service) handleVersion(router *mux.Router) {
	logger.Default().Debugln("  handle route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": Version})
	}).Methods(http.MethodGet)
}

func (s *Service) handleHealth(router *mux.Router) {
	logger.Default().Debugln("  handle route: /health GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := s.health.PingContext(ctx); err != nil {
				logger.FromContext(r.Context()).WithError(err).Errorln("Error 4790: database ping failed")
				access.WriteJSONError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
}
