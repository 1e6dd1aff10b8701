// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/sensorhub/account"
	"github.com/relabs-tech/sensorhub/api"
	"github.com/relabs-tech/sensorhub/core/csql"
	"github.com/relabs-tech/sensorhub/core/logger"
	"github.com/relabs-tech/sensorhub/core/registry"
	"github.com/relabs-tech/sensorhub/device"
	"github.com/relabs-tech/sensorhub/sensor"
	"github.com/relabs-tech/sensorhub/wardrobe"
)

// migrations are all tables of the service in dependency order
var migrations = []csql.Migration{registry.Tables, account.Tables, device.Tables, wardrobe.Tables, sensor.Tables}

// migrationKey is the registry key of the last migration
const migrationKey = "migration"

// migrationRecord is written to the registry by the migrate command
type migrationRecord struct {
	Schema  string `json:"schema"`
	Version string `json:"version"`
}

// openDatabase connects to the database and creates missing tables
func openDatabase(ctx context.Context, config csql.Config) (*csql.DB, error) {
	db, err := csql.Open(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx, migrations...); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return db, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API on PORT (default 6543).

DATABASE:

  DB_DSN or DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSL_CA
  DB_SCHEMA, DB_CONNECT_ATTEMPTS, DB_CONNECT_DELAY, DB_MAX_OPEN_CONNS

SESSIONS AND INGESTION:

  SESSION_MAX_AGE, COOKIE_SECURE, INGEST_SECRET`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := &Server{}
			if err := decode(config, &config.LogLevel); err != nil {
				return err
			}
			return serve(cmd.Context(), config)
		},
	}
}

func serve(ctx context.Context, config *Server) error {
	rlog := logger.FromContext(ctx)
	db, err := openDatabase(ctx, config.Database.Config())
	if err != nil {
		return err
	}
	defer db.Close()

	var migration migrationRecord
	migratedAt, err := registry.New(db).Accessor("").Read(ctx, migrationKey, &migration)
	if err != nil {
		return err
	}
	if migratedAt.IsZero() {
		rlog.Infoln("tables created on startup, no migrate run recorded")
	} else {
		rlog.Infof("last migrate run at %s (version %s)", migratedAt.Format(time.RFC3339), migration.Version)
	}

	router := mux.NewRouter()
	service := api.New(&api.Builder{
		Router:        router,
		Sensors:       sensor.NewRepository(db),
		Accounts:      account.NewRepository(db),
		Devices:       device.NewRepository(db),
		Wardrobe:      wardrobe.NewRepository(db),
		Health:        db,
		SessionMaxAge: config.SessionMaxAge,
		CookieSecure:  config.CookieSecure,
		IngestSecret:  []byte(config.IngestSecret),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           service.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()
	color.Green("sensorhub listening on port %d", config.Port)
	if config.IngestSecret == "" {
		rlog.Warnln("INGEST_SECRET is not set, sensor ingestion is unauthenticated")
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	rlog.Infoln("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
