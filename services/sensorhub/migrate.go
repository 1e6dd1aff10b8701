// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/sensorhub/api"
	"github.com/relabs-tech/sensorhub/core/registry"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables",
		Long: `Create the schema and all tables which do not exist yet. Existing tables
and data are left untouched, so the command can run before every deployment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := &Tool{}
			if err := decode(config, &config.LogLevel); err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), config.Database.Config())
			if err != nil {
				return err
			}
			defer db.Close()
			record := migrationRecord{Schema: db.Schema, Version: api.Version}
			if err := registry.New(db).Accessor("").Write(cmd.Context(), migrationKey, record); err != nil {
				return err
			}
			color.Green("schema %s is up to date", db.Schema)
			return nil
		},
	}
}
