// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"github.com/spf13/cobra"

	"github.com/relabs-tech/sensorhub/api"
)

func newRootCmd() *cobra.Command {
	var envFile string
	rootCmd := &cobra.Command{
		Use:   "sensorhub",
		Short: "Sensor readings service and MQTT ingestion bridge",
		Long: `Sensorhub stores temperature, humidity and light readings in postgres and
serves them over a JSON API with user accounts, device ownership and a wardrobe.

COMMANDS:

  serve     run the HTTP API
  bridge    forward MQTT readings to the HTTP API
  migrate   create the database tables
  seed      load readings from a CSV file

CONFIGURATION:

  All settings are environment variables. A .env file in the working directory
  is loaded first, variables already set take precedence.`,
		Version:      api.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional file with environment variables")

	rootCmd.AddCommand(newServeCmd(), newBridgeCmd(), newMigrateCmd(), newSeedCmd())
	return rootCmd
}
