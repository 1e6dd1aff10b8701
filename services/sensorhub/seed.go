// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/sensorhub/core/registry"
	"github.com/relabs-tech/sensorhub/sensor"
)

// seedRecord is written to the registry after every seed run
type seedRecord struct {
	File string `json:"file"`
	Rows int    `json:"rows"`
}

func newSeedCmd() *cobra.Command {
	var sensorType string
	cmd := &cobra.Command{
		Use:   "seed <file.csv>",
		Short: "Load readings from a CSV file",
		Long: `Load readings from a CSV file. The header row names the columns timestamp
and value, unit and device_id are optional. All rows are inserted in one
transaction, a single bad row loads nothing.

EXAMPLE:

  sensorhub seed --type temperature readings.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := sensor.ParseType(sensorType)
			if err != nil {
				return fmt.Errorf("--type must be temperature, humidity or light: %w", err)
			}
			config := &Tool{}
			if err := decode(config, &config.LogLevel); err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			db, err := openDatabase(cmd.Context(), config.Database.Config())
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := sensor.LoadCSV(cmd.Context(), sensor.NewRepository(db), t, file)
			if err != nil {
				return err
			}
			err = registry.New(db).Accessor("seed").Write(cmd.Context(), t.String(), seedRecord{File: args[0], Rows: n})
			if err != nil {
				return err
			}
			color.Green("loaded %d %s readings", n, t)
			return nil
		},
	}
	cmd.Flags().StringVar(&sensorType, "type", "temperature", "sensor type of the readings")
	return cmd
}
