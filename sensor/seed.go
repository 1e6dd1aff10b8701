// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package sensor

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/relabs-tech/sensorhub/core"
)

// BatchInserter stores many readings at once
type BatchInserter interface {
	InsertBatch(ctx context.Context, t Type, readings []Reading) (int, error)
}

// ParseCSV reads readings from CSV data. The first record is a header which must
// name the columns "timestamp" and "value"; "unit" and "device_id" are optional.
func ParseCSV(r io.Reader) ([]Reading, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err == io.EOF {
		return nil, core.Validation("csv", "missing header")
	}
	if err != nil {
		return nil, err
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"timestamp", "value"} {
		if _, ok := columns[required]; !ok {
			return nil, core.Validation("csv", "missing column %q", required)
		}
	}
	field := func(record []string, name string) string {
		if i, ok := columns[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	readings := []Reading{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		timestamp, err := ParseTimestamp(field(record, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := strconv.ParseFloat(field(record, "value"), 64)
		if err != nil {
			return nil, core.Validation("value", "line %d: %q is not a number", line, field(record, "value"))
		}
		readings = append(readings, Reading{
			DeviceID:  field(record, "device_id"),
			Timestamp: timestamp,
			Value:     value,
			Unit:      field(record, "unit"),
		})
	}
	return readings, nil
}

// LoadCSV parses CSV data with ParseCSV and stores all readings in one batch
func LoadCSV(ctx context.Context, store BatchInserter, t Type, r io.Reader) (int, error) {
	readings, err := ParseCSV(r)
	if err != nil {
		return 0, err
	}
	if len(readings) == 0 {
		return 0, nil
	}
	return store.InsertBatch(ctx, t, readings)
}
