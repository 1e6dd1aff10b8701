// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package sensor

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/csql"
	"github.com/relabs-tech/sensorhub/core/logger"
)

// now is the clock for default timestamps
var now = time.Now

// Tables creates one relation per sensor type
func Tables(db *csql.DB) string {
	ddl := ""
	for _, t := range Types() {
		ddl += `CREATE TABLE IF NOT EXISTS ` + db.Table(t.String()) + ` 
(id SERIAL PRIMARY KEY,
device_id VARCHAR(255),
timestamp TIMESTAMP NOT NULL,
value DOUBLE PRECISION NOT NULL,
unit VARCHAR(50) NOT NULL DEFAULT '` + t.DefaultUnit() + `'
);
CREATE INDEX IF NOT EXISTS ` + t.String() + `_timestamp_idx ON ` + db.Table(t.String()) + `(timestamp);
`
	}
	return ddl
}

// Repository stores readings in postgres
type Repository struct {
	db *csql.DB
}

// NewRepository returns a repository for db. The relations are created by
// db.EnsureSchema(ctx, sensor.Tables).
func NewRepository(db *csql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) table(t Type) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("sensor type %s: %w", t, core.ErrNotFound)
	}
	return r.db.Table(t.String()), nil
}

const readingColumns = "id, device_id, timestamp, value, unit"

func scanReading(scan func(dest ...interface{}) error) (Reading, error) {
	var (
		rd       Reading
		deviceID sql.NullString
	)
	err := scan(&rd.ID, &deviceID, &rd.Timestamp, &rd.Value, &rd.Unit)
	rd.DeviceID = deviceID.String
	return rd, err
}

// List returns all readings of type t passing filter f
func (r *Repository) List(ctx context.Context, t Type, f Filter) ([]Reading, error) {
	return r.list(ctx, t, nil, f)
}

// ListForDevices is List restricted to the given devices. An empty device list yields
// an empty result.
func (r *Repository) ListForDevices(ctx context.Context, t Type, deviceIDs []string, f Filter) ([]Reading, error) {
	if len(deviceIDs) == 0 {
		if _, err := r.table(t); err != nil {
			return nil, err
		}
		return []Reading{}, nil
	}
	return r.list(ctx, t, deviceIDs, f)
}

func (r *Repository) list(ctx context.Context, t Type, deviceIDs []string, f Filter) ([]Reading, error) {
	table, err := r.table(t)
	if err != nil {
		return nil, err
	}
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if deviceIDs != nil {
		where = append(where, "device_id = ANY("+arg(pq.Array(deviceIDs))+")")
	}
	if f.DeviceID != "" {
		where = append(where, "device_id = "+arg(f.DeviceID))
	}
	if f.Start != nil {
		where = append(where, "timestamp >= "+arg(*f.Start))
	}
	if f.End != nil {
		where = append(where, "timestamp <= "+arg(*f.End))
	}
	query := "SELECT " + readingColumns + " FROM " + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + f.OrderBy.clause() + ";"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.Query(t.String(), core.OperationList, err)
	}
	defer rows.Close()
	readings := []Reading{}
	for rows.Next() {
		rd, err := scanReading(rows.Scan)
		if err != nil {
			return nil, core.Query(t.String(), core.OperationList, err)
		}
		readings = append(readings, rd)
	}
	return readings, core.Query(t.String(), core.OperationList, rows.Err())
}

// Latest returns the most recent reading of any of the given devices
func (r *Repository) Latest(ctx context.Context, t Type, deviceIDs []string) (Reading, error) {
	table, err := r.table(t)
	if err != nil {
		return Reading{}, err
	}
	if len(deviceIDs) == 0 {
		return Reading{}, fmt.Errorf("latest %s reading: %w", t, core.ErrNotFound)
	}
	rd, err := scanReading(r.db.QueryRowContext(ctx,
		"SELECT "+readingColumns+" FROM "+table+" WHERE device_id = ANY($1) ORDER BY timestamp DESC, id DESC LIMIT 1;",
		pq.Array(deviceIDs)).Scan)
	if err == csql.ErrNoRows {
		return Reading{}, fmt.Errorf("latest %s reading: %w", t, core.ErrNotFound)
	}
	if err != nil {
		return Reading{}, core.Query(t.String(), core.OperationRead, err)
	}
	return rd, nil
}

// Get returns the reading with id
func (r *Repository) Get(ctx context.Context, t Type, id int64) (Reading, error) {
	table, err := r.table(t)
	if err != nil {
		return Reading{}, err
	}
	rd, err := scanReading(r.db.QueryRowContext(ctx,
		"SELECT "+readingColumns+" FROM "+table+" WHERE id = $1;", id).Scan)
	if err == csql.ErrNoRows {
		return Reading{}, fmt.Errorf("%s reading %d: %w", t, id, core.ErrNotFound)
	}
	if err != nil {
		return Reading{}, core.Query(t.String(), core.OperationRead, err)
	}
	return rd, nil
}

// withDefaults fills in the current time and the default unit
func withDefaults(t Type, rd Reading) Reading {
	if rd.Timestamp.IsZero() {
		rd.Timestamp = now().Truncate(time.Second)
	}
	if rd.Unit == "" {
		rd.Unit = t.DefaultUnit()
	}
	return rd
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Insert stores a new reading and returns its generated id. A zero timestamp
// defaults to now, an empty unit to the default unit of the sensor type.
func (r *Repository) Insert(ctx context.Context, t Type, rd Reading) (int64, error) {
	table, err := r.table(t)
	if err != nil {
		return 0, err
	}
	rd = withDefaults(t, rd)
	var id int64
	err = r.db.QueryRowContext(ctx,
		"INSERT INTO "+table+" (device_id, timestamp, value, unit) VALUES ($1, $2, $3, $4) RETURNING id;",
		nullString(rd.DeviceID), rd.Timestamp, rd.Value, rd.Unit).Scan(&id)
	if err != nil {
		return 0, core.Query(t.String(), core.OperationCreate, err)
	}
	logger.FromContext(ctx).Debugf("inserted %s reading %d", t, id)
	return id, nil
}

// InsertBatch stores all readings in one transaction. Either all readings are
// stored or none.
func (r *Repository) InsertBatch(ctx context.Context, t Type, readings []Reading) (int, error) {
	table, err := r.table(t)
	if err != nil {
		return 0, err
	}
	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO "+table+" (device_id, timestamp, value, unit) VALUES ($1, $2, $3, $4);")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rd := range readings {
			rd = withDefaults(t, rd)
			if _, err := stmt.ExecContext(ctx, nullString(rd.DeviceID), rd.Timestamp, rd.Value, rd.Unit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, core.Query(t.String(), core.OperationCreate, err)
	}
	return len(readings), nil
}

// Update modifies the fields set in patch
func (r *Repository) Update(ctx context.Context, t Type, id int64, patch Patch) error {
	table, err := r.table(t)
	if err != nil {
		return err
	}
	if patch.IsEmpty() {
		return core.Validation("", "no fields to update")
	}
	var (
		set  []string
		args []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if patch.DeviceID != nil {
		set = append(set, "device_id = "+arg(nullString(*patch.DeviceID)))
	}
	if patch.Timestamp != nil {
		set = append(set, "timestamp = "+arg(*patch.Timestamp))
	}
	if patch.Value != nil {
		set = append(set, "value = "+arg(*patch.Value))
	}
	if patch.Unit != nil {
		set = append(set, "unit = "+arg(*patch.Unit))
	}
	query := "UPDATE " + table + " SET " + strings.Join(set, ", ") + " WHERE id = " + arg(id) + ";"
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return core.Query(t.String(), core.OperationUpdate, err)
	}
	return affectedOne(res, t, id, core.OperationUpdate)
}

// Delete removes the reading with id
func (r *Repository) Delete(ctx context.Context, t Type, id int64) error {
	table, err := r.table(t)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1;", id)
	if err != nil {
		return core.Query(t.String(), core.OperationDelete, err)
	}
	return affectedOne(res, t, id, core.OperationDelete)
}

func affectedOne(res sql.Result, t Type, id int64, op core.Operation) error {
	count, err := res.RowsAffected()
	if err != nil {
		return core.Query(t.String(), op, err)
	}
	if count == 0 {
		return fmt.Errorf("%s reading %d: %w", t, id, core.ErrNotFound)
	}
	return nil
}

// Count returns the number of stored readings of type t
func (r *Repository) Count(ctx context.Context, t Type) (int64, error) {
	table, err := r.table(t)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM "+table+";").Scan(&count); err != nil {
		return 0, core.Query(t.String(), core.OperationCount, err)
	}
	return count, nil
}
