// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package device is the registry of devices owned by users
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/csql"
	"github.com/relabs-tech/sensorhub/core/logger"
)

// Device is the ownership of one device id by one user
type Device struct {
	DeviceID string    `json:"device_id"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	AddedAt  time.Time `json:"added_at"`
}

// Tables creates the devices relation. It references users, so it must run after account.Tables.
func Tables(db *csql.DB) string {
	return `CREATE TABLE IF NOT EXISTS ` + db.Table("devices") + `
(id SERIAL PRIMARY KEY,
device_id VARCHAR(255) NOT NULL,
user_id INTEGER NOT NULL REFERENCES ` + db.Table("users") + `(id) ON DELETE CASCADE,
added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
UNIQUE(user_id, device_id)
);
`
}

// Repository stores device ownership in postgres
type Repository struct {
	db *csql.DB
}

// NewRepository returns a repository for db
func NewRepository(db *csql.DB) *Repository {
	return &Repository{db: db}
}

// Add registers deviceID for user. The same device id may be owned by several users,
// but only once per user.
func (r *Repository) Add(ctx context.Context, userID int64, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return core.Validation("deviceId", "Device ID is required")
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO "+r.db.Table("devices")+" (device_id, user_id) VALUES ($1, $2);", deviceID, userID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("device %q: %w", deviceID, core.ErrConflict)
		}
		return core.Query("devices", core.OperationCreate, err)
	}
	logger.FromContext(ctx).Infof("user %d added device %s", userID, deviceID)
	return nil
}

func (r *Repository) list(ctx context.Context, where string, arg interface{}) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT d.device_id, d.user_id, u.username, d.added_at FROM "+r.db.Table("devices")+" d JOIN "+
			r.db.Table("users")+" u ON d.user_id = u.id WHERE "+where+" ORDER BY d.added_at, d.id;", arg)
	if err != nil {
		return nil, core.Query("devices", core.OperationList, err)
	}
	defer rows.Close()
	devices := []Device{}
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceID, &d.UserID, &d.Username, &d.AddedAt); err != nil {
			return nil, core.Query("devices", core.OperationList, err)
		}
		devices = append(devices, d)
	}
	return devices, core.Query("devices", core.OperationList, rows.Err())
}

// List returns the devices of user
func (r *Repository) List(ctx context.Context, userID int64) ([]Device, error) {
	return r.list(ctx, "d.user_id = $1", userID)
}

// FindByDeviceID returns every ownership of deviceID
func (r *Repository) FindByDeviceID(ctx context.Context, deviceID string) ([]Device, error) {
	return r.list(ctx, "d.device_id = $1", deviceID)
}

// Owns returns true if user owns deviceID
func (r *Repository) Owns(ctx context.Context, userID int64, deviceID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM "+r.db.Table("devices")+" WHERE user_id = $1 AND device_id = $2);",
		userID, deviceID).Scan(&exists)
	if err != nil {
		return false, core.Query("devices", core.OperationRead, err)
	}
	return exists, nil
}

// DeviceIDs returns the ids of all devices of user
func (r *Repository) DeviceIDs(ctx context.Context, userID int64) ([]string, error) {
	devices, err := r.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.DeviceID
	}
	return ids, nil
}

// Delete removes deviceID from the devices of user. Devices of other users with the same
// id are not touched.
func (r *Repository) Delete(ctx context.Context, userID int64, deviceID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM "+r.db.Table("devices")+" WHERE user_id = $1 AND device_id = $2;", userID, deviceID)
	if err != nil {
		return core.Query("devices", core.OperationDelete, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return core.Query("devices", core.OperationDelete, err)
	}
	if count == 0 {
		return fmt.Errorf("device %q: %w", deviceID, core.ErrNotFound)
	}
	return nil
}
