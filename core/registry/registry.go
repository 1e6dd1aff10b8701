// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package registry provides a persistent registry of JSON values in postgres

The commands record their runs in the registry, for example when the tables were
last migrated or which CSV file was seeded last.
*/
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/csql"
)

const resource = "registry"

// Tables creates the registry relation
func Tables(db *csql.DB) string {
	return `CREATE TABLE IF NOT EXISTS ` + db.Table("_registry_") + `
(key VARCHAR NOT NULL,
value JSON NOT NULL,
timestamp TIMESTAMP NOT NULL,
PRIMARY KEY(key)
);
`
}

// Registry provides a persistent registry of values. The relation is created by
// db.EnsureSchema(ctx, registry.Tables).
type Registry struct {
	db *csql.DB
}

// New creates a new registry for the specified database
func New(db *csql.DB) Registry {
	return Registry{db: db}
}

// Accessor is an accessor with optional prefix
type Accessor struct {
	Prefix   string
	Registry Registry
}

// Accessor returns a registry accessor with prefix
func (r Registry) Accessor(prefix string) Accessor {
	return Accessor{
		Prefix:   prefix,
		Registry: r,
	}
}

func (r Accessor) key(key string) string {
	if len(r.Prefix) > 0 {
		return r.Prefix + ":" + key
	}
	return key
}

// Read reads a value from the registry. It returns the time when the value was
// written, or a zero timestamp if there is no value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Read(ctx context.Context, key string, value interface{}) (time.Time, error) {
	var (
		rawValue  []byte
		timestamp time.Time
	)
	db := r.Registry.db
	err := db.QueryRowContext(ctx,
		`SELECT value, timestamp FROM `+db.Table("_registry_")+` WHERE key=$1;`,
		r.key(key)).Scan(&rawValue, &timestamp)
	if err == csql.ErrNoRows {
		return timestamp, nil
	}
	if err != nil {
		return timestamp, core.Query(resource, core.OperationRead, err)
	}
	if err = json.Unmarshal(rawValue, value); err != nil {
		return timestamp, fmt.Errorf("registry key %s: %w", r.key(key), err)
	}
	return timestamp, nil
}

// Write writes a value into the registry, replacing a previous value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Write(ctx context.Context, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	db := r.Registry.db
	now := time.Now().UTC()
	_, err = db.ExecContext(ctx,
		`INSERT INTO `+db.Table("_registry_")+`(key,value,timestamp)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,timestamp=$3;`,
		r.key(key), string(body), now)
	return core.Query(resource, core.OperationUpdate, err)
}

// Delete deletes a value from the registry. Deleting a missing key is not an error.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Delete(ctx context.Context, key string) error {
	db := r.Registry.db
	_, err := db.ExecContext(ctx,
		`DELETE FROM `+db.Table("_registry_")+` WHERE key=$1;`,
		r.key(key))
	return core.Query(resource, core.OperationDelete, err)
}
