// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package csql is the persistence gateway of sensorhub.

It opens a pooled postgres connection with a bounded number of connection
attempts, creates the relations of all domain packages and provides a
transaction helper which guarantees commit or rollback on every exit path.
*/
package csql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

const pingTimeout = 5 * time.Second

var validSchema = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config describes how to reach the database.
//
// If DSN is set it is used as is, otherwise a keyword/value connection
// string is composed from the individual fields.
type Config struct {
	DSN         string
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	SSLRootCert string

	// Schema is the postgres schema for all relations. Defaults to "public".
	Schema string

	// ConnectAttempts is the number of pings before Open gives up. At least one attempt is made.
	ConnectAttempts int
	// ConnectDelay is the fixed delay between two connection attempts.
	ConnectDelay time.Duration

	MaxOpenConns int
	MaxIdleConns int
}

// DataSourceName returns the libpq connection string for the configuration
func (c Config) DataSourceName() string {
	if c.DSN != "" {
		if c.Password != "" && !strings.Contains(c.DSN, "password=") {
			return c.DSN + " password=" + quote(c.Password)
		}
		return c.DSN
	}
	params := map[string]string{}
	if c.Host != "" {
		params["host"] = c.Host
	}
	if c.Port != 0 {
		params["port"] = fmt.Sprint(c.Port)
	}
	if c.User != "" {
		params["user"] = c.User
	}
	if c.Password != "" {
		params["password"] = c.Password
	}
	if c.Name != "" {
		params["dbname"] = c.Name
	}
	if c.SSLRootCert != "" {
		params["sslmode"] = "verify-full"
		params["sslrootcert"] = c.SSLRootCert
	} else {
		params["sslmode"] = "disable"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quote(params[k]))
	}
	return strings.Join(parts, " ")
}

// quote quotes a libpq keyword value if necessary
func quote(value string) string {
	if value != "" && !strings.ContainsAny(value, ` '\`) {
		return value
	}
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return "'" + value + "'"
}

// Open opens the postgres database described by config.
//
// The connection is verified with a ping. Failed pings are retried up to
// config.ConnectAttempts times with a constant delay of config.ConnectDelay. When
// all attempts failed, Open returns a *core.ConnectionError.
//
// A non-public schema is created if it does not exist yet.
func Open(ctx context.Context, config Config) (*DB, error) {
	rlog := logger.FromContext(ctx)

	schema := config.Schema
	if schema == "" {
		schema = "public"
	}
	if !validSchema.MatchString(schema) {
		return nil, core.Validation("schema", "invalid schema name %q", schema)
	}

	db, err := sql.Open("postgres", config.DataSourceName())
	if err != nil {
		return nil, &core.ConnectionError{Attempts: 0, Err: err}
	}

	attempts := config.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	tries := 0
	ping := func() error {
		tries++
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		err := db.PingContext(pingCtx)
		if err != nil {
			rlog.WithError(err).Warnf("database connection attempt %d/%d failed", tries, attempts)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(config.ConnectDelay), uint64(attempts-1)),
		ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		db.Close()
		return nil, &core.ConnectionError{Attempts: tries, Err: err}
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	if schema != "public" {
		rlog.Infoln("selected database schema:", schema)
		if _, err := db.ExecContext(ctx, `CREATE schema IF NOT EXISTS `+schema+`;`); err != nil {
			db.Close()
			return nil, core.Query("schema", core.OperationCreate, err)
		}
	}
	rlog.Infoln("connected to postgres database after", tries, "attempt(s)")
	return &DB{DB: db, Schema: schema}, nil
}

// Table returns the schema qualified name of relation name
func (db *DB) Table(name string) string {
	return db.Schema + `."` + name + `"`
}

// Migration returns the DDL statement for one or more relations. It must be idempotent.
type Migration func(db *DB) string

// EnsureSchema creates all relations of the passed migrations in one transaction.
// Migrations must use CREATE ... IF NOT EXISTS, so calling EnsureSchema repeatedly is safe.
// Relations referenced by foreign keys must come first.
func (db *DB) EnsureSchema(ctx context.Context, migrations ...Migration) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, migration := range migrations {
			if _, err := tx.ExecContext(ctx, migration(db)); err != nil {
				return core.Query("schema", core.OperationCreate, err)
			}
		}
		return nil
	})
}

// WithTx runs fn inside a transaction. The transaction is committed if fn
// returns nil and rolled back if fn returns an error or panics.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.FromContext(ctx).WithError(rbErr).Errorln("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA IF EXISTS ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().WithError(err).Errorln("clear schema error:", db.Schema)
	}
}
