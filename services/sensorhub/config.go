// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/relabs-tech/sensorhub/core/csql"
	"github.com/relabs-tech/sensorhub/core/logger"
)

// Database holds the database configuration shared by all commands
//
// use DB_DSN="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
// or the individual DB_* variables
type Database struct {
	DSN             string        `env:"DB_DSN" description:"full libpq connection string, overrides the other DB_ variables"`
	Host            string        `env:"DB_HOST,default=localhost"`
	Port            int           `env:"DB_PORT,default=5432"`
	User            string        `env:"DB_USER,default=postgres"`
	Password        string        `env:"DB_PASSWORD"`
	Name            string        `env:"DB_NAME,default=postgres"`
	SSLRootCert     string        `env:"DB_SSL_CA" description:"CA certificate, enables sslmode=verify-full"`
	Schema          string        `env:"DB_SCHEMA,default=public"`
	ConnectAttempts int           `env:"DB_CONNECT_ATTEMPTS,default=5"`
	ConnectDelay    time.Duration `env:"DB_CONNECT_DELAY,default=2s"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=10"`
}

// Config returns the csql configuration
func (d Database) Config() csql.Config {
	return csql.Config{
		DSN:             d.DSN,
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Name:            d.Name,
		SSLRootCert:     d.SSLRootCert,
		Schema:          d.Schema,
		ConnectAttempts: d.ConnectAttempts,
		ConnectDelay:    d.ConnectDelay,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxOpenConns,
	}
}

// Server holds the configuration of the serve command
type Server struct {
	Database
	Port          int           `env:"PORT,default=6543"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE,default=1h"`
	CookieSecure  bool          `env:"COOKIE_SECURE,default=false"`
	IngestSecret  string        `env:"INGEST_SECRET" description:"protects sensor ingestion with bearer tokens"`
	LogLevel      string        `env:"LOG_LEVEL,default=info"`
}

// Bridge holds the configuration of the bridge command
type Bridge struct {
	Broker            string        `env:"MQTT_BROKER,default=broker.hivemq.com:1883"`
	BaseTopic         string        `env:"BASE_TOPIC,required" description:"devices publish to {BASE_TOPIC}/readings"`
	ClientID          string        `env:"MQTT_CLIENT_ID,default=sensorhub-bridge"`
	APIURL            string        `env:"API_URL,default=http://localhost:6543"`
	PostInterval      time.Duration `env:"POST_INTERVAL,default=5s"`
	ForwardTimeout    time.Duration `env:"FORWARD_TIMEOUT,default=10s"`
	ForwardRetries    uint64        `env:"FORWARD_RETRIES,default=3"`
	ForwardRetryDelay time.Duration `env:"FORWARD_RETRY_DELAY,default=1s"`
	IngestSecret      string        `env:"INGEST_SECRET"`
	EmbeddedBroker    string        `env:"EMBEDDED_BROKER" description:"listen address of the embedded broker, disables MQTT_BROKER"`
	BrokerCACert      string        `env:"BROKER_CA_CERT"`
	BrokerCert        string        `env:"BROKER_CERT"`
	BrokerKey         string        `env:"BROKER_KEY"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
}

// Tool holds the configuration of the migrate and seed commands
type Tool struct {
	Database
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// loadEnvFile loads variables from an optional .env file. Variables which are already
// set take precedence.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// decode decodes the environment into config and initializes the logger with level.
// An invalid level falls back to info.
func decode(config interface{}, level *string) error {
	if err := envdecode.Decode(config); err != nil {
		return err
	}
	if err := logger.InitLoggerFromString(*level); err != nil {
		logger.Default().WithError(err).Warnln("invalid LOG_LEVEL, using info")
	}
	return nil
}
