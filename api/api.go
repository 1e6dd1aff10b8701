// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package api is the HTTP surface of the sensor hub.

It exposes the readings of all sensor types as REST resources under /api/{sensorType},
the account routes /signup, /login and /logout, the device registry under /api/devices,
device-scoped readings under /api/sensor/{sensorType} and the wardrobe routes.

All responses are JSON. Failures carry an "error" key.
*/
package api

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensorhub/account"
	"github.com/relabs-tech/sensorhub/core/access"
	"github.com/relabs-tech/sensorhub/core/logger"
	"github.com/relabs-tech/sensorhub/core/schema"
	"github.com/relabs-tech/sensorhub/device"
	"github.com/relabs-tech/sensorhub/sensor"
	"github.com/relabs-tech/sensorhub/wardrobe"
)

//go:embed schemas
var schemaFS embed.FS

// SensorStore is the storage of readings, implemented by sensor.Repository
type SensorStore interface {
	List(ctx context.Context, t sensor.Type, f sensor.Filter) ([]sensor.Reading, error)
	ListForDevices(ctx context.Context, t sensor.Type, deviceIDs []string, f sensor.Filter) ([]sensor.Reading, error)
	Latest(ctx context.Context, t sensor.Type, deviceIDs []string) (sensor.Reading, error)
	Get(ctx context.Context, t sensor.Type, id int64) (sensor.Reading, error)
	Insert(ctx context.Context, t sensor.Type, rd sensor.Reading) (int64, error)
	Update(ctx context.Context, t sensor.Type, id int64, patch sensor.Patch) error
	Delete(ctx context.Context, t sensor.Type, id int64) error
	Count(ctx context.Context, t sensor.Type) (int64, error)
}

// AccountStore is the storage of users and sessions, implemented by account.Repository
type AccountStore interface {
	access.SessionResolver
	SignUp(ctx context.Context, username, password string) (account.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	Logout(ctx context.Context, token string) error
}

// DeviceStore is the device registry, implemented by device.Repository
type DeviceStore interface {
	Add(ctx context.Context, userID int64, deviceID string) error
	List(ctx context.Context, userID int64) ([]device.Device, error)
	FindByDeviceID(ctx context.Context, deviceID string) ([]device.Device, error)
	Owns(ctx context.Context, userID int64, deviceID string) (bool, error)
	DeviceIDs(ctx context.Context, userID int64) ([]string, error)
	Delete(ctx context.Context, userID int64, deviceID string) error
}

// WardrobeStore is the storage of wardrobe items, implemented by wardrobe.Repository
type WardrobeStore interface {
	List(ctx context.Context, userID int64) ([]wardrobe.Item, error)
	Replace(ctx context.Context, userID int64, items []wardrobe.Item) error
}

// Pinger checks the database connection. *sql.DB is a Pinger.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Builder is a builder helper for the Service
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Sensors stores the readings. This is mandatory.
	Sensors SensorStore
	// Accounts stores users and sessions. This is mandatory.
	Accounts AccountStore
	// Devices is the device registry. This is mandatory.
	Devices DeviceStore
	// Wardrobe stores wardrobe items. This is mandatory.
	Wardrobe WardrobeStore
	// Health is pinged by /health. This is optional.
	Health Pinger
	// SessionMaxAge is the lifetime of the session cookie. Defaults to one hour.
	SessionMaxAge time.Duration
	// CookieSecure marks the session cookie as secure
	CookieSecure bool
	// IngestSecret protects POST /api/{sensorType} with bearer tokens. Without a secret
	// ingestion is open. This is optional.
	IngestSecret []byte
}

// Service is the HTTP API
type Service struct {
	router        *mux.Router
	sensors       SensorStore
	accounts      AccountStore
	devices       DeviceStore
	wardrobe      WardrobeStore
	health        Pinger
	validator     *schema.Validator
	sessionMaxAge time.Duration
	cookieSecure  bool
}

// the route names of the ingestion routes
const (
	routeCreateReading = "create-reading"
)

// New realizes the service. It adds all routes and middlewares to the router.
func New(sb *Builder) *Service {
	if sb.Router == nil {
		panic("Router is missing")
	}
	if sb.Sensors == nil || sb.Accounts == nil || sb.Devices == nil || sb.Wardrobe == nil {
		panic("store is missing")
	}

	schemas, err := fs.Sub(schemaFS, "schemas")
	if err != nil {
		panic(err)
	}
	validator, err := schema.NewValidatorFromFS(schemas)
	if err != nil {
		panic(err)
	}

	s := &Service{
		router:        sb.Router,
		sensors:       sb.Sensors,
		accounts:      sb.Accounts,
		devices:       sb.Devices,
		wardrobe:      sb.Wardrobe,
		health:        sb.Health,
		validator:     validator,
		sessionMaxAge: sb.SessionMaxAge,
		cookieSecure:  sb.CookieSecure,
	}
	if s.sessionMaxAge <= 0 {
		s.sessionMaxAge = time.Hour
	}

	logger.AddRequestID(s.router)
	s.router.Use(access.NewSessionMiddleware(s.accounts))
	s.router.Use(access.NewIngestMiddleware(sb.IngestSecret, isIngestRequest))

	// specific routes first, /api/{sensorType} matches everything below /api
	s.handleHealth(s.router)
	s.handleVersion(s.router)
	s.handleAccounts(s.router)
	access.HandleAuthorizationRoute(s.router)
	s.handleDevices(s.router)
	s.handleDeviceReadings(s.router)
	s.handleWardrobe(s.router)
	s.handleReadings(s.router)
	return s
}

// Router returns the router of the service
func (s *Service) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in a panic recovery handler
func (s *Service) Handler() http.Handler {
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger.Default()),
		handlers.PrintRecoveryStack(true),
	)(s.router)
}

func isIngestRequest(r *http.Request) bool {
	route := mux.CurrentRoute(r)
	return route != nil && route.GetName() == routeCreateReading
}
