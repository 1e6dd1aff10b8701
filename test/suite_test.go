// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

//go:build integration

package test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/sensorhub/account"
	"github.com/relabs-tech/sensorhub/api"
	"github.com/relabs-tech/sensorhub/core/client"
	"github.com/relabs-tech/sensorhub/core/csql"
	"github.com/relabs-tech/sensorhub/device"
	"github.com/relabs-tech/sensorhub/sensor"
	"github.com/relabs-tech/sensorhub/wardrobe"
)

// IntegrationTestSuite runs the HTTP API against a postgres container
type IntegrationTestSuite struct {
	suite.Suite

	postgresContainer testcontainers.Container
	db                *csql.DB
	server            *httptest.Server
	client            client.Client

	// ingestSecret is set on the API when not empty
	ingestSecret string
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)
	port, err := strconv.Atoi(pgPort.Port())
	s.Require().NoError(err)

	s.db, err = csql.Open(ctx, csql.Config{
		Host:            pgHost,
		Port:            port,
		User:            postgresUser,
		Password:        postgresPassword,
		Name:            postgresDB,
		Schema:          "sensorhub",
		ConnectAttempts: 10,
		ConnectDelay:    time.Second,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.db.EnsureSchema(ctx, account.Tables, device.Tables, wardrobe.Tables, sensor.Tables))

	router := mux.NewRouter()
	service := api.New(&api.Builder{
		Router:        router,
		Sensors:       sensor.NewRepository(s.db),
		Accounts:      account.NewRepository(s.db).WithHashCost(4),
		Devices:       device.NewRepository(s.db),
		Wardrobe:      wardrobe.NewRepository(s.db),
		Health:        s.db,
		SessionMaxAge: time.Hour,
		IngestSecret:  []byte(s.ingestSecret),
	})
	s.server = httptest.NewServer(service.Handler())
	s.client = client.NewWithURL(s.server.URL).WithTimeout(10 * time.Second)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.server != nil {
		s.server.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	if s.postgresContainer != nil {
		s.postgresContainer.Terminate(context.Background())
	}
}

// login signs up a new user and returns a client carrying its session cookie
func (s *IntegrationTestSuite) login(username, password string) client.Client {
	form := url.Values{"username": {username}, "password": {password}}
	_, _, err := s.client.RawPostForm("/signup", form, nil)
	s.Require().NoError(err)
	_, cookies, err := s.client.RawPostForm("/login", form, nil)
	s.Require().NoError(err)
	s.Require().Len(cookies, 1)
	return s.client.WithCookie(cookies[0])
}

// uniqueName returns a name which is unique within the suite run
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
