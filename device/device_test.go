// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package device

import (
	"context"
	"errors"
	"testing"

	"github.com/joeshaw/envdecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/sensorhub/account"
	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/csql"
)

// TestService holds the configuration for the repository tests
type TestService struct {
	Postgres         string `env:"POSTGRES" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" description:"password to the Postgres DB"`
}

// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
func testDB(t *testing.T) *csql.DB {
	var service TestService
	_ = envdecode.Decode(&service)
	if service.Postgres == "" {
		t.Skip("POSTGRES not set")
	}
	ctx := context.Background()
	db, err := csql.Open(ctx, csql.Config{
		DSN:             service.Postgres,
		Password:        service.PostgresPassword,
		Schema:          "_device_unit_test_",
		ConnectAttempts: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.ClearSchema()
	require.NoError(t, db.EnsureSchema(ctx, account.Tables, Tables))
	return db
}

func TestAddRejectsEmptyID(t *testing.T) {
	repo := NewRepository(&csql.DB{Schema: "public"})
	err := repo.Add(context.Background(), 1, " ")
	var validationErr *core.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestDeviceOwnership(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	accounts := account.NewRepository(db).WithHashCost(4)
	alice, err := accounts.SignUp(ctx, "alice", "a")
	require.NoError(t, err)
	bob, err := accounts.SignUp(ctx, "bob", "b")
	require.NoError(t, err)

	repo := NewRepository(db)
	require.NoError(t, repo.Add(ctx, alice.ID, "esp-1"))
	require.NoError(t, repo.Add(ctx, alice.ID, "esp-2"))
	require.NoError(t, repo.Add(ctx, bob.ID, "esp-1"))
	assert.True(t, errors.Is(repo.Add(ctx, alice.ID, "esp-1"), core.ErrConflict))

	devices, err := repo.List(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "esp-1", devices[0].DeviceID)
	assert.Equal(t, "alice", devices[0].Username)

	owners, err := repo.FindByDeviceID(ctx, "esp-1")
	require.NoError(t, err)
	assert.Len(t, owners, 2)

	owns, err := repo.Owns(ctx, bob.ID, "esp-2")
	require.NoError(t, err)
	assert.False(t, owns)

	ids, err := repo.DeviceIDs(ctx, alice.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"esp-1", "esp-2"}, ids)

	assert.True(t, errors.Is(repo.Delete(ctx, bob.ID, "esp-2"), core.ErrNotFound))
	require.NoError(t, repo.Delete(ctx, bob.ID, "esp-1"))
	owns, err = repo.Owns(ctx, alice.ID, "esp-1")
	require.NoError(t, err)
	assert.True(t, owns)

	require.NoError(t, accounts.DeleteUser(ctx, alice.ID))
	devices, err = repo.List(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, devices)
}
