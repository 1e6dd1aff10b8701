// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package account manages users and their login sessions.

Passwords are stored as bcrypt hashes. A successful login creates a session row keyed by
an opaque random token, which travels to the browser in the session_id cookie.
*/
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/access"
	"github.com/relabs-tech/sensorhub/core/csql"
	"github.com/relabs-tech/sensorhub/core/logger"
)

// User is a registered user
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Tables creates the users and sessions relations
func Tables(db *csql.DB) string {
	return `CREATE TABLE IF NOT EXISTS ` + db.Table("users") + `
(id SERIAL PRIMARY KEY,
username VARCHAR(255) UNIQUE NOT NULL,
password_hash VARCHAR(255) NOT NULL,
created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS ` + db.Table("sessions") + `
(id VARCHAR(64) PRIMARY KEY,
user_id INTEGER NOT NULL REFERENCES ` + db.Table("users") + `(id) ON DELETE CASCADE,
created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
}

// uniqueViolation is the postgres error code for unique constraint violations
const uniqueViolation = "23505"

// Repository stores users and sessions in postgres
type Repository struct {
	db   *csql.DB
	cost int
}

// NewRepository returns a repository for db
func NewRepository(db *csql.DB) *Repository {
	return &Repository{db: db, cost: bcrypt.DefaultCost}
}

// WithHashCost returns a repository using a different bcrypt cost. Tests use bcrypt.MinCost.
func (r *Repository) WithHashCost(cost int) *Repository {
	return &Repository{db: r.db, cost: cost}
}

// HashPassword returns the bcrypt hash of password
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(hash), err
}

// CheckPassword returns true if password matches hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// SignUp creates a new user. A taken username yields an error wrapping core.ErrConflict.
func (r *Repository) SignUp(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, core.Validation("username", "must not be empty")
	}
	if password == "" {
		return User{}, core.Validation("password", "must not be empty")
	}
	hash, err := HashPassword(password, r.cost)
	if err != nil {
		return User{}, err
	}
	user := User{Username: username}
	err = r.db.QueryRowContext(ctx,
		"INSERT INTO "+r.db.Table("users")+" (username, password_hash) VALUES ($1, $2) RETURNING id, created_at;",
		username, hash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return User{}, fmt.Errorf("username %q: %w", username, core.ErrConflict)
		}
		return User{}, core.Query("users", core.OperationCreate, err)
	}
	logger.FromContext(ctx).Infoln("signed up user", username)
	return user, nil
}

// Login checks the credentials and creates a new session. It returns the session token.
// Unknown users and wrong passwords both yield an error wrapping core.ErrInvalidCredentials.
func (r *Repository) Login(ctx context.Context, username, password string) (string, error) {
	var (
		userID int64
		hash   string
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT id, password_hash FROM "+r.db.Table("users")+" WHERE username = $1;",
		username).Scan(&userID, &hash)
	if err == csql.ErrNoRows {
		return "", fmt.Errorf("user %q: %w", username, core.ErrInvalidCredentials)
	}
	if err != nil {
		return "", core.Query("users", core.OperationRead, err)
	}
	if !CheckPassword(hash, password) {
		return "", fmt.Errorf("user %q: %w", username, core.ErrInvalidCredentials)
	}

	token := uuid.NewString()
	_, err = r.db.ExecContext(ctx,
		"INSERT INTO "+r.db.Table("sessions")+" (id, user_id) VALUES ($1, $2);", token, userID)
	if err != nil {
		return "", core.Query("sessions", core.OperationCreate, err)
	}
	return token, nil
}

// RequireSession returns the user of a session. Empty and unknown tokens yield an error
// wrapping core.ErrUnauthorized.
func (r *Repository) RequireSession(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, fmt.Errorf("no session: %w", core.ErrUnauthorized)
	}
	var user User
	err := r.db.QueryRowContext(ctx,
		"SELECT u.id, u.username, u.created_at FROM "+r.db.Table("sessions")+" s JOIN "+
			r.db.Table("users")+" u ON s.user_id = u.id WHERE s.id = $1;",
		token).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err == csql.ErrNoRows {
		return User{}, fmt.Errorf("unknown session: %w", core.ErrUnauthorized)
	}
	if err != nil {
		return User{}, core.Query("sessions", core.OperationRead, err)
	}
	return user, nil
}

// ResolveSession implements access.SessionResolver
func (r *Repository) ResolveSession(ctx context.Context, token string) (*access.Authorization, error) {
	user, err := r.RequireSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return &access.Authorization{UserID: user.ID, Username: user.Username}, nil
}

// Logout deletes the session. Unknown tokens are ignored.
func (r *Repository) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	_, err := r.db.ExecContext(ctx, "DELETE FROM "+r.db.Table("sessions")+" WHERE id = $1;", token)
	return core.Query("sessions", core.OperationDelete, err)
}

// DeleteUser deletes a user together with all sessions, devices and wardrobe items
func (r *Repository) DeleteUser(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM "+r.db.Table("users")+" WHERE id = $1;", userID)
	if err != nil {
		return core.Query("users", core.OperationDelete, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return core.Query("users", core.OperationDelete, err)
	}
	if count == 0 {
		return fmt.Errorf("user %d: %w", userID, core.ErrNotFound)
	}
	return nil
}
