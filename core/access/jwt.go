// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensorhub/core/logger"
)

// IngestIssuer is the issuer of all ingestion tokens
const IngestIssuer = "sensorhub-ingest"

// IngestTokenIssuer signs short-lived HS256 bearer tokens for the ingestion bridge
type IngestTokenIssuer struct {
	Secret   []byte
	Subject  string
	Lifetime time.Duration
}

// Token returns a new signed token
func (i *IngestTokenIssuer) Token() (string, error) {
	if len(i.Secret) == 0 {
		return "", errors.New("ingest token: missing secret")
	}
	lifetime := i.Lifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	now := time.Now()
	claims := jwt.StandardClaims{
		Issuer:    IngestIssuer,
		Subject:   i.Subject,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(lifetime).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
}

// ValidateIngestToken validates a token issued by IngestTokenIssuer with the same secret
func ValidateIngestToken(tokenString string, secret []byte) error {
	claims := jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid || claims.Issuer != IngestIssuer {
		return errors.New("invalid token")
	}
	return nil
}

// bearerToken extracts the token of an "Authorization: Bearer" header
func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
		return bearer[7:]
	}
	return ""
}

// NewIngestMiddleware returns a middleware which requires a valid ingestion token on
// requests matched by guard. With an empty secret the middleware lets all requests pass,
// which keeps ingestion open the way devices without credentials expect it.
//
// Requests carrying a session authorization are not checked.
func NewIngestMiddleware(secret []byte, guard func(r *http.Request) bool) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		if len(secret) == 0 {
			return h
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !guard(r) || AuthorizationFromContext(r.Context()) != nil {
				h.ServeHTTP(w, r)
				return
			}
			tokenString := bearerToken(r)
			if tokenString == "" {
				WriteJSONError(w, http.StatusUnauthorized, "missing ingestion token")
				return
			}
			if err := ValidateIngestToken(tokenString, secret); err != nil {
				logger.FromContext(r.Context()).WithError(err).Warnln("rejected ingestion token")
				WriteJSONError(w, http.StatusUnauthorized, "invalid ingestion token")
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}
