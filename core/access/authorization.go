// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package access provides utilities for access control

An Authorization identifies the logged-in user of a request. It is added to the request
context by the session middleware, which resolves the session_id cookie, and retrieved with

	auth := access.AuthorizationFromContext(ctx)

Handlers that require a logged-in user are wrapped with RequireAuthorization.
*/
package access

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensorhub/core"
	"github.com/relabs-tech/sensorhub/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

// SessionCookieName is the name of the cookie carrying the opaque session token
const SessionCookieName = "session_id"

// Authorization is the context object for an authenticated user
type Authorization struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
}

// ContextWithAuthorization returns a new context with this authorization added to it
func ContextWithAuthorization(ctx context.Context, a *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// SessionResolver resolves a session token into the authorization of its user. It
// returns an error wrapping core.ErrUnauthorized for empty or unknown tokens.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*Authorization, error)
}

// NewSessionMiddleware returns a middleware which reads the session cookie and attaches
// the authorization to the request context when the session is valid.
//
// Requests without a valid session pass through unchanged. It is up to the handler to
// require an authorization, see RequireAuthorization.
func NewSessionMiddleware(resolver SessionResolver) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil {
				h.ServeHTTP(w, r)
				return
			}
			cookie, _ := r.Cookie(SessionCookieName)
			if cookie == nil || cookie.Value == "" {
				h.ServeHTTP(w, r)
				return
			}
			auth, err := resolver.ResolveSession(r.Context(), cookie.Value)
			if err != nil {
				if !errors.Is(err, core.ErrUnauthorized) {
					rlog := logger.FromContext(r.Context())
					rlog.WithError(err).Errorf("Error 4801: cannot resolve session")
					http.Error(w, "Error 4801", http.StatusInternalServerError)
					return
				}
				h.ServeHTTP(w, r)
				return
			}
			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), auth.Username)
			ctx = ContextWithAuthorization(ctx, auth)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthorization wraps a handler so that it is only called for requests carrying an
// authorization. Other requests are answered with 401 and a JSON error body.
func RequireAuthorization(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if AuthorizationFromContext(r.Context()) == nil {
			WriteJSONError(w, http.StatusUnauthorized, "Not logged in")
			return
		}
		h(w, r)
	}
}

// WriteJSONError writes {"error": message} with the given status code
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	jsonData, _ := json.Marshal(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// SessionCookie returns the cookie which carries the session token to the browser
func SessionCookie(token string, maxAge time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredSessionCookie returns a cookie which makes the browser drop the session token
func ExpiredSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// HandleAuthorizationRoute adds a route /api/user GET to the router
//
// The route returns the authorization of the current session.
func HandleAuthorizationRoute(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("authorization")
	rlog.Debugln("  handle route: /api/user GET")
	router.HandleFunc("/api/user", RequireAuthorization(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		auth := AuthorizationFromContext(r.Context())
		jsonData, _ := json.Marshal(auth)
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	})).Methods(http.MethodGet)
}
