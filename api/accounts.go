// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensorhub/core/access"
	"github.com/relabs-tech/sensorhub/core/logger"
)

func (s *Service) handleAccounts(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("accounts")
	rlog.Debugln("  handle route: /signup POST")
	rlog.Debugln("  handle route: /login POST")
	rlog.Debugln("  handle route: /logout POST")

	router.HandleFunc("/signup", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.signUp(w, r)
	}).Methods(http.MethodPost)

	router.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.login(w, r)
	}).Methods(http.MethodPost)

	router.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.logout(w, r)
	}).Methods(http.MethodPost)
}

func (s *Service) signUp(w http.ResponseWriter, r *http.Request) {
	user, err := s.accounts.SignUp(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		writeError(w, r, "4730", err)
		return
	}
	writeJSON(w, map[string]interface{}{"message": "User created", "id": user.ID, "username": user.Username})
}

func (s *Service) login(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	token, err := s.accounts.Login(r.Context(), username, r.PostFormValue("password"))
	if err != nil {
		logger.FromContext(r.Context()).Infoln("login failed for", username)
		writeError(w, r, "4731", err)
		return
	}
	http.SetCookie(w, access.SessionCookie(token, s.sessionMaxAge, s.cookieSecure))
	writeMessage(w, "Login successful")
}

func (s *Service) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, _ := r.Cookie(access.SessionCookieName); cookie != nil {
		if err := s.accounts.Logout(r.Context(), cookie.Value); err != nil {
			writeError(w, r, "4732", err)
			return
		}
	}
	http.SetCookie(w, access.ExpiredSessionCookie())
	writeMessage(w, "Logged out")
}
