package handlers

import (
	"net/http"

	"github.com/upb/filevault/auth"
	"github.com/upb/filevault/utils"
)

// AuthDeps provides auth handler for route wiring
type AuthDeps interface {
	AuthHandler() *auth.Handler
}

// authRoute resolves the auth handler per request so routes can be mounted before login is configured
func authRoute(deps AuthDeps, serve func(*auth.Handler, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h := deps.AuthHandler(); h != nil {
			serve(h, w, r)
			return
		}
		_ = utils.WriteServiceUnavailable(w, "Authentication not configured")
	}
}

// AuthLoginHandler returns an http.HandlerFunc for the login endpoint
func AuthLoginHandler(deps AuthDeps) http.HandlerFunc {
	return authRoute(deps, (*auth.Handler).HandleLogin)
}

// AuthCallbackHandler returns an http.HandlerFunc for the OAuth callback endpoint
func AuthCallbackHandler(deps AuthDeps) http.HandlerFunc {
	return authRoute(deps, (*auth.Handler).HandleCallback)
}

// AuthLogoutHandler returns an http.HandlerFunc for the logout endpoint
func AuthLogoutHandler(deps AuthDeps) http.HandlerFunc {
	return authRoute(deps, (*auth.Handler).HandleLogout)
}

// AuthProvidersHandler returns an http.HandlerFunc listing enabled providers
func AuthProvidersHandler(deps AuthDeps) http.HandlerFunc {
	return authRoute(deps, (*auth.Handler).HandleProviders)
}
