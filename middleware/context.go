package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/filevault/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// PrincipalKey is the context key for the authenticated principal
	PrincipalKey contextKey = "principal"

	// AuthErrorKey is the context key for an authentication attempt that failed on infrastructure
	AuthErrorKey contextKey = "auth_error"
)

// Principal is the authenticated user for the current request
type Principal struct {
	StableID          string
	DisplayName       string
	ProfilePictureURL string
}

// PrincipalFromUser builds a Principal from a stored user
func PrincipalFromUser(u *models.User) Principal {
	return Principal{
		StableID:          u.StableID,
		DisplayName:       u.DisplayName,
		ProfilePictureURL: u.ProfilePictureURL,
	}
}

// AuthError records that a request carried a valid token but the user could not be loaded
type AuthError struct {
	StableID string
	Err      error
}

func (e *AuthError) Error() string {
	return "user lookup failed for " + e.StableID + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimiddleware.GetReqID(ctx)
}

// PrincipalFromContext returns the principal attached by Authenticate, if any
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}

// WithPrincipal adds a principal to the context
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// AuthErrorFromContext returns the lookup failure recorded by Authenticate, if any
func AuthErrorFromContext(ctx context.Context) *AuthError {
	if authErr, ok := ctx.Value(AuthErrorKey).(*AuthError); ok {
		return authErr
	}
	return nil
}

// WithAuthError records a lookup failure in the context
func WithAuthError(ctx context.Context, authErr *AuthError) context.Context {
	return context.WithValue(ctx, AuthErrorKey, authErr)
}
