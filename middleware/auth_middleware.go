package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/filevault/internal/observability"
	"github.com/upb/filevault/models"
	"github.com/upb/filevault/repositories"
	"github.com/upb/filevault/services"
	"github.com/upb/filevault/token"
	"github.com/upb/filevault/utils"
	"go.uber.org/zap"
)

// TokenCookieName is the cookie carrying the session token
const TokenCookieName = "JWT"

// TokenValidator extracts the subject of a valid session token
type TokenValidator interface {
	Subject(token string) (string, error)
}

// UserLookup resolves a stable id to a stored user
type UserLookup interface {
	FindByStableID(ctx context.Context, stableID string) (*models.User, error)
}

// Authenticator attaches the requesting user to the request context
type Authenticator struct {
	validator  TokenValidator
	users      UserLookup
	logger     *zap.Logger
	cookieName string
}

// Option configures an Authenticator
type Option func(*Authenticator)

// WithCookieName overrides the session cookie name
func WithCookieName(name string) Option {
	return func(a *Authenticator) {
		a.cookieName = name
	}
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(validator TokenValidator, users UserLookup, logger *zap.Logger, opts ...Option) *Authenticator {
	a := &Authenticator{
		validator:  validator,
		users:      users,
		logger:     logger,
		cookieName: TokenCookieName,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate resolves the session cookie to a Principal. It never rejects a
// request: anything short of a fully resolved user continues anonymously.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		raw := a.extractToken(r)
		if raw == "" {
			observability.RecordAuthOutcome(observability.AuthOutcomeAnonymous)
			next.ServeHTTP(w, r)
			return
		}

		stableID, err := a.validator.Subject(raw)
		if err != nil {
			observability.RecordAuthOutcome(observability.AuthOutcomeInvalidToken)
			if errors.Is(err, token.ErrTokenExpired) {
				a.logger.Debug("session token expired",
					zap.String("request_id", requestID))
			} else {
				a.logger.Warn("session token rejected",
					zap.String("request_id", requestID),
					zap.Error(err))
			}
			next.ServeHTTP(w, r)
			return
		}

		user, err := a.users.FindByStableID(ctx, stableID)
		if err != nil {
			if isNotFound(err) {
				observability.RecordAuthOutcome(observability.AuthOutcomeUnknownUser)
				a.logger.Warn("token subject has no user",
					zap.String("request_id", requestID),
					zap.String("stable_id", stableID))
				next.ServeHTTP(w, r)
				return
			}

			observability.RecordAuthOutcome(observability.AuthOutcomeLookupFailure)
			a.logger.Error("user lookup failed",
				zap.String("request_id", requestID),
				zap.String("stable_id", stableID),
				zap.Error(err))
			ctx = WithAuthError(ctx, &AuthError{StableID: stableID, Err: err})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		observability.RecordAuthOutcome(observability.AuthOutcomeAuthenticated)
		a.logger.Debug("request authenticated",
			zap.String("request_id", requestID),
			zap.String("stable_id", user.StableID))

		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, PrincipalFromUser(user))))
	})
}

// RequireAuth rejects requests that Authenticate could not resolve to a user.
// It must run after Authenticate.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if _, ok := PrincipalFromContext(ctx); ok {
			next.ServeHTTP(w, r)
			return
		}

		if authErr := AuthErrorFromContext(ctx); authErr != nil {
			_ = utils.WriteServiceUnavailable(w, "User store unavailable")
			return
		}

		a.logger.Debug("unauthenticated request rejected",
			zap.String("request_id", GetRequestIDFromContext(ctx)),
			zap.String("path", r.URL.Path))
		_ = utils.WriteUnauthorized(w, "Authentication required")
	})
}

func (a *Authenticator) extractToken(r *http.Request) string {
	cookie, err := r.Cookie(a.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func isNotFound(err error) bool {
	return services.IsNotFoundError(err) || errors.Is(err, repositories.ErrNotFound)
}
