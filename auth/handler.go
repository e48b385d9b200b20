package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/filevault/config"
	"github.com/upb/filevault/identity"
	"github.com/upb/filevault/internal/observability"
	"github.com/upb/filevault/middleware"
	"github.com/upb/filevault/models"
	"github.com/upb/filevault/services"
	"github.com/upb/filevault/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName = "oauth_state"
	// VerifierCookieName is the cookie name for the PKCE code verifier
	VerifierCookieName = "oauth_verifier"
	stateCookieMaxAge  = 600

	// login outcomes recorded in metrics
	loginSucceeded = "success"
	loginDenied    = "denied"
	loginFailed    = "failed"
)

// Normalizer maps provider attributes to a canonical identity
type Normalizer interface {
	Normalize(providerName string, attrs identity.Attributes) identity.CanonicalIdentity
}

// Reconciler turns a canonical identity into a stored user
type Reconciler interface {
	Reconcile(ctx context.Context, id identity.CanonicalIdentity) (*models.User, error)
}

// TokenIssuer mints session tokens
type TokenIssuer interface {
	Issue(stableID string) (string, error)
	TTL() time.Duration
}

// Handler handles OAuth2 authentication flows (login, callback, logout).
type Handler struct {
	providers  *ProviderRegistry
	normalizer Normalizer
	users      Reconciler
	issuer     TokenIssuer
	frontend   string
	secure     bool
	logger     *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(cfg *config.Config, providers *ProviderRegistry, normalizer Normalizer, users Reconciler, issuer TokenIssuer, logger *zap.Logger) *Handler {
	return &Handler{
		providers:  providers,
		normalizer: normalizer,
		users:      users,
		issuer:     issuer,
		frontend:   strings.TrimSuffix(cfg.OAuth.FrontendURL, "/"),
		secure:     cfg.SecureCookies(),
		logger:     logger,
	}
}

// HandleLogin redirects to the provider's consent page
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	logger := observability.ForRequest(r.Context(), h.logger)

	provider, err := h.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		logger.Warn("login requested for unknown provider", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Unsupported identity provider", nil)
		return
	}

	state, err := generateSecureState()
	if err != nil {
		logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}
	verifier := oauth2.GenerateVerifier()

	h.setFlowCookie(w, StateCookieName, state, stateCookieMaxAge)
	h.setFlowCookie(w, VerifierCookieName, verifier, stateCookieMaxAge)

	authURL := provider.OAuth2.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback completes the code flow and issues the session cookie
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.ForRequest(ctx, h.logger)
	query := r.URL.Query()

	provider, err := h.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		logger.Warn("callback for unknown provider", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Unsupported identity provider", nil)
		return
	}
	name := provider.Name.String()
	logger = logger.With(zap.String("provider", name))

	if providerErr := query.Get("error"); providerErr != "" {
		logger.Warn("provider denied login",
			zap.String("error", providerErr),
			zap.String("description", query.Get("error_description")))
		observability.RecordLogin(name, loginDenied)
		h.clearFlowCookies(w)
		http.Redirect(w, r, h.frontend+"/login?error=true", http.StatusFound)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || stateCookie.Value != state {
		logger.Warn("oauth state mismatch")
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}
	verifierCookie, err := r.Cookie(VerifierCookieName)
	if err != nil || verifierCookie.Value == "" {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}
	h.clearFlowCookies(w)

	oauthToken, err := h.providers.Exchange(ctx, provider, code, verifierCookie.Value)
	if err != nil {
		logger.Warn("token exchange failed", zap.Error(err))
		observability.RecordLogin(name, loginFailed)
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	attrs, err := h.providers.FetchUserInfo(ctx, provider, oauthToken)
	if err != nil {
		logger.Warn("user-info fetch failed", zap.Error(err))
		observability.RecordLogin(name, loginFailed)
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	user, err := h.users.Reconcile(ctx, h.normalizer.Normalize(name, attrs))
	if err != nil {
		observability.RecordLogin(name, loginFailed)
		if services.IsValidationError(err) {
			logger.Warn("provider returned no usable identity", zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Authentication failed")
			return
		}
		logger.Error("user reconciliation failed", zap.Error(err))
		if services.IsUnavailableError(err) {
			_ = utils.WriteServiceUnavailable(w, "User store unavailable")
			return
		}
		_ = utils.WriteInternalServerError(w, "Failed to complete login")
		return
	}

	sessionToken, err := h.issuer.Issue(user.StableID)
	if err != nil {
		logger.Error("failed to issue session token", zap.Error(err))
		observability.RecordLogin(name, loginFailed)
		_ = utils.WriteInternalServerError(w, "Failed to complete login")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    sessionToken,
		Path:     "/",
		MaxAge:   int(h.issuer.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	observability.RecordLogin(name, loginSucceeded)
	logger.Info("user logged in", zap.String("stable_id", user.StableID))
	http.Redirect(w, r, h.frontend+"/dashboard", http.StatusFound)
}

// HandleProviders lists the providers a user can log in with
func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string][]string{"providers": h.providers.Names()})
}

// HandleLogout clears the session cookie
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		observability.ForRequest(r.Context(), h.logger).Info("user logged out", zap.String("stable_id", p.StableID))
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	utils.WriteNoContent(w)
}

// setFlowCookie stores short-lived login state. Lax so the provider's redirect carries it back.
func (h *Handler) setFlowCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearFlowCookies(w http.ResponseWriter) {
	h.setFlowCookie(w, StateCookieName, "", -1)
	h.setFlowCookie(w, VerifierCookieName, "", -1)
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
