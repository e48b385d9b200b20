package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/filevault/auth"
	"github.com/upb/filevault/config"
	"github.com/upb/filevault/identity"
	"github.com/upb/filevault/middleware"
	"github.com/upb/filevault/token"
	"go.uber.org/zap"
)

type staticAuthDeps struct {
	handler *auth.Handler
}

func (d staticAuthDeps) AuthHandler() *auth.Handler { return d.handler }

func TestAuthHandlers_NotConfigured(t *testing.T) {
	deps := staticAuthDeps{}

	for name, h := range map[string]http.HandlerFunc{
		"login":     AuthLoginHandler(deps),
		"callback":  AuthCallbackHandler(deps),
		"logout":    AuthLogoutHandler(deps),
		"providers": AuthProvidersHandler(deps),
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/auth/"+name, nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		})
	}
}

func TestAuthHandlers_Delegate(t *testing.T) {
	key, err := token.NewSigningKey()
	require.NoError(t, err)

	cfg := &config.Config{OAuth: config.OAuthConfig{
		RedirectBaseURL: "https://files.example.com",
		FrontendURL:     "https://app.example.com",
	}}
	h := auth.NewHandler(cfg, auth.NewProviderRegistry(cfg.OAuth), identity.NewNormalizer(nil), nil, token.NewCodec(key), zap.NewNop())
	deps := staticAuthDeps{handler: h}

	rec := httptest.NewRecorder()
	AuthLogoutHandler(deps)(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.TokenCookieName, cookies[0].Name)
	assert.True(t, cookies[0].Secure)
}
