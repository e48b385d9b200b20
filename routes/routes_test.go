package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/filevault/app"
	"github.com/upb/filevault/auth"
	"github.com/upb/filevault/config"
	"github.com/upb/filevault/identity"
	"github.com/upb/filevault/middleware"
	"github.com/upb/filevault/models"
	"github.com/upb/filevault/repositories"
	"github.com/upb/filevault/repositories/postgres"
	"github.com/upb/filevault/routes"
	"github.com/upb/filevault/services/files"
	"github.com/upb/filevault/token"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"
)

// memUsers is an in-memory user store with a switchable failure
type memUsers struct {
	mu       sync.Mutex
	byStable map[string]*models.User
	fail     error
}

func newMemUsers() *memUsers {
	return &memUsers{byStable: make(map[string]*models.User)}
}

func (m *memUsers) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byStable[user.StableID]; ok {
		return repositories.ErrDuplicate
	}
	m.byStable[user.StableID] = user
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byStable {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memUsers) FindByStableID(_ context.Context, stableID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	u, ok := m.byStable[stableID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) setFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

type memFiles struct {
	mu    sync.Mutex
	files map[uuid.UUID]*models.File
}

func newMemFiles() *memFiles {
	return &memFiles{files: make(map[uuid.UUID]*models.File)}
}

func (m *memFiles) Create(_ context.Context, file *models.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file.ID] = file
	return nil
}

func (m *memFiles) GetByID(_ context.Context, id uuid.UUID) (*models.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return f, nil
}

func (m *memFiles) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]*models.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.File
	for _, f := range m.files {
		if f.OwnerID == ownerID {
			meta := *f
			meta.Data = nil
			out = append(out, &meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type fixture struct {
	server *httptest.Server
	deps   *app.Dependencies
	users  *memUsers
	mock   sqlmock.Sqlmock
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	factory := postgres.NewRepositoryFactoryFromDB(postgres.Wrap(db, logger), logger)

	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	deps, err := app.NewDependenciesFromFactory(context.Background(), cfg, factory, logger)
	require.NoError(t, err)

	users := newMemUsers()
	fileRepo := newMemFiles()
	deps.Users = users
	deps.Files = fileRepo
	deps.FileService = files.NewService(fileRepo, users, cfg.Files.MaxUploadBytes, logger)
	deps.Authenticator = middleware.NewAuthenticator(deps.TokenCodec, users, logger)

	ts := httptest.NewServer(routes.SetupRoutes(deps))
	t.Cleanup(ts.Close)

	return &fixture{server: ts, deps: deps, users: users, mock: mock}
}

// addUser stores a user and returns a session cookie for them
func (f *fixture) addUser(t *testing.T, stableID, name string) *http.Cookie {
	t.Helper()
	require.NoError(t, f.users.Create(context.Background(), models.NewUser(stableID, name, "https://img.example.com/"+name+".png")))
	tok, err := f.deps.TokenCodec.Issue(stableID)
	require.NoError(t, err)
	return &http.Cookie{Name: middleware.TokenCookieName, Value: tok}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeData(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, into))
}

func uploadBody(t *testing.T, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	t.Run("liveness", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/healthz", nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var body map[string]interface{}
		decodeData(t, resp, &body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("ready with database", func(t *testing.T) {
		f.mock.ExpectPing()
		f.mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		resp := f.do(t, http.MethodGet, "/readyz", nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("not ready when database is down", func(t *testing.T) {
		f.mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		resp := f.do(t, http.MethodGet, "/readyz", nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body map[string]interface{}
		decodeData(t, resp, &body)
		assert.Equal(t, "unhealthy", body["status"])
		assert.Equal(t, "unhealthy", body["checks"].(map[string]interface{})["database"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("exposed when enabled", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.Observability.MetricsEnabled = true })
		_ = f.do(t, http.MethodGet, "/healthz", nil, "")

		resp := f.do(t, http.MethodGet, "/metrics", nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "filevault_auth_outcomes_total")
	})

	t.Run("absent when disabled", func(t *testing.T) {
		f := newFixture(t)
		resp := f.do(t, http.MethodGet, "/metrics", nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestProtectedEndpointsRequireSession(t *testing.T) {
	f := newFixture(t)
	unknown := &http.Cookie{Name: middleware.TokenCookieName}
	tok, err := f.deps.TokenCodec.Issue("google:nobody@example.com")
	require.NoError(t, err)
	unknown.Value = tok

	otherKey, err := token.NewSigningKey()
	require.NoError(t, err)
	foreignTok, err := token.NewCodec(otherKey).Issue("google:nobody@example.com")
	require.NoError(t, err)
	foreign := &http.Cookie{Name: middleware.TokenCookieName, Value: foreignTok}

	garbage := &http.Cookie{Name: middleware.TokenCookieName, Value: "not.a.jwt"}

	testCases := []struct {
		name           string
		method         string
		path           string
		cookies        []*http.Cookie
		expectedStatus int
	}{
		{"current user without cookie", http.MethodGet, "/api/users/me", nil, http.StatusUnauthorized},
		{"current user at collection path without cookie", http.MethodGet, "/api/users", nil, http.StatusUnauthorized},
		{"list files without cookie", http.MethodGet, "/api/files", nil, http.StatusUnauthorized},
		{"upload without cookie", http.MethodPost, "/api/files/upload", nil, http.StatusUnauthorized},
		{"download without cookie", http.MethodGet, "/api/files/" + uuid.NewString(), nil, http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/users/me", []*http.Cookie{garbage}, http.StatusUnauthorized},
		{"token from another key", http.MethodGet, "/api/users/me", []*http.Cookie{foreign}, http.StatusUnauthorized},
		{"token for unknown user", http.MethodGet, "/api/users/me", []*http.Cookie{unknown}, http.StatusUnauthorized},
		{"unknown api path without cookie", http.MethodGet, "/api/nonexistent", nil, http.StatusUnauthorized},
		{"unrouted path", http.MethodGet, "/nonexistent", nil, http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, tc.method, tc.path, nil, "", tc.cookies...)
			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "endpoint: %s %s", tc.method, tc.path)
		})
	}
}

func TestUserStoreOutage(t *testing.T) {
	f := newFixture(t)
	cookie := f.addUser(t, "google:ana@example.com", "Ana")
	f.users.setFailure(errors.New("connection refused"))

	resp := f.do(t, http.MethodGet, "/api/users/me", nil, "", cookie)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.users.setFailure(nil)
	resp = f.do(t, http.MethodGet, "/api/users/me", nil, "", cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t)
	cookie := f.addUser(t, "github:octocat", "Octocat")

	for _, path := range []string{"/api/users/me", "/api/users"} {
		t.Run(path, func(t *testing.T) {
			resp := f.do(t, http.MethodGet, path, nil, "", cookie)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var body map[string]string
			decodeData(t, resp, &body)
			assert.Equal(t, "Octocat", body["displayName"])
			assert.Equal(t, "github:octocat", body["email"])
			assert.Equal(t, "https://img.example.com/Octocat.png", body["profilePicture"])
		})
	}
}

func TestFileLifecycle(t *testing.T) {
	f := newFixture(t)
	ana := f.addUser(t, "google:ana@example.com", "Ana")
	bob := f.addUser(t, "google:bob@example.com", "Bob")
	content := []byte("quarterly numbers\n")

	body, contentType := uploadBody(t, "report.txt", content)
	resp := f.do(t, http.MethodPost, "/api/files/upload", body, contentType, ana)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var uploaded models.FileInfo
	decodeData(t, resp, &uploaded)
	assert.Equal(t, "report.txt", uploaded.Name)
	assert.Equal(t, int64(len(content)), uploaded.Size)
	assert.True(t, strings.HasPrefix(uploaded.Type, "text/plain"))

	t.Run("owner lists the file", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/files", nil, "", ana)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var list []models.FileInfo
		decodeData(t, resp, &list)
		require.Len(t, list, 1)
		assert.Equal(t, uploaded.ID, list[0].ID)
	})

	t.Run("other users see an empty list", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/files", nil, "", bob)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var list []models.FileInfo
		decodeData(t, resp, &list)
		assert.Empty(t, list)
	})

	t.Run("owner downloads the content", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/files/"+uploaded.ID.String(), nil, "", ana)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "attachment; filename=report.txt", resp.Header.Get("Content-Disposition"))

		got, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("other users cannot download", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/files/"+uploaded.ID.String(), nil, "", bob)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("malformed id", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/files/not-a-uuid", nil, "", ana)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestUploadLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Files.MaxUploadBytes = 16 })
	cookie := f.addUser(t, "google:ana@example.com", "Ana")

	body, contentType := uploadBody(t, "big.bin", bytes.Repeat([]byte("x"), 17))
	resp := f.do(t, http.MethodPost, "/api/files/upload", body, contentType, cookie)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestAuthRoutes(t *testing.T) {
	f := newFixture(t)

	t.Run("providers", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/auth/providers", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string][]string
		decodeData(t, resp, &body)
		assert.Equal(t, []string{"github", "google"}, body["providers"])
	})

	t.Run("login redirects to the provider", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/auth/login/google", nil, "")
		require.Equal(t, http.StatusFound, resp.StatusCode)

		location := resp.Header.Get("Location")
		assert.Contains(t, location, "accounts.google.com")
		assert.Contains(t, location, "code_challenge_method=S256")
		assert.Contains(t, location, "redirect_uri=http%3A%2F%2Flocalhost%3A8080%2Fauth%2Fcallback%2Fgoogle")

		names := make(map[string]bool)
		for _, c := range resp.Cookies() {
			names[c.Name] = true
		}
		assert.True(t, names["oauth_state"])
		assert.True(t, names["oauth_verifier"])
	})

	t.Run("login for unsupported provider", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/auth/login/okta", nil, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("callback without state", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/auth/callback/github?code=abc", nil, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("provider denial returns to the frontend", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/auth/callback/github?error=access_denied", nil, "")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "http://localhost:4200/login?error=true", resp.Header.Get("Location"))
	})

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		t.Run("logout via "+method, func(t *testing.T) {
			cookie := f.addUser(t, "google:"+strings.ToLower(method)+"@example.com", method)
			resp := f.do(t, method, "/auth/logout", nil, "", cookie)
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)

			var cleared *http.Cookie
			for _, c := range resp.Cookies() {
				if c.Name == middleware.TokenCookieName {
					cleared = c
				}
			}
			require.NotNil(t, cleared)
			assert.Empty(t, cleared.Value)
			assert.True(t, cleared.MaxAge < 0)
		})
	}
}

func TestAuthRoutesWithoutProviders(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.OAuth.Google = config.ProviderCredentials{}
		c.OAuth.GitHub = config.ProviderCredentials{}
	})

	resp := f.do(t, http.MethodGet, "/auth/login/google", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCORSMiddleware(t *testing.T) {
	f := newFixture(t)

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/files/upload", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	t.Run("allowed origin", func(t *testing.T) {
		resp := preflight("http://localhost:4200")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "http://localhost:4200", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	})

	t.Run("foreign origin", func(t *testing.T) {
		resp := preflight("https://evil.example.com")
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestConcurrentAuthenticatedRequests(t *testing.T) {
	f := newFixture(t)
	cookies := []*http.Cookie{
		f.addUser(t, "google:a@example.com", "A"),
		f.addUser(t, "github:b", "B"),
	}

	var wg sync.WaitGroup
	results := make([]string, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/users/me", nil)
			req.AddCookie(cookies[i%2])
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			var envelope struct {
				Data struct {
					Email string `json:"email"`
				} `json:"data"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&envelope)
			results[i] = envelope.Data.Email
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		want := "google:a@example.com"
		if i%2 == 1 {
			want = "github:b"
		}
		assert.Equal(t, want, got)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "filevault",
			Database: "filevault_test",
			SSLMode:  "disable",
		},
		OAuth: config.OAuthConfig{
			Google:          config.ProviderCredentials{ClientID: "g-id", ClientSecret: "g-secret", Scopes: []string{"openid", "email", "profile"}},
			GitHub:          config.ProviderCredentials{ClientID: "gh-id", ClientSecret: "gh-secret", Scopes: []string{"read:user"}},
			RedirectBaseURL: "http://localhost:8080",
			FrontendURL:     "http://localhost:4200",
		},
		Token: config.TokenConfig{TTL: time.Hour},
		Files: config.FilesConfig{MaxUploadBytes: 1 << 20},
		CORS:  config.CORSConfig{AllowedOrigins: []string{"http://localhost:4200"}},
		Observability: config.ObservabilityConfig{
			LogLevel:  "error",
			LogFormat: "json",
		},
	}
}

// fakeGoogle serves the token and user-info endpoints for a single login
func fakeGoogle(t *testing.T, userInfo map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" || r.Form.Get("code_verifier") == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`))
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer at-123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(userInfo)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginThenAuthenticatedRequest(t *testing.T) {
	provider := fakeGoogle(t, map[string]string{"email": "u@x.com", "name": "U", "picture": "p"})
	logger := zaptest.NewLogger(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	factory := postgres.NewRepositoryFactoryFromDB(postgres.Wrap(db, logger), logger)

	deps, err := app.NewDependenciesFromFactory(context.Background(), testConfig(), factory, logger,
		app.WithProviderOptions(
			auth.WithEndpoint(identity.ProviderGoogle, oauth2.Endpoint{
				AuthURL:   provider.URL + "/authorize",
				TokenURL:  provider.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			}, provider.URL+"/userinfo"),
			auth.WithHTTPClient(provider.Client()),
		))
	require.NoError(t, err)

	ts := httptest.NewServer(routes.SetupRoutes(deps))
	t.Cleanup(ts.Close)
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	get := func(path string, cookies ...*http.Cookie) *http.Response {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		resp, err := client.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}
	userColumns := []string{"id", "stable_id", "display_name", "profile_picture_url", "created_at", "updated_at"}

	login := get("/auth/login/google")
	require.Equal(t, http.StatusFound, login.StatusCode)
	location, err := url.Parse(login.Header.Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(location.String(), provider.URL+"/authorize"))
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	// first login: the user does not exist yet and is created
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM users WHERE stable_id = \$1`).
		WithArgs("u@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns))
	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "u@x.com", "U", "p", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	callback := get("/auth/callback/google?code=good-code&state="+url.QueryEscape(state), login.Cookies()...)
	require.Equal(t, http.StatusFound, callback.StatusCode)
	assert.Equal(t, "http://localhost:4200/dashboard", callback.Header.Get("Location"))
	require.NoError(t, mock.ExpectationsWereMet())

	var session *http.Cookie
	for _, c := range callback.Cookies() {
		if c.Name == middleware.TokenCookieName {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	subject, err := deps.TokenCodec.Subject(session.Value)
	require.NoError(t, err)
	assert.Equal(t, "u@x.com", subject)

	// next request resolves the stored user through the reconciler
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT (.+) FROM users WHERE stable_id = \$1`).
		WithArgs("u@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(uuid.New(), "u@x.com", "U", "p", now, now))

	me := get("/api/users/me", session)
	require.Equal(t, http.StatusOK, me.StatusCode)

	var body map[string]string
	decodeData(t, me, &body)
	assert.Equal(t, "u@x.com", body["email"])
	assert.Equal(t, "U", body["displayName"])
	assert.Equal(t, "p", body["profilePicture"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
