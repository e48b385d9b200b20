package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/upb/filevault/config"
	"github.com/upb/filevault/identity"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserInfoURL = "https://api.github.com/user"

	// maxUserInfoSize caps the user-info response body
	maxUserInfoSize = 1 << 20
)

// ErrUnknownProvider is returned for provider names that are not enabled
var ErrUnknownProvider = errors.New("unknown identity provider")

// Provider is an enabled OAuth2 identity provider
type Provider struct {
	Name        identity.Provider
	OAuth2      *oauth2.Config
	UserInfoURL string
}

// ProviderRegistry holds the providers users can log in with
type ProviderRegistry struct {
	providers  map[identity.Provider]*Provider
	overrides  map[identity.Provider]endpointOverride
	httpClient *http.Client
}

type endpointOverride struct {
	endpoint    oauth2.Endpoint
	userInfoURL string
}

// RegistryOption configures a ProviderRegistry
type RegistryOption func(*ProviderRegistry)

// WithHTTPClient sets the client used for token exchange and user-info requests
func WithHTTPClient(client *http.Client) RegistryOption {
	return func(r *ProviderRegistry) {
		r.httpClient = client
	}
}

// WithEndpoint points a provider at non-default authorization, token and user-info URLs
func WithEndpoint(name identity.Provider, endpoint oauth2.Endpoint, userInfoURL string) RegistryOption {
	return func(r *ProviderRegistry) {
		r.overrides[name] = endpointOverride{endpoint: endpoint, userInfoURL: userInfoURL}
	}
}

// NewProviderRegistry registers every provider with credentials in cfg
func NewProviderRegistry(cfg config.OAuthConfig, opts ...RegistryOption) *ProviderRegistry {
	r := &ProviderRegistry{
		providers: make(map[identity.Provider]*Provider),
		overrides: make(map[identity.Provider]endpointOverride),
	}
	for _, opt := range opts {
		opt(r)
	}

	if cfg.Google.Configured() {
		r.register(cfg, identity.ProviderGoogle, cfg.Google, endpoints.Google, googleUserInfoURL)
	}
	if cfg.GitHub.Configured() {
		r.register(cfg, identity.ProviderGitHub, cfg.GitHub, endpoints.GitHub, githubUserInfoURL)
	}

	return r
}

func (r *ProviderRegistry) register(cfg config.OAuthConfig, name identity.Provider, creds config.ProviderCredentials, endpoint oauth2.Endpoint, userInfoURL string) {
	if o, ok := r.overrides[name]; ok {
		endpoint, userInfoURL = o.endpoint, o.userInfoURL
	}
	r.Register(&Provider{
		Name:        name,
		OAuth2:      newOAuth2Config(cfg, name, creds, endpoint),
		UserInfoURL: userInfoURL,
	})
}

func newOAuth2Config(cfg config.OAuthConfig, name identity.Provider, creds config.ProviderCredentials, endpoint oauth2.Endpoint) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  CallbackURL(cfg.RedirectBaseURL, name),
		Scopes:       creds.Scopes,
	}
}

// CallbackURL is the redirect URI registered with the provider
func CallbackURL(baseURL string, name identity.Provider) string {
	return strings.TrimSuffix(baseURL, "/") + "/auth/callback/" + name.String()
}

// Register adds or replaces a provider
func (r *ProviderRegistry) Register(p *Provider) {
	r.providers[p.Name] = p
}

// Get returns the enabled provider with the given name
func (r *ProviderRegistry) Get(name string) (*Provider, error) {
	p, ok := r.providers[identity.ParseProvider(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the enabled providers in sorted order
func (r *ProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name.String())
	}
	sort.Strings(names)
	return names
}

// Count returns the number of enabled providers
func (r *ProviderRegistry) Count() int {
	return len(r.providers)
}

// Context carries the registry's HTTP client for the oauth2 package
func (r *ProviderRegistry) Context(ctx context.Context) context.Context {
	if r.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
}

// Exchange trades an authorization code for an access token
func (r *ProviderRegistry) Exchange(ctx context.Context, p *Provider, code, verifier string) (*oauth2.Token, error) {
	tok, err := p.OAuth2.Exchange(r.Context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code with %s: %w", p.Name, err)
	}
	return tok, nil
}

// FetchUserInfo retrieves the raw user attributes for an access token
func (r *ProviderRegistry) FetchUserInfo(ctx context.Context, p *Provider, tok *oauth2.Token) (identity.Attributes, error) {
	ctx = r.Context(ctx)
	client := p.OAuth2.Client(ctx, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create user-info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user-info request to %s failed: %w", p.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user-info request to %s returned status %d", p.Name, resp.StatusCode)
	}

	var attrs identity.Attributes
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoSize)).Decode(&attrs); err != nil {
		return nil, fmt.Errorf("decode user-info from %s: %w", p.Name, err)
	}
	return attrs, nil
}
