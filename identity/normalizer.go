package identity

import (
	"strings"

	"go.uber.org/zap"
)

// Fallbacks applied when a supported provider omits a profile field
const (
	DefaultDisplayName       = "Default Display Name"
	DefaultProfilePictureURL = "https://default-image-url.com"
)

// Provider identifies the external identity provider a login came from
type Provider string

const (
	// ProviderGoogle uses email/name/picture attributes
	ProviderGoogle Provider = "google"
	// ProviderGitHub uses login/avatar_url attributes
	ProviderGitHub Provider = "github"
	// ProviderUnknown is any provider without an attribute mapping
	ProviderUnknown Provider = ""
)

// ParseProvider maps a registration name onto a known provider
func ParseProvider(name string) Provider {
	switch Provider(strings.ToLower(strings.TrimSpace(name))) {
	case ProviderGoogle:
		return ProviderGoogle
	case ProviderGitHub:
		return ProviderGitHub
	default:
		return ProviderUnknown
	}
}

// Supported reports whether the provider has an attribute mapping
func (p Provider) Supported() bool {
	return p == ProviderGoogle || p == ProviderGitHub
}

func (p Provider) String() string {
	if p == ProviderUnknown {
		return "unknown"
	}
	return string(p)
}

// Attributes is the raw user-info document returned by a provider
type Attributes map[string]any

// String returns the attribute as a string; non-string values count as absent
func (a Attributes) String(key string) string {
	if v, ok := a[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// CanonicalIdentity is the provider-independent view of a login
type CanonicalIdentity struct {
	StableID          string
	DisplayName       string
	ProfilePictureURL string
}

// IsZero reports whether nothing could be extracted
func (c CanonicalIdentity) IsZero() bool {
	return c == CanonicalIdentity{}
}

type fieldMapping struct {
	stableID    string
	displayName string
	picture     string
}

var mappings = map[Provider]fieldMapping{
	ProviderGoogle: {stableID: "email", displayName: "name", picture: "picture"},
	ProviderGitHub: {stableID: "login", displayName: "login", picture: "avatar_url"},
}

// Normalizer maps provider attributes onto a CanonicalIdentity
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a new Normalizer
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize never fails. An unsupported provider yields an empty identity and a warning;
// missing display name or picture fall back to the package defaults.
func (n *Normalizer) Normalize(providerName string, attrs Attributes) CanonicalIdentity {
	provider := ParseProvider(providerName)
	mapping, ok := mappings[provider]
	if !ok {
		n.logger.Warn("unsupported identity provider",
			zap.String("provider", providerName))
		return CanonicalIdentity{}
	}

	id := CanonicalIdentity{
		StableID:          attrs.String(mapping.stableID),
		DisplayName:       attrs.String(mapping.displayName),
		ProfilePictureURL: attrs.String(mapping.picture),
	}

	if id.StableID == "" {
		n.logger.Warn("provider attributes missing stable identifier",
			zap.String("provider", provider.String()),
			zap.String("attribute", mapping.stableID))
	}
	if id.DisplayName == "" {
		id.DisplayName = DefaultDisplayName
	}
	if id.ProfilePictureURL == "" {
		id.ProfilePictureURL = DefaultProfilePictureURL
	}

	n.logger.Debug("identity normalized",
		zap.String("provider", provider.String()),
		zap.String("stable_id", id.StableID))

	return id
}
