package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the session token lifetime (7 days)
const DefaultTTL = 7 * 24 * time.Hour

// SigningKeySize is the HS512 key size in bytes
const SigningKeySize = 64

var (
	// ErrInvalidToken is the parent of every validation failure
	ErrInvalidToken = errors.New("invalid token")

	// ErrMalformedToken is returned when the token cannot be decoded
	ErrMalformedToken = fmt.Errorf("%w: malformed", ErrInvalidToken)

	// ErrInvalidSignature is returned when the signature does not verify
	ErrInvalidSignature = fmt.Errorf("%w: signature mismatch", ErrInvalidToken)

	// ErrTokenExpired is returned when the token is past its expiry
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrInvalidToken)

	// ErrEmptySubject is returned by Issue when no subject is given
	ErrEmptySubject = errors.New("token subject is empty")
)

// SigningKey is the symmetric HS512 secret
type SigningKey []byte

// NewSigningKey generates a fresh random key
func NewSigningKey() (SigningKey, error) {
	key := make([]byte, SigningKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return key, nil
}

// SigningKeyFromSecret decodes a base64 secret shared between instances
func SigningKeyFromSecret(secret string) (SigningKey, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.RawURLEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("signing key is not valid base64: %w", err)
		}
	}
	if len(key) < SigningKeySize {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", SigningKeySize, len(key))
	}
	return key, nil
}

// Claims are the registered claims carried by a session token
type Claims struct {
	jwt.RegisteredClaims
}

// Codec issues and validates session tokens. It is safe for concurrent use.
type Codec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// Option configures a Codec
type Option func(*Codec)

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec creates a codec bound to key for the lifetime of the process
func NewCodec(key SigningKey, opts ...Option) *Codec {
	k := make([]byte, len(key))
	copy(k, key)

	c := &Codec{
		key: k,
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the lifetime of issued tokens
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue creates a signed token for stableID that expires after the configured TTL
func (c *Codec) Issue(stableID string) (string, error) {
	return c.IssueWithExpiry(stableID, c.now().Add(c.ttl))
}

// IssueWithExpiry creates a signed token with an explicit expiry
func (c *Codec) IssueWithExpiry(stableID string, expiresAt time.Time) (string, error) {
	if stableID == "" {
		return "", ErrEmptySubject
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   stableID,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry of tokenString and returns its claims.
// Errors are one of ErrMalformedToken, ErrInvalidSignature or ErrTokenExpired.
func (c *Codec) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMalformedToken
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// Validate reports whether tokenString is well formed, signed with this codec's key and unexpired
func (c *Codec) Validate(tokenString string) bool {
	_, err := c.Parse(tokenString)
	return err == nil
}

// Subject returns the stable identifier carried by a valid token
func (c *Codec) Subject(tokenString string) (string, error) {
	claims, err := c.Parse(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrMalformedToken
	}
	return claims.Subject, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w (%v)", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w (%v)", ErrMalformedToken, err)
	}
}
