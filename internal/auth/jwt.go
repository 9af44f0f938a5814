package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

var ErrInvalidToken = errors.New("invalid token")

// Validator checks bearer tokens issued by the identity provider. Either a
// JWKS endpoint or a shared HS256 secret supplies the verification key.
type Validator struct {
	keyfunc jwt.Keyfunc
	options []jwt.ParserOption
	jwks    *keyfunc.JWKS
}

type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// User is the identity bound to an authenticated request. ID is the
// token subject, which is also the provider's user id.
type User struct {
	ID    string
	Email string
}

// NewJWKSValidator validates RS256 tokens for an Auth0-style tenant domain.
func NewJWKSValidator(domain, audience string, logger zerolog.Logger) (*Validator, error) {
	domain = strings.TrimSuffix(strings.TrimPrefix(domain, "https://"), "/")
	if domain == "" {
		return nil, errors.New("AUTH0_DOMAIN is required")
	}
	return newJWKSValidator(
		fmt.Sprintf("https://%s/.well-known/jwks.json", domain),
		fmt.Sprintf("https://%s/", domain),
		audience,
		logger,
	)
}

func newJWKSValidator(jwksURL, issuer, audience string, logger zerolog.Logger) (*Validator, error) {
	logger = logger.With().Str("component", "JWKS").Logger()
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               context.Background(),
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Error().Err(err).Str("url", jwksURL).Msg("JWKS refresh failed.")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch jwks from %s: %w", jwksURL, err)
	}
	logger.Info().Str("url", jwksURL).Msg("JWKS loaded.")

	return &Validator{
		keyfunc: jwks.Keyfunc,
		options: parserOptions(issuer, audience, jwt.SigningMethodRS256.Alg()),
		jwks:    jwks,
	}, nil
}

// NewHMACValidator validates tokens signed with a shared secret. Issuer and
// audience are only checked when set.
func NewHMACValidator(secret, issuer, audience string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	key := []byte(secret)
	return &Validator{
		keyfunc: func(*jwt.Token) (any, error) { return key, nil },
		options: parserOptions(issuer, audience, jwt.SigningMethodHS256.Alg()),
	}, nil
}

func parserOptions(issuer, audience, alg string) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return opts
}

func (v *Validator) ParseToken(token string) (User, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyfunc, v.options...)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return User{ID: claims.Subject, Email: claims.Email}, nil
}

// Close stops the background JWKS refresh.
func (v *Validator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

type ctxKey struct{}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(ctxKey{}).(User)
	return user, ok
}
