// ABOUTME: Bearer credential verification against the external identity provider
// ABOUTME: JWKS-backed signature checks with a process-wide refreshing key cache

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/carebridge/chat-gateway/internal/apperr"
)

// Claims is the verified claim set extracted from a provider credential.
type Claims struct {
	Subject  string
	Email    string
	Username string
}

// Verifier validates a raw bearer credential and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// providerClaims is the wire shape of the provider's JWT payload.
type providerClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Username string `json:"preferred_username"`
}

// JWKSVerifier verifies RS256/ES256 signed credentials against the identity
// provider's JWKS endpoint. Keys are cached process-wide: the keyfunc cache
// populates on first use, refreshes in the background, and refetches on an
// unknown key id, so per-connection verification never refetches the JWKS.
type JWKSVerifier struct {
	keys     jwt.Keyfunc
	issuer   string
	audience string
	logger   *slog.Logger
}

// NewJWKSVerifier creates a verifier for the given JWKS endpoint. The
// returned verifier owns a background-refreshing key cache tied to ctx.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer, audience string, logger *slog.Logger) (*JWKSVerifier, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS from %s: %w", jwksURL, err)
	}
	return newVerifier(kf.Keyfunc, issuer, audience, logger), nil
}

// newVerifier wires an explicit key function; split out so tests can supply
// static keys without a JWKS endpoint.
func newVerifier(keys jwt.Keyfunc, issuer, audience string, logger *slog.Logger) *JWKSVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWKSVerifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		logger:   logger.With("component", "identity"),
	}
}

// Verify parses and validates the credential: signature against the cached
// provider keys, issuer, audience, and expiry. All verification failures map
// to InvalidCredential; the credential's absence is the caller's concern.
func (v *JWKSVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims providerClaims
	token, err := jwt.ParseWithClaims(rawToken, &claims, v.keys, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.CodeInvalidCredential, "credential expired", err)
		}
		return nil, apperr.Wrap(apperr.CodeInvalidCredential, "credential verification failed", err)
	}
	if !token.Valid {
		return nil, apperr.InvalidCredential("credential verification failed")
	}

	if claims.Subject == "" {
		return nil, apperr.InvalidCredential("credential missing subject claim")
	}

	return &Claims{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Username: claims.Username,
	}, nil
}
