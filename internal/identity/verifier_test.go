// ABOUTME: Tests for credential verification and subject resolution
// ABOUTME: Uses a locally generated RSA key pair in place of a JWKS endpoint

package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/chat-gateway/internal/apperr"
	"github.com/carebridge/chat-gateway/internal/store"
)

const (
	testIssuer   = "https://id.example.com"
	testAudience = "carebridge"
)

type signer struct {
	key *rsa.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &signer{key: key}
}

func (s *signer) verifier(t *testing.T) *JWKSVerifier {
	t.Helper()
	keys := func(token *jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	}
	return newVerifier(keys, testIssuer, testAudience, nil)
}

func (s *signer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	raw, err := token.SignedString(s.key)
	require.NoError(t, err)
	return raw
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":                "auth0|provider-7",
		"iss":                testIssuer,
		"aud":                testAudience,
		"exp":                time.Now().Add(time.Hour).Unix(),
		"iat":                time.Now().Unix(),
		"email":              "dana@example.com",
		"preferred_username": "dana",
	}
}

func TestVerify_ValidCredential(t *testing.T) {
	s := newSigner(t)
	v := s.verifier(t)

	claims, err := v.Verify(context.Background(), s.sign(t, baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "auth0|provider-7", claims.Subject)
	assert.Equal(t, "dana@example.com", claims.Email)
	assert.Equal(t, "dana", claims.Username)
}

func TestVerify_ExpiredCredential(t *testing.T) {
	s := newSigner(t)
	v := s.verifier(t)

	c := baseClaims()
	c["exp"] = time.Now().Add(-time.Minute).Unix()

	_, err := v.Verify(context.Background(), s.sign(t, c))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidCredential, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "expired")
}

func TestVerify_WrongIssuer(t *testing.T) {
	s := newSigner(t)
	v := s.verifier(t)

	c := baseClaims()
	c["iss"] = "https://evil.example.com"

	_, err := v.Verify(context.Background(), s.sign(t, c))
	assert.Equal(t, apperr.CodeInvalidCredential, apperr.CodeOf(err))
}

func TestVerify_WrongAudience(t *testing.T) {
	s := newSigner(t)
	v := s.verifier(t)

	c := baseClaims()
	c["aud"] = "someone-else"

	_, err := v.Verify(context.Background(), s.sign(t, c))
	assert.Equal(t, apperr.CodeInvalidCredential, apperr.CodeOf(err))
}

func TestVerify_WrongKey(t *testing.T) {
	signingKey := newSigner(t)
	verifyingKey := newSigner(t)
	v := verifyingKey.verifier(t)

	_, err := v.Verify(context.Background(), signingKey.sign(t, baseClaims()))
	assert.Equal(t, apperr.CodeInvalidCredential, apperr.CodeOf(err))
}

func TestVerify_RejectsHMACSignedToken(t *testing.T) {
	s := newSigner(t)
	v := s.verifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims())
	raw, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	assert.Equal(t, apperr.CodeInvalidCredential, apperr.CodeOf(err))
}

func TestVerify_MissingSubject(t *testing.T) {
	s := newSigner(t)
	v := s.verifier(t)

	c := baseClaims()
	delete(c, "sub")

	_, err := v.Verify(context.Background(), s.sign(t, c))
	assert.Equal(t, apperr.CodeInvalidCredential, apperr.CodeOf(err))
}

func TestVerify_Garbage(t *testing.T) {
	s := newSigner(t)
	v := s.verifier(t)

	_, err := v.Verify(context.Background(), "not-a-jwt")
	assert.Equal(t, apperr.CodeInvalidCredential, apperr.CodeOf(err))
}

func TestResolveSubject(t *testing.T) {
	mock := store.NewMockStore()
	require.NoError(t, mock.CreateUser(context.Background(), &store.User{
		Subject: "auth0|provider-7", DisplayName: "Dana", Role: "provider",
	}))

	dir := NewStoreDirectory(mock)

	user, err := dir.ResolveSubject(context.Background(), "auth0|provider-7")
	require.NoError(t, err)
	assert.Equal(t, "Dana", user.DisplayName)

	_, err = dir.ResolveSubject(context.Background(), "auth0|stranger")
	assert.Equal(t, apperr.CodeUserNotFound, apperr.CodeOf(err))
}
