package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func claimsFor(subject, issuer, audience string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		Email: "luke@rebellion.org",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func TestHMACValidator(t *testing.T) {
	validator, err := NewHMACValidator("test-secret", "https://tenant.example/", "rtchat-api")
	if err != nil {
		t.Fatalf("validator init: %v", err)
	}

	token := sign(t, jwt.SigningMethodHS256, []byte("test-secret"), "",
		claimsFor("auth0|luke", "https://tenant.example/", "rtchat-api", time.Hour))
	user, err := validator.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if user.ID != "auth0|luke" || user.Email != "luke@rebellion.org" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestHMACValidatorRejects(t *testing.T) {
	validator, err := NewHMACValidator("test-secret", "https://tenant.example/", "rtchat-api")
	if err != nil {
		t.Fatalf("validator init: %v", err)
	}

	cases := map[string]string{
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), "",
			claimsFor("auth0|luke", "https://tenant.example/", "rtchat-api", time.Hour)),
		"expired": sign(t, jwt.SigningMethodHS256, []byte("test-secret"), "",
			claimsFor("auth0|luke", "https://tenant.example/", "rtchat-api", -time.Hour)),
		"wrong audience": sign(t, jwt.SigningMethodHS256, []byte("test-secret"), "",
			claimsFor("auth0|luke", "https://tenant.example/", "someone-else", time.Hour)),
		"wrong issuer": sign(t, jwt.SigningMethodHS256, []byte("test-secret"), "",
			claimsFor("auth0|luke", "https://evil.example/", "rtchat-api", time.Hour)),
		"no subject": sign(t, jwt.SigningMethodHS256, []byte("test-secret"), "",
			claimsFor("", "https://tenant.example/", "rtchat-api", time.Hour)),
		"garbage": "not.a.token",
	}
	for name, token := range cases {
		if _, err := validator.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewHMACValidatorRequiresSecret(t *testing.T) {
	if _, err := NewHMACValidator("", "", ""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestJWKSValidator(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	defer server.Close()

	validator, err := newJWKSValidator(server.URL, "https://tenant.example/", "rtchat-api", zerolog.Nop())
	if err != nil {
		t.Fatalf("validator init: %v", err)
	}
	defer validator.Close()

	token := sign(t, jwt.SigningMethodRS256, key, "k1",
		claimsFor("auth0|leia", "https://tenant.example/", "rtchat-api", time.Hour))
	user, err := validator.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if user.ID != "auth0|leia" {
		t.Fatalf("unexpected user: %+v", user)
	}

	forged := sign(t, jwt.SigningMethodHS256, []byte("guess"), "k1",
		claimsFor("auth0|leia", "https://tenant.example/", "rtchat-api", time.Hour))
	if _, err := validator.ParseToken(forged); err == nil {
		t.Fatalf("expected HS256 token to be rejected")
	}
}

func TestUserContext(t *testing.T) {
	ctx := WithUser(context.Background(), User{ID: "auth0|han"})
	user, ok := UserFromContext(ctx)
	if !ok || user.ID != "auth0|han" {
		t.Fatalf("unexpected user from context: %+v %v", user, ok)
	}
	if _, ok := UserFromContext(context.Background()); ok {
		t.Fatalf("expected no user on empty context")
	}
}
