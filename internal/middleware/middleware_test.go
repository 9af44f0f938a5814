package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rtchat/backend/internal/auth"
)

type stubParser struct{}

func (stubParser) ParseToken(token string) (auth.User, error) {
	if token == "good" {
		return auth.User{ID: "auth0|luke"}, nil
	}
	return auth.User{}, auth.ErrInvalidToken
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	key := "client"
	if !limiter.Allow(key) {
		t.Fatalf("expected allow on first")
	}
	if !limiter.Allow(key) {
		t.Fatalf("expected allow on second")
	}
	if limiter.Allow(key) {
		t.Fatalf("expected block on third")
	}
	if !limiter.Allow("other") {
		t.Fatalf("expected separate budget per key")
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(1, time.Minute)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("client") || limiter.Allow("client") {
		t.Fatalf("expected one request per window")
	}
	now = now.Add(time.Minute + time.Second)
	if !limiter.Allow("client") {
		t.Fatalf("expected allow after window reset")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("client") {
			t.Fatalf("expected unlimited when limit is zero")
		}
	}
}

func TestAuthenticate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/hub/chat", nil)
	req.Header.Set("Authorization", "Bearer good")
	user, err := Authenticate(req, stubParser{})
	if err != nil || user.ID != "auth0|luke" {
		t.Fatalf("header auth: %+v %v", user, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/hub/chat?access_token=good", nil)
	if _, err := Authenticate(req, stubParser{}); err != nil {
		t.Fatalf("query auth on hub path: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?access_token=good", nil)
	if _, err := Authenticate(req, stubParser{}); !errors.Is(err, ErrMissingAuthorization) {
		t.Fatalf("expected query token to be ignored outside the hub, got %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/hub/chat", nil)
	req.Header.Set("Authorization", "Basic abc")
	if _, err := Authenticate(req, stubParser{}); !errors.Is(err, ErrInvalidAuthorization) {
		t.Fatalf("expected invalid authorization, got %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/hub/chat", nil)
	req.Header.Set("Authorization", "Bearer bad")
	if _, err := Authenticate(req, stubParser{}); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestRequireUser(t *testing.T) {
	var seen auth.User
	handler := RequireUser(stubParser{}, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hub/chat", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hub/chat?access_token=good", nil))
	if rec.Code != http.StatusOK || seen.ID != "auth0|luke" {
		t.Fatalf("expected user on context, got %d %+v", rec.Code, seen)
	}
}

func TestHandleCORS(t *testing.T) {
	allowed := []string{"http://localhost:3000"}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/hub/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	if !HandleCORS(rec, req, allowed) {
		t.Fatalf("expected preflight to be handled")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be allowed")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	if HandleCORS(rec, req, allowed) {
		t.Fatalf("expected GET to pass through")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := ClientKey(req); got != "10.0.0.1" {
		t.Fatalf("unexpected key %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientKey(req); got != "10.0.0.1" {
		t.Fatalf("forwarded header must not change the key, got %q", got)
	}
}
