package identity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtchat/backend/internal/identity"
	"rtchat/backend/internal/models"
)

var testToken = models.AccessToken{AccessToken: "mgmt-token", TokenType: "Bearer", Scope: "read:users", ExpiresIn: 86400}

func newGateway(t *testing.T, handler http.HandlerFunc) *identity.Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gateway, err := identity.NewGateway(identity.Config{
		BaseAddress:          server.URL,
		TokenEndpoint:        "/oauth/token",
		Audience:             "https://tenant.example.com/api/v2/",
		ClientID:             "client-id",
		ClientSecret:         "client-secret",
		UsersByIDEndpoint:    "api/v2/users",
		UsersByEmailEndpoint: "api/v2/users-by-email",
	}, server.Client(), zerolog.Nop())
	require.NoError(t, err)
	return gateway
}

func TestGateway_FetchToken(t *testing.T) {
	ctx := context.Background()

	t.Run("Sends client credentials", func(t *testing.T) {
		gateway := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/oauth/token", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var body models.TokenRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, models.TokenRequest{
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				Audience:     "https://tenant.example.com/api/v2/",
				GrantType:    "client_credentials",
			}, body)

			_ = json.NewEncoder(w).Encode(testToken)
		})

		token, err := gateway.FetchToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, testToken, token)
	})

	t.Run("Non-success status", func(t *testing.T) {
		gateway := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := gateway.FetchToken(ctx)
		assert.ErrorIs(t, err, identity.ErrTokenExchangeFailed)
	})

	for name, body := range map[string]string{"Empty body": "", "Null body": "null", "Empty object": "{}"} {
		t.Run(name, func(t *testing.T) {
			gateway := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})

			_, err := gateway.FetchToken(ctx)
			assert.ErrorIs(t, err, identity.ErrEmptyTokenResponse)
		})
	}
}

func TestGateway_FetchUserByID(t *testing.T) {
	ctx := context.Background()
	user := models.User{ID: "auth0|42", Email: "obiwan@jediorder.rep", Picture: "https://img/obiwan.png"}

	t.Run("Found", func(t *testing.T) {
		gateway := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v2/users/auth0|42", r.URL.Path)
			assert.Equal(t, "user_id,email,picture", r.URL.Query().Get("fields"))
			assert.Equal(t, "true", r.URL.Query().Get("include_fields"))
			assert.Equal(t, "Bearer mgmt-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(user)
		})

		got, err := gateway.FetchUserByID(ctx, user.ID, testToken)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, user, *got)
	})

	t.Run("Not found", func(t *testing.T) {
		gateway := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		got, err := gateway.FetchUserByID(ctx, "auth0|missing", testToken)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Upstream failure", func(t *testing.T) {
		gateway := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})

		_, err := gateway.FetchUserByID(ctx, "auth0|42", testToken)
		var statusErr *identity.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	})
}

func TestGateway_FetchUserByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("First match wins", func(t *testing.T) {
		gateway := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v2/users-by-email", r.URL.Path)
			assert.Equal(t, "anakin@jediorder.rep", r.URL.Query().Get("email"))
			assert.Equal(t, "true", r.URL.Query().Get("include_fields"))
			_ = json.NewEncoder(w).Encode([]models.User{
				{ID: "auth0|1", Email: "anakin@jediorder.rep"},
				{ID: "google|2", Email: "anakin@jediorder.rep"},
			})
		})

		got, err := gateway.FetchUserByEmail(ctx, "anakin@jediorder.rep", testToken)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "auth0|1", got.ID)
	})

	t.Run("Empty list", func(t *testing.T) {
		gateway := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("[]"))
		})

		got, err := gateway.FetchUserByEmail(ctx, "nobody@example.com", testToken)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
