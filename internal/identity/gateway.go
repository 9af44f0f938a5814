// Package identity talks to the identity provider's management API. It
// does no caching; memoization lives in the presence registry.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rtchat/backend/internal/models"
)

const (
	grantTypeClientCredentials = "client_credentials"
	userFields                 = "user_id,email,picture"
)

var (
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrEmptyTokenResponse  = errors.New("the received token was empty")
)

// StatusError is a non-success answer from a user lookup endpoint.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity provider %s returned status %d", e.Op, e.StatusCode)
}

type Config struct {
	BaseAddress          string
	TokenEndpoint        string
	Audience             string
	ClientID             string
	ClientSecret         string
	UsersByIDEndpoint    string
	UsersByEmailEndpoint string
	Timeout              time.Duration
}

type Gateway struct {
	cfg    Config
	base   *url.URL
	client *http.Client
	logger zerolog.Logger
}

func NewGateway(cfg Config, client *http.Client, logger zerolog.Logger) (*Gateway, error) {
	base, err := url.Parse(cfg.BaseAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid identity provider base address: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Gateway{
		cfg:    cfg,
		base:   base,
		client: client,
		logger: logger.With().Str("component", "IdentityGateway").Logger(),
	}, nil
}

func (g *Gateway) FetchToken(ctx context.Context) (models.AccessToken, error) {
	var token models.AccessToken
	body, err := json.Marshal(models.TokenRequest{
		ClientID:     g.cfg.ClientID,
		ClientSecret: g.cfg.ClientSecret,
		Audience:     g.cfg.Audience,
		GrantType:    grantTypeClientCredentials,
	})
	if err != nil {
		return token, fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.resolve(g.cfg.TokenEndpoint, nil), bytes.NewReader(body))
	if err != nil {
		return token, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return token, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Error().Int("status", resp.StatusCode).Msg("Token exchange rejected.")
		return token, fmt.Errorf("%w: status %d", ErrTokenExchangeFailed, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return token, fmt.Errorf("read token response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return token, ErrEmptyTokenResponse
	}
	if err := json.Unmarshal(raw, &token); err != nil {
		return token, fmt.Errorf("decode token response: %w", err)
	}
	if token.Empty() {
		return token, ErrEmptyTokenResponse
	}
	g.logger.Debug().Int("expires_in", token.ExpiresIn).Msg("Fetched management API token.")
	return token, nil
}

// FetchUserByID returns nil without error when the provider knows no such user.
func (g *Gateway) FetchUserByID(ctx context.Context, id string, token models.AccessToken) (*models.User, error) {
	endpoint := strings.TrimSuffix(g.cfg.UsersByIDEndpoint, "/") + "/" + url.PathEscape(id)
	var user *models.User
	found, err := g.get(ctx, "user lookup by id", g.resolve(endpoint, userQuery()), token, &user)
	if err != nil || !found {
		return nil, err
	}
	return user, nil
}

// FetchUserByEmail takes the first of the provider's matches.
func (g *Gateway) FetchUserByEmail(ctx context.Context, email string, token models.AccessToken) (*models.User, error) {
	query := userQuery()
	query.Set("email", email)
	var users []models.User
	found, err := g.get(ctx, "user lookup by email", g.resolve(g.cfg.UsersByEmailEndpoint, query), token, &users)
	if err != nil || !found || len(users) == 0 {
		return nil, err
	}
	return &users[0], nil
}

func (g *Gateway) get(ctx context.Context, op, endpoint string, token models.AccessToken, dst any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", token.AuthorizationHeader())
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Error().Str("op", op).Int("status", resp.StatusCode).Msg("Identity provider rejected lookup.")
		return false, &StatusError{Op: op, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("decode %s response: %w", op, err)
	}
	return true, nil
}

// resolve accepts endpoints relative to the base address or absolute URLs.
func (g *Gateway) resolve(endpoint string, query url.Values) string {
	ref, err := url.Parse(strings.TrimPrefix(endpoint, "/"))
	if err != nil {
		ref = &url.URL{Path: endpoint}
	}
	target := g.base.ResolveReference(ref)
	if query != nil {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

func userQuery() url.Values {
	return url.Values{
		"fields":         {userFields},
		"include_fields": {"true"},
	}
}
