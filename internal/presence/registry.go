// Package presence memoizes identity lookups and tracks who is online and
// who is listening to whom.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"rtchat/backend/internal/cache"
	"rtchat/backend/internal/metrics"
	"rtchat/backend/internal/models"
)

// ErrInconsistentConnectionState means a close arrived for a user with no
// open connections: an open or close notification was lost.
var ErrInconsistentConnectionState = errors.New("inconsistent connection state")

const defaultFetchTimeout = 30 * time.Second

// Gateway fetches tokens and profiles from the identity provider.
type Gateway interface {
	FetchToken(ctx context.Context) (models.AccessToken, error)
	FetchUserByID(ctx context.Context, id string, token models.AccessToken) (*models.User, error)
	FetchUserByEmail(ctx context.Context, email string, token models.AccessToken) (*models.User, error)
}

// Mirror is an optional second-level store behind the identity cache.
type Mirror interface {
	LoadToken(ctx context.Context) (models.AccessToken, time.Duration, error)
	StoreToken(ctx context.Context, token models.AccessToken, ttl time.Duration) error
	LoadUser(ctx context.Context, idOrEmail string) (models.User, error)
	StoreUser(ctx context.Context, user models.User) error
}

type Registry struct {
	cache   *cache.Cache
	gateway Gateway
	mirror  Mirror
	metrics *metrics.Metrics
	logger  zerolog.Logger
	flight  singleflight.Group

	fetchTimeout time.Duration

	// mu makes every multi-key cache write and every session mutation
	// atomic. Never held across network calls.
	mu       sync.Mutex
	sessions *sessions
}

type Option func(*Registry)

func WithMirror(mirror Mirror) Option {
	return func(r *Registry) { r.mirror = mirror }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithFetchTimeout bounds a shared fetch, which outlives the caller that
// started it.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

func NewRegistry(c *cache.Cache, gateway Gateway, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		cache:        c,
		gateway:      gateway,
		logger:       logger.With().Str("component", "PresenceRegistry").Logger(),
		fetchTimeout: defaultFetchTimeout,
		sessions:     newSessions(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TokenTTL is how long a fetched token is reused: 90% of its lifetime, so
// it is replaced before the provider starts rejecting it.
func TokenTTL(token models.AccessToken) time.Duration {
	return time.Duration(token.ExpiresIn) * 9 * time.Second / 10
}

// Token returns the memoized management token, fetching a new one when the
// cached copy has expired.
func (r *Registry) Token(ctx context.Context) (models.AccessToken, error) {
	if token, ok := cache.Lookup[models.AccessToken](r.cache, cache.KeyToken); ok {
		r.metrics.CacheLookup("token", true)
		return token, nil
	}
	r.metrics.CacheLookup("token", false)

	v, err := r.shared(ctx, cache.KeyToken, func(ctx context.Context) (any, error) {
		if token, ok := r.tokenFromMirror(ctx); ok {
			return token, nil
		}
		token, err := r.gateway.FetchToken(ctx)
		r.metrics.GatewayCall("token", err)
		if err != nil {
			return models.AccessToken{}, err
		}
		ttl := TokenTTL(token)
		if ttl <= 0 {
			r.logger.Warn().Int("expires_in", token.ExpiresIn).Msg("Token without lifetime, not memoized.")
			return token, nil
		}
		r.cache.Set(cache.KeyToken, token, cache.Options{Size: cache.SizeToken, TTL: ttl})
		if r.mirror != nil {
			if err := r.mirror.StoreToken(ctx, token, ttl); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to mirror token.")
			}
		}
		return token, nil
	})
	if err != nil {
		return models.AccessToken{}, err
	}
	return v.(models.AccessToken), nil
}

// shared runs fetch once per key across concurrent callers. The fetch is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx is done.
func (r *Registry) shared(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(detached, r.fetchTimeout)
		defer cancel()
		return fetch(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (r *Registry) tokenFromMirror(ctx context.Context) (models.AccessToken, bool) {
	if r.mirror == nil {
		return models.AccessToken{}, false
	}
	token, ttl, err := r.mirror.LoadToken(ctx)
	if err != nil {
		if !errors.Is(err, cache.ErrMirrorMiss) {
			r.logger.Warn().Err(err).Msg("Token mirror lookup failed.")
		}
		return models.AccessToken{}, false
	}
	r.cache.Set(cache.KeyToken, token, cache.Options{Size: cache.SizeToken, TTL: ttl})
	return token, true
}

// UserByID returns nil without error when the provider has no such user.
// Misses are never cached.
func (r *Registry) UserByID(ctx context.Context, id string) (*models.User, error) {
	return r.user(ctx, id, r.gateway.FetchUserByID)
}

// UserByEmail is UserByID keyed by email address.
func (r *Registry) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.user(ctx, email, r.gateway.FetchUserByEmail)
}

type fetchFunc func(ctx context.Context, key string, token models.AccessToken) (*models.User, error)

func (r *Registry) user(ctx context.Context, key string, fetch fetchFunc) (*models.User, error) {
	if user, ok := cache.Lookup[models.User](r.cache, cache.UserKey(key)); ok {
		r.metrics.CacheLookup("user", true)
		return &user, nil
	}
	r.metrics.CacheLookup("user", false)

	v, err := r.shared(ctx, cache.UserKey(key), func(ctx context.Context) (any, error) {
		if r.mirror != nil {
			user, err := r.mirror.LoadUser(ctx, key)
			if err == nil {
				return r.remember(user), nil
			}
			if !errors.Is(err, cache.ErrMirrorMiss) {
				r.logger.Warn().Err(err).Str("key", key).Msg("User mirror lookup failed.")
			}
		}

		token, err := r.Token(ctx)
		if err != nil {
			return nil, err
		}
		fetched, err := fetch(ctx, key, token)
		r.metrics.GatewayCall("user", err)
		if err != nil || fetched == nil {
			return nil, err
		}
		user := r.remember(*fetched)
		if r.mirror != nil {
			if err := r.mirror.StoreUser(ctx, user); err != nil {
				r.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to mirror user.")
			}
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	user, ok := v.(models.User)
	if !ok {
		return nil, nil
	}
	return &user, nil
}

// remember stores a fetched profile under both keys. A copy already cached
// under the id wins so a status written meanwhile is not lost.
func (r *Registry) remember(user models.User) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := cache.Lookup[models.User](r.cache, cache.UserKey(user.ID)); ok {
		user = cached
	}
	r.writeUserLocked(user)
	return user
}

func (r *Registry) writeUserLocked(user models.User) {
	r.cache.Set(cache.UserKey(user.ID), user, cache.Options{Size: cache.SizeUser})
	if user.Email != "" {
		r.cache.Set(cache.UserKey(user.Email), user, cache.Options{Size: cache.SizeUser})
	}
}

// RecordConnectionOpened reports whether this is the user's first live connection.
func (r *Registry) RecordConnectionOpened(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.sessions.counters[userID] + 1
	r.sessions.counters[userID] = n
	r.metrics.SetOnlineUsers(len(r.sessions.counters))
	return n == 1
}

// RecordConnectionClosed reports whether the user just lost their last
// connection. The counter is dropped at zero.
func (r *Registry) RecordConnectionClosed(userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.sessions.counters[userID]
	if !ok || n <= 0 {
		r.logger.Error().Str("user_id", userID).Msg("Connection closed for a user with no open connections.")
		return false, fmt.Errorf("%w: user %s has no open connections", ErrInconsistentConnectionState, userID)
	}
	n--
	if n == 0 {
		delete(r.sessions.counters, userID)
	} else {
		r.sessions.counters[userID] = n
	}
	r.metrics.SetOnlineUsers(len(r.sessions.counters))
	return n == 0, nil
}

// Subscribe makes observer and subject listen to each other.
func (r *Registry) Subscribe(observerID, subjectID string) {
	if observerID == subjectID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions.listen(subjectID, observerID)
	r.sessions.listen(observerID, subjectID)
}

// UpdateStatus writes status onto both cached copies of the profile and
// returns who should hear about it.
func (r *Registry) UpdateStatus(user models.User, status models.Status) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.Status = status
	r.writeUserLocked(user)
	r.metrics.StatusChanged(string(status))
	return r.sessions.listeners(user.ID)
}

// Listeners returns who hears about userID's status changes.
func (r *Registry) Listeners(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.listeners(userID)
}

// ConnectionCount is the number of live connections userID has.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.counters[userID]
}

// OnlineUsers is the number of users with at least one live connection.
func (r *Registry) OnlineUsers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions.counters)
}
