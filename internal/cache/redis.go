package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"rtchat/backend/internal/models"
)

// ErrMirrorMiss is returned when the mirror holds nothing for a key.
var ErrMirrorMiss = errors.New("not found in mirror")

// RedisMirror is a second-level memo for tokens and profiles so a restart
// does not hit the identity provider for every connected user at once.
type RedisMirror struct {
	client     *redis.Client
	logger     zerolog.Logger
	profileTTL time.Duration
}

func NewRedisMirror(ctx context.Context, redisURL string, profileTTL time.Duration, logger zerolog.Logger) (*RedisMirror, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", opt.Addr).Msg("Connected to Redis mirror.")
	return newRedisMirror(client, profileTTL, logger), nil
}

func newRedisMirror(client *redis.Client, profileTTL time.Duration, logger zerolog.Logger) *RedisMirror {
	return &RedisMirror{
		client:     client,
		logger:     logger.With().Str("component", "RedisMirror").Logger(),
		profileTTL: profileTTL,
	}
}

func (m *RedisMirror) LoadToken(ctx context.Context) (models.AccessToken, time.Duration, error) {
	var token models.AccessToken
	if err := m.load(ctx, KeyToken, &token); err != nil {
		return token, 0, err
	}
	ttl, err := m.client.TTL(ctx, KeyToken).Result()
	if err != nil {
		return token, 0, fmt.Errorf("redis ttl failed: %w", err)
	}
	if ttl <= 0 {
		return token, 0, ErrMirrorMiss
	}
	return token, ttl, nil
}

func (m *RedisMirror) StoreToken(ctx context.Context, token models.AccessToken, ttl time.Duration) error {
	return m.store(ctx, KeyToken, token, ttl)
}

func (m *RedisMirror) LoadUser(ctx context.Context, idOrEmail string) (models.User, error) {
	var user models.User
	err := m.load(ctx, UserKey(idOrEmail), &user)
	return user, err
}

// StoreUser writes the profile under both lookup keys. Status is presence
// state of this process and is stripped.
func (m *RedisMirror) StoreUser(ctx context.Context, user models.User) error {
	user.Status = ""
	if err := m.store(ctx, UserKey(user.ID), user, m.profileTTL); err != nil {
		return err
	}
	if user.Email == "" {
		return nil
	}
	return m.store(ctx, UserKey(user.Email), user, m.profileTTL)
}

func (m *RedisMirror) load(ctx context.Context, key string, dst any) error {
	data, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMirrorMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal mirrored data for key %s: %w", key, err)
	}
	m.logger.Debug().Str("key", key).Msg("Redis mirror hit.")
	return nil
}

func (m *RedisMirror) store(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal data for key %s: %w", key, err)
	}
	if err := m.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	return nil
}

func (m *RedisMirror) Close() error {
	if m.client != nil {
		m.logger.Info().Msg("Closing Redis mirror connection...")
		return m.client.Close()
	}
	return nil
}
