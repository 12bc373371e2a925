package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// registryPrefix is the Redis key prefix for active-session hashes.
	registryPrefix = "drift:session:"
)

// Registry tracks issued sessions in Redis so they can be revoked before
// their bearer tokens expire. A session absent from the registry is
// treated as revoked.
type Registry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRegistry connects a session registry to Redis.
func NewRegistry(redisAddr string, ttl time.Duration) (*Registry, error) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("identity: redis connection failed: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{client: client, ttl: ttl}, nil
}

// NewRegistryWithClient wraps an existing Redis client.
func NewRegistryWithClient(client *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{client: client, ttl: ttl}
}

// Register records a freshly issued session with the registry TTL.
func (r *Registry) Register(ctx context.Context, s *Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	key := registryPrefix + s.Token
	now := time.Now().Unix()

	fields := map[string]interface{}{
		"user_type":    s.UserType,
		"mode":         s.Mode,
		"user_id":      s.UserID,
		"age_verified": s.AgeVerified,
		"created_at":   now,
		"last_active":  now,
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Active reports whether the session token is still registered.
func (r *Registry) Active(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, registryPrefix+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Touch refreshes the session's TTL and last-active stamp.
func (r *Registry) Touch(ctx context.Context, token string) error {
	key := registryPrefix + token
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Revoke removes a session, invalidating its bearer token ahead of expiry.
func (r *Registry) Revoke(ctx context.Context, token string) error {
	return r.client.Del(ctx, registryPrefix+token).Err()
}

// Close closes the Redis connection.
func (r *Registry) Close() error {
	return r.client.Close()
}
