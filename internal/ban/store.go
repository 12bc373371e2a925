// Package ban provides actor-level bans backed by Redis. A ban locks an
// actor out of the auth surface entirely: minting a session for a banned
// actor key fails until the ban expires. Ban records are simple key-value
// pairs with TTL-based expiry:
//
//	Key:   drift:ban:<actorKey>
//	Value: <reason>
//	TTL:   ban duration
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for ban records.
	BanPrefix = "drift:ban:"

	// ReportsPrefix is the Redis key prefix for per-actor report counters.
	ReportsPrefix = "drift:reports:"

	// Escalating ban durations by offense count.
	Ban15Min  = 15 * time.Minute // 1st offense
	Ban1Hour  = 1 * time.Hour    // 2nd offense
	Ban24Hour = 24 * time.Hour   // 3rd+ offense

	// ReportsTTL is how long the report counter lives without new reports.
	ReportsTTL = 24 * time.Hour

	// AutoBanThreshold is the number of reports within ReportsTTL that
	// triggers an automatic ban.
	AutoBanThreshold = 3
)

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned checks whether an actor key is currently banned. Returns
// (banned, remainingSeconds, reason, error). Redis errors are returned so
// callers can decide how to handle them; the auth surface fails open.
func (s *Store) IsBanned(ctx context.Context, actorKey string) (bool, int, string, error) {
	key := BanPrefix + actorKey

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The ban exists but the TTL read failed. Report banned with 0
		// remaining rather than swallowing the ban.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}
	return true, remaining, reason, nil
}

// Ban locks out an actor key for the given duration.
func (s *Store) Ban(ctx context.Context, actorKey string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, BanPrefix+actorKey, reason, duration).Err()
}

// Unban lifts a ban immediately.
func (s *Store) Unban(ctx context.Context, actorKey string) error {
	return s.client.Del(ctx, BanPrefix+actorKey).Err()
}

// escalationDuration returns the ban duration for a given offense count.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Ban15Min
	case offenseCount == 2:
		return Ban1Hour
	default:
		return Ban24Hour
	}
}

// Escalate records one moderation strike (a policy-flagged message) and
// applies a ban whose duration escalates with the strike count:
//
//	1st strike  -> 15 minutes
//	2nd strike  -> 1 hour
//	3rd+ strike -> 24 hours
//
// The strike counter shares the report counter's key and TTL, so filed
// reports and flagged messages escalate together. Returns the applied
// ban duration.
func (s *Store) Escalate(ctx context.Context, actorKey string, reason string) (time.Duration, error) {
	key := ReportsPrefix + actorKey

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ban: escalate incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, ReportsTTL).Err(); err != nil {
			return 0, fmt.Errorf("ban: escalate expire: %w", err)
		}
	}

	duration := escalationDuration(int(count))
	if err := s.Ban(ctx, actorKey, duration, reason); err != nil {
		return 0, fmt.Errorf("ban: escalate ban: %w", err)
	}
	return duration, nil
}

// ReportAndCheck increments the report counter for an actor key and, when
// the counter reaches AutoBanThreshold within its TTL window, applies a
// ban via the escalation ladder. Below the threshold nothing happens.
// The counter's TTL is set only on the first increment so the window does
// not slide. Returns (banned, appliedDuration, error).
func (s *Store) ReportAndCheck(ctx context.Context, actorKey string) (bool, time.Duration, error) {
	key := ReportsPrefix + actorKey

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ban: report incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, ReportsTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("ban: report expire: %w", err)
		}
	}

	if count >= AutoBanThreshold {
		duration := escalationDuration(int(count))
		if err := s.Ban(ctx, actorKey, duration, "multiple_reports"); err != nil {
			return false, 0, fmt.Errorf("ban: report ban: %w", err)
		}
		return true, duration, nil
	}
	return false, 0, nil
}
