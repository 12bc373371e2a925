package block

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/logger"
)

const (
	// BlockPrefix is the Redis key prefix for per-owner block sets.
	//
	//	Key:     drift:block:<ownerKey>
	//	Members: blocked target ActorKeys
	BlockPrefix = "drift:block:"

	// checkTimeout bounds block lookups on the send path.
	checkTimeout = 2 * time.Second
)

// Store manages block sets in Redis and implements Checker. Lookups fail
// open on Redis errors so an outage does not silence all traffic; writes
// surface their errors to the caller.
type Store struct {
	client *redis.Client
}

// NewStore creates a block store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Block adds target to owner's block set.
func (s *Store) Block(ctx context.Context, owner, target string) error {
	return s.client.SAdd(ctx, BlockPrefix+owner, target).Err()
}

// Unblock removes target from owner's block set.
func (s *Store) Unblock(ctx context.Context, owner, target string) error {
	return s.client.SRem(ctx, BlockPrefix+owner, target).Err()
}

// Blocks lists the targets owner has blocked.
func (s *Store) Blocks(ctx context.Context, owner string) ([]string, error) {
	return s.client.SMembers(ctx, BlockPrefix+owner).Result()
}

// IsBlocked reports whether either party has blocked the other. On Redis
// errors it fails open so legitimate traffic is not dropped during an
// outage.
func (s *Store) IsBlocked(fromKey, toKey string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	pipe := s.client.Pipeline()
	fwd := pipe.SIsMember(ctx, BlockPrefix+fromKey, toKey)
	rev := pipe.SIsMember(ctx, BlockPrefix+toKey, fromKey)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.L("block").Warn("redis block check failed, failing open",
			zap.String("from", fromKey), zap.String("to", toKey), zap.Error(err))
		return false
	}
	return fwd.Val() || rev.Val()
}
