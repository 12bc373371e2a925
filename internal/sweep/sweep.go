// Package sweep runs scheduled maintenance: purging expired cruise
// messages from the chat engine, evicting idle rate-limit windows, and
// saving a reconciled snapshot so purged rows leave the store too.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/chat"
	"github.com/driftapp/drift/internal/logger"
	"github.com/driftapp/drift/internal/match"
	"github.com/driftapp/drift/internal/metrics"
	"github.com/driftapp/drift/internal/ratelimit"
	"github.com/driftapp/drift/internal/store"
)

// DefaultCron runs the sweep at the top of every hour.
const DefaultCron = "0 * * * *"

// Stats summarizes one sweep pass.
type Stats struct {
	PurgedMessages  int
	EvictedLimiters int
	SnapshotSaved   bool
}

// Runner executes sweep passes on a cron schedule. The store and limiter
// are optional; a Runner without a store still purges engine state.
type Runner struct {
	cron    string
	chats   *chat.Engine
	matches *match.Engine
	limiter *ratelimit.Limiter
	store   *store.Store
	log     *zap.Logger
}

// New validates the cron expression and builds a Runner. An empty
// expression selects DefaultCron.
func New(cron string, chats *chat.Engine, matches *match.Engine, limiter *ratelimit.Limiter, st *store.Store) (*Runner, error) {
	if cron == "" {
		cron = DefaultCron
	}
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("sweep: invalid cron expression %q", cron)
	}
	return &Runner{
		cron:    cron,
		chats:   chats,
		matches: matches,
		limiter: limiter,
		store:   st,
		log:     logger.L("sweep"),
	}, nil
}

// RunOnce executes a single sweep pass.
func (r *Runner) RunOnce() Stats {
	var stats Stats
	stats.PurgedMessages = r.chats.PurgeExpired()
	metrics.SweptMessagesTotal.Add(float64(stats.PurgedMessages))
	if r.limiter != nil {
		stats.EvictedLimiters = r.limiter.PruneStale()
	}
	if r.store != nil {
		start := time.Now()
		if err := r.store.SaveSnapshot(store.Export(r.chats, r.matches)); err != nil {
			r.log.Error("snapshot save failed", zap.Error(err))
		} else {
			stats.SnapshotSaved = true
			metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		}
	}
	r.log.Info("sweep complete",
		zap.Int("purged_messages", stats.PurgedMessages),
		zap.Int("evicted_limiters", stats.EvictedLimiters),
		zap.Bool("snapshot_saved", stats.SnapshotSaved))
	return stats
}

// Start launches the scheduler goroutine. It sleeps until the next cron
// tick, runs a pass, and repeats until ctx is canceled. The returned
// cancel stops the scheduler.
func (r *Runner) Start(ctx context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	r.log.Info("sweep scheduler started", zap.String("cron", r.cron))
	go r.loop(ctx)
	return cancel
}

func (r *Runner) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(r.cron, time.Now().UTC(), false)
		if err != nil {
			r.log.Error("next tick computation failed", zap.String("cron", r.cron), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				r.log.Info("sweep scheduler stopping")
				return
			}
		}
		select {
		case <-time.After(time.Until(next)):
			r.RunOnce()
		case <-ctx.Done():
			r.log.Info("sweep scheduler stopping")
			return
		}
	}
}
