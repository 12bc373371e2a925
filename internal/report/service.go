package report

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/ban"
	"github.com/driftapp/drift/internal/gate"
	"github.com/driftapp/drift/internal/identity"
	"github.com/driftapp/drift/internal/logger"
	"github.com/driftapp/drift/internal/ratelimit"
)

// maxCommentRunes caps the free-form comment on a report.
const maxCommentRunes = 1000

// Service is the report filing operation: authorize the reporter,
// validate target and reason, rate limit filings, then persist and feed
// the auto-ban counter. Persistence and the counter are best effort; a
// storage outage never blocks the filing path.
type Service struct {
	store   *Store
	bans    *ban.Store
	limiter *ratelimit.Limiter
	log     *zap.Logger
}

// NewService wires the filing path. A nil store accepts reports without
// persisting them, a nil bans skips the auto-ban counter, and a nil
// limiter disables the per-reporter cap.
func NewService(store *Store, bans *ban.Store, limiter *ratelimit.Limiter) *Service {
	return &Service{store: store, bans: bans, limiter: limiter, log: logger.L("report")}
}

// File records an abuse report from the session against targetKey.
// ThreadID and comment are optional. Returns the filed report, or the
// gate rejection for unauthorized, malformed, or rate-limited filings.
func (svc *Service) File(ctx context.Context, s *identity.Session, targetKey, threadID, reason, comment string) (*Report, *gate.Error) {
	if gerr := gate.Authorize(s, gate.Request{Action: gate.ActionReport}); gerr != nil {
		return nil, gerr
	}

	target, err := identity.NormalizeKey(targetKey)
	if err != nil {
		return nil, gate.Unauthorized("Invalid report target.")
	}
	if identity.SameActor(s.ActorKey(), target) {
		return nil, gate.Unauthorized("Cannot report yourself.")
	}
	if !ValidReason(reason) {
		return nil, gate.Unauthorized("Invalid report reason.")
	}
	if runes := []rune(comment); len(runes) > maxCommentRunes {
		comment = string(runes[:maxCommentRunes])
	}

	if svc.limiter != nil && !svc.limiter.Allow(s.ActorKey(), ratelimit.RuleReport) {
		return nil, gate.TooManyReports()
	}

	r := &Report{
		ID:          uuid.New().String(),
		ReporterKey: s.ActorKey(),
		TargetKey:   target,
		ThreadID:    threadID,
		Reason:      reason,
		Comment:     comment,
		CreatedAt:   time.Now().UTC(),
	}

	if svc.store != nil {
		if err := svc.store.Create(ctx, r); err != nil {
			svc.log.Warn("report not persisted",
				zap.String("target", target),
				zap.Error(err))
		}
	}

	if svc.bans != nil {
		banned, duration, err := svc.bans.ReportAndCheck(ctx, target)
		if err != nil {
			svc.log.Warn("report counter unavailable",
				zap.String("target", target),
				zap.Error(err))
		} else if banned {
			svc.log.Info("auto-ban applied",
				zap.String("target", target),
				zap.Duration("duration", duration))
		}
	}

	svc.log.Info("report filed",
		zap.String("id", r.ID),
		zap.String("reporter", r.ReporterKey),
		zap.String("target", target),
		zap.String("reason", reason))
	return r, nil
}
