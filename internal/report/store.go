// Package report persists abuse reports to PostgreSQL for moderator
// review. Each report captures who reported whom, the thread it happened
// in, and a free-form comment. The writer sits behind a circuit breaker
// so a database outage cannot drag the messaging path down with it.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/logger"
)

// Reasons accepted for a report, matching the CHECK constraint on the
// reports table.
const (
	ReasonHarassment = "harassment"
	ReasonSpam       = "spam"
	ReasonExplicit   = "explicit"
	ReasonUnderage   = "underage"
	ReasonOther      = "other"
)

var validReasons = map[string]bool{
	ReasonHarassment: true,
	ReasonSpam:       true,
	ReasonExplicit:   true,
	ReasonUnderage:   true,
	ReasonOther:      true,
}

// ValidReason reports whether reason is an accepted report reason.
func ValidReason(reason string) bool {
	return validReasons[reason]
}

// Report is one filed abuse report.
type Report struct {
	ID          string    `json:"id"`
	ReporterKey string    `json:"reporterKey"`
	TargetKey   string    `json:"targetKey"`
	ThreadID    string    `json:"threadId,omitempty"`
	Reason      string    `json:"reason"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db  *sql.DB
	cb  *gobreaker.CircuitBreaker
	log *zap.Logger
}

// NewStore creates a report store backed by the given database handle.
// The breaker opens after five consecutive failures and probes again
// after thirty seconds.
func NewStore(db *sql.DB) *Store {
	log := logger.L("report")
	st := gobreaker.Settings{
		Name:        "report-writer",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Store{db: db, cb: gobreaker.NewCircuitBreaker(st), log: log}
}

// Create inserts a report. The reason is validated against the allowed
// set before insertion; a missing ID or CreatedAt is filled in.
func (s *Store) Create(ctx context.Context, r *Report) error {
	if !validReasons[r.Reason] {
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO reports (id, reporter_key, target_key, thread_id, reason, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.cb.Execute(func() (interface{}, error) {
		return s.db.ExecContext(ctx, query,
			r.ID, r.ReporterKey, r.TargetKey, r.ThreadID, r.Reason, r.Comment, r.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against targetKey
// within the given window. Live escalation counts in Redis; this is the
// durable count moderators check when reviewing a target.
func (s *Store) CountRecent(ctx context.Context, targetKey string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM reports
		WHERE target_key = $1
		  AND created_at >= NOW() - $2::interval`

	v, err := s.cb.Execute(func() (interface{}, error) {
		var count int
		err := s.db.QueryRowContext(ctx, query, targetKey, window.String()).Scan(&count)
		return count, err
	})
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return v.(int), nil
}

// ListRecent returns the newest reports, capped at limit. Used by the
// janitor's moderation digest, never the request path.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, reporter_key, target_key, thread_id, reason, comment, created_at
		FROM reports
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("report: list recent: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.ReporterKey, &r.TargetKey, &r.ThreadID, &r.Reason, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("report: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
