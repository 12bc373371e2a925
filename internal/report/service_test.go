package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/driftapp/drift/internal/clock"
	"github.com/driftapp/drift/internal/gate"
	"github.com/driftapp/drift/internal/identity"
	"github.com/driftapp/drift/internal/ratelimit"
)

const svcStartMs = 1_700_000_000_000

func member(userID string) *identity.Session {
	return &identity.Session{
		Token:       "tok-" + userID,
		UserType:    identity.UserRegistered,
		Mode:        identity.ModeHybrid,
		UserID:      userID,
		AgeVerified: true,
	}
}

func guest(token string) *identity.Session {
	return &identity.Session{
		Token:       token,
		UserType:    identity.UserGuest,
		Mode:        identity.ModeCruise,
		AgeVerified: true,
	}
}

// newService builds a filing service with no persistence and no ban
// counter. Rejection paths and report shaping are fully exercised
// offline.
func newService(clk clock.Clock) *Service {
	return NewService(nil, nil, ratelimit.NewLimiter(clk))
}

// ---------- filing validation tests ----------

func TestFileRejections(t *testing.T) {
	svc := newService(clock.NewFake(svcStartMs))
	ctx := context.Background()

	unverified := member("alice")
	unverified.AgeVerified = false

	cases := []struct {
		name     string
		session  *identity.Session
		target   string
		reason   string
		wantCode gate.Code
	}{
		{"nil session", nil, "user:bob", ReasonSpam, gate.CodeInvalidSession},
		{"age gate", unverified, "user:bob", ReasonSpam, gate.CodeAgeGateRequired},
		{"malformed target", member("alice"), "bob", ReasonSpam, gate.CodeUnauthorizedAction},
		{"empty target", member("alice"), "", ReasonSpam, gate.CodeUnauthorizedAction},
		{"self report", member("alice"), "user:alice", ReasonSpam, gate.CodeUnauthorizedAction},
		{"unknown reason", member("alice"), "user:bob", "rude", gate.CodeUnauthorizedAction},
		{"empty reason", member("alice"), "user:bob", "", gate.CodeUnauthorizedAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, gerr := svc.File(ctx, tc.session, tc.target, "", tc.reason, "")
			if gerr == nil {
				t.Fatalf("expected rejection, got report %+v", r)
			}
			if gerr.Code != tc.wantCode {
				t.Errorf("code = %s, want %s", gerr.Code, tc.wantCode)
			}
		})
	}
}

func TestFileGuestAllowed(t *testing.T) {
	svc := newService(clock.NewFake(svcStartMs))

	r, gerr := svc.File(context.Background(), guest("g1"), "user:bob", "", ReasonHarassment, "will not stop messaging me")
	if gerr != nil {
		t.Fatalf("guest filing rejected: %v", gerr)
	}
	if r.ReporterKey != "session:g1" {
		t.Errorf("ReporterKey = %q, want %q", r.ReporterKey, "session:g1")
	}
}

func TestFileFillsReport(t *testing.T) {
	svc := newService(clock.NewFake(svcStartMs))

	r, gerr := svc.File(context.Background(), member("alice"), "guest:g7", "cruise|session:g7|user:alice", ReasonExplicit, "unsolicited media")
	if gerr != nil {
		t.Fatalf("File() rejected: %v", gerr)
	}
	if r.ID == "" {
		t.Error("expected a generated report ID")
	}
	if r.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if r.ReporterKey != "user:alice" {
		t.Errorf("ReporterKey = %q, want %q", r.ReporterKey, "user:alice")
	}
	// Legacy guest prefixes collapse to the session form.
	if r.TargetKey != "session:g7" {
		t.Errorf("TargetKey = %q, want %q", r.TargetKey, "session:g7")
	}
	if r.ThreadID != "cruise|session:g7|user:alice" {
		t.Errorf("ThreadID = %q", r.ThreadID)
	}
	if r.Reason != ReasonExplicit {
		t.Errorf("Reason = %q, want %q", r.Reason, ReasonExplicit)
	}
}

func TestFileTruncatesLongComment(t *testing.T) {
	svc := newService(clock.NewFake(svcStartMs))

	long := strings.Repeat("ё", maxCommentRunes+50)
	r, gerr := svc.File(context.Background(), member("alice"), "user:bob", "", ReasonOther, long)
	if gerr != nil {
		t.Fatalf("File() rejected: %v", gerr)
	}
	if got := utf8.RuneCountInString(r.Comment); got != maxCommentRunes {
		t.Errorf("comment runes = %d, want %d", got, maxCommentRunes)
	}
	if !utf8.ValidString(r.Comment) {
		t.Error("truncated comment is not valid UTF-8")
	}
}

// ---------- filing rate limit tests ----------

func TestFileRateLimited(t *testing.T) {
	clk := clock.NewFake(svcStartMs)
	svc := newService(clk)
	ctx := context.Background()
	alice := member("alice")

	for i := 0; i < ratelimit.RuleReport.Limit; i++ {
		if _, gerr := svc.File(ctx, alice, "user:bob", "", ReasonSpam, ""); gerr != nil {
			t.Fatalf("report %d rejected: %v", i+1, gerr)
		}
	}

	_, gerr := svc.File(ctx, alice, "user:bob", "", ReasonSpam, "")
	if gerr == nil {
		t.Fatal("expected rate limit rejection")
	}
	if !errors.Is(gerr, gate.ErrRateLimited) {
		t.Errorf("code = %s, want %s", gerr.Code, gate.CodeRateLimited)
	}

	// Other reporters have their own window.
	if _, gerr := svc.File(ctx, member("carol"), "user:bob", "", ReasonSpam, ""); gerr != nil {
		t.Fatalf("other reporter rejected: %v", gerr)
	}

	// The window slides; an hour later the reporter may file again.
	clk.Advance(ratelimit.RuleReport.Window)
	if _, gerr := svc.File(ctx, alice, "user:bob", "", ReasonSpam, ""); gerr != nil {
		t.Fatalf("report after window rejected: %v", gerr)
	}
}

func TestFileRejectionsDoNotConsumeWindow(t *testing.T) {
	clk := clock.NewFake(svcStartMs)
	svc := newService(clk)
	ctx := context.Background()
	alice := member("alice")

	for i := 0; i < ratelimit.RuleReport.Limit*2; i++ {
		if _, gerr := svc.File(ctx, alice, "user:bob", "", "nonsense", ""); gerr == nil {
			t.Fatal("expected invalid reason rejection")
		}
	}
	if _, gerr := svc.File(ctx, alice, "user:bob", "", ReasonSpam, ""); gerr != nil {
		t.Fatalf("valid report after rejected ones: %v", gerr)
	}
}
