package ban

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and
// removes test keys before and after. Requires a running Redis on
// localhost:6379; skipped otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		for _, pattern := range []string{BanPrefix + "user:test-*", ReportsPrefix + "user:test-*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewStore(client)
}

// ---------- ban record tests ----------

func TestIsBanned_NotBanned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	banned, remaining, reason, err := store.IsBanned(ctx, "user:test-no-ban")
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if banned {
		t.Errorf("expected not banned, got banned (remaining=%d reason=%q)", remaining, reason)
	}
}

func TestBanAndCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "user:test-ban-check"

	if err := store.Ban(ctx, key, 30*time.Second, "spam"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	banned, remaining, reason, err := store.IsBanned(ctx, key)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true")
	}
	if reason != "spam" {
		t.Errorf("expected reason=%q, got %q", "spam", reason)
	}
	if remaining <= 0 || remaining > 30 {
		t.Errorf("expected remaining in (0,30], got %d", remaining)
	}
}

func TestUnban(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "user:test-unban"

	if err := store.Ban(ctx, key, time.Minute, "test"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	banned, _, _, _ := store.IsBanned(ctx, key)
	if !banned {
		t.Fatal("expected banned=true after Ban()")
	}

	if err := store.Unban(ctx, key); err != nil {
		t.Fatalf("Unban() error: %v", err)
	}
	banned, _, _, err := store.IsBanned(ctx, key)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if banned {
		t.Error("expected not banned after Unban()")
	}
}

// ---------- escalation tests ----------

func TestEscalationDuration(t *testing.T) {
	cases := []struct {
		count    int
		expected time.Duration
	}{
		{0, Ban15Min},
		{1, Ban15Min},
		{2, Ban1Hour},
		{3, Ban24Hour},
		{4, Ban24Hour},
		{10, Ban24Hour},
	}
	for _, tc := range cases {
		got := escalationDuration(tc.count)
		if got != tc.expected {
			t.Errorf("escalationDuration(%d) = %v, want %v", tc.count, got, tc.expected)
		}
	}
}

func TestEscalate_FirstStrike15Min(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "user:test-escalate-1st"

	duration, err := store.Escalate(ctx, key, "flagged_message")
	if err != nil {
		t.Fatalf("Escalate() error: %v", err)
	}
	if duration != Ban15Min {
		t.Errorf("1st strike: expected %v, got %v", Ban15Min, duration)
	}

	banned, remaining, reason, err := store.IsBanned(ctx, key)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true after 1st strike")
	}
	if reason != "flagged_message" {
		t.Errorf("expected reason=%q, got %q", "flagged_message", reason)
	}
	// 15 min = 900 seconds; allow some slack for test execution time.
	if remaining < 890 || remaining > 900 {
		t.Errorf("expected remaining ~900s, got %d", remaining)
	}
}

func TestEscalate_SecondStrike1Hour(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "user:test-escalate-2nd"

	if _, err := store.Escalate(ctx, key, "flagged_message"); err != nil {
		t.Fatalf("1st Escalate() error: %v", err)
	}
	store.Unban(ctx, key)

	duration, err := store.Escalate(ctx, key, "flagged_message")
	if err != nil {
		t.Fatalf("2nd Escalate() error: %v", err)
	}
	if duration != Ban1Hour {
		t.Errorf("2nd strike: expected %v, got %v", Ban1Hour, duration)
	}

	banned, remaining, _, err := store.IsBanned(ctx, key)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true after 2nd strike")
	}
	if remaining < 3590 || remaining > 3600 {
		t.Errorf("expected remaining ~3600s, got %d", remaining)
	}
}

func TestEscalate_ThirdStrikeCapped24Hour(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "user:test-escalate-3rd"

	store.Escalate(ctx, key, "flagged_message")
	store.Escalate(ctx, key, "flagged_message")
	store.Unban(ctx, key)

	duration, err := store.Escalate(ctx, key, "flagged_message")
	if err != nil {
		t.Fatalf("3rd Escalate() error: %v", err)
	}
	if duration != Ban24Hour {
		t.Errorf("3rd strike: expected %v, got %v", Ban24Hour, duration)
	}

	// A 4th strike stays capped at 24h, no permanent bans.
	store.Unban(ctx, key)
	duration, err = store.Escalate(ctx, key, "flagged_message")
	if err != nil {
		t.Fatalf("4th Escalate() error: %v", err)
	}
	if duration != Ban24Hour {
		t.Errorf("4th strike: expected %v (capped), got %v", Ban24Hour, duration)
	}
}

// ---------- report auto-ban tests ----------

func TestReportAndCheck_BelowThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "user:test-report-below"

	banned, duration, err := store.ReportAndCheck(ctx, key)
	if err != nil {
		t.Fatalf("ReportAndCheck() error: %v", err)
	}
	if banned {
		t.Error("expected banned=false after 1 report")
	}
	if duration != 0 {
		t.Errorf("expected duration=0, got %v", duration)
	}

	banned, _, err = store.ReportAndCheck(ctx, key)
	if err != nil {
		t.Fatalf("ReportAndCheck() error: %v", err)
	}
	if banned {
		t.Error("expected banned=false after 2 reports")
	}

	isBanned, _, _, _ := store.IsBanned(ctx, key)
	if isBanned {
		t.Error("actor should not be banned with only 2 reports")
	}
}

func TestReportAndCheck_AutoBanAtThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "user:test-report-autoban"

	store.ReportAndCheck(ctx, key)
	store.ReportAndCheck(ctx, key)

	banned, duration, err := store.ReportAndCheck(ctx, key)
	if err != nil {
		t.Fatalf("ReportAndCheck() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true after 3 reports")
	}
	if duration != Ban24Hour {
		t.Errorf("expected ban duration %v, got %v", Ban24Hour, duration)
	}

	isBanned, _, reason, _ := store.IsBanned(ctx, key)
	if !isBanned {
		t.Fatal("expected IsBanned=true after auto-ban")
	}
	if reason != "multiple_reports" {
		t.Errorf("expected reason=%q, got %q", "multiple_reports", reason)
	}
}

func TestReportAndCheck_SubsequentReportsStillBan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "user:test-report-subsequent"

	store.ReportAndCheck(ctx, key)
	store.ReportAndCheck(ctx, key)
	store.ReportAndCheck(ctx, key)

	banned, duration, err := store.ReportAndCheck(ctx, key)
	if err != nil {
		t.Fatalf("ReportAndCheck() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true for 4th+ report")
	}
	if duration != Ban24Hour {
		t.Errorf("expected %v, got %v", Ban24Hour, duration)
	}
}

func TestReportCounterTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "user:test-report-ttl"

	store.ReportAndCheck(ctx, key)

	ttl, err := store.client.TTL(ctx, ReportsPrefix+key).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	// TTL should be close to 24h (86400s). Allow 10s slack.
	if ttl < 86390*time.Second || ttl > 86400*time.Second {
		t.Errorf("expected TTL ~24h, got %v", ttl)
	}
}
