package ratelimit

import (
	"testing"
	"time"

	"github.com/driftapp/drift/internal/clock"
)

func TestAllowUpToLimit(t *testing.T) {
	clk := clock.NewFake(1_000_000)
	l := NewLimiter(clk)
	rule := Rule{Key: "rl:test:", Limit: 20, Window: time.Minute}

	for i := 1; i <= 20; i++ {
		if !l.Allow("session:s_a", rule) {
			t.Fatalf("send %d should be allowed", i)
		}
	}
	if l.Allow("session:s_a", rule) {
		t.Fatal("send 21 inside the window should be denied")
	}
}

func TestWindowRecoversAfterSixtySeconds(t *testing.T) {
	clk := clock.NewFake(1_000_000)
	l := NewLimiter(clk)
	rule := Rule{Key: "rl:test:", Limit: 20, Window: time.Minute}

	for i := 0; i < 20; i++ {
		if !l.Allow("session:s_a", rule) {
			t.Fatalf("send %d should be allowed", i+1)
		}
	}
	if l.Allow("session:s_a", rule) {
		t.Fatal("expected denial at the limit")
	}

	clk.Advance(60 * time.Second)
	if !l.Allow("session:s_a", rule) {
		t.Fatal("expected the window to have recovered after 60s")
	}
}

// The window slides continuously: slots free up one by one as their
// timestamps age out, not all at once on a bucket boundary.
func TestContinuousRecovery(t *testing.T) {
	clk := clock.NewFake(0)
	l := NewLimiter(clk)
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

	l.Allow("k", rule) // t=0
	clk.Advance(10 * time.Second)
	l.Allow("k", rule) // t=10s
	clk.Advance(10 * time.Second)
	l.Allow("k", rule) // t=20s
	if l.Allow("k", rule) {
		t.Fatal("fourth send at t=20s should be denied")
	}

	// t=60s: the t=0 stamp is exactly one window old and no longer counts.
	clk.Advance(40 * time.Second)
	if !l.Allow("k", rule) {
		t.Fatal("send at t=60s should reuse the freed slot")
	}
	if l.Allow("k", rule) {
		t.Fatal("window still holds t=10s, t=20s, t=60s; expected denial")
	}

	clk.Advance(10 * time.Second)
	if !l.Allow("k", rule) {
		t.Fatal("send at t=70s should reuse the slot freed by t=10s")
	}
}

func TestDeniedSendsDoNotCount(t *testing.T) {
	clk := clock.NewFake(0)
	l := NewLimiter(clk)
	rule := Rule{Key: "rl:test:", Limit: 2, Window: time.Minute}

	l.Allow("k", rule)
	l.Allow("k", rule)
	for i := 0; i < 10; i++ {
		if l.Allow("k", rule) {
			t.Fatal("expected denial")
		}
	}

	clk.Advance(time.Minute)
	if !l.Allow("k", rule) {
		t.Fatal("denied attempts must not extend the window")
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	clk := clock.NewFake(0)
	l := NewLimiter(clk)
	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Minute}

	if !l.Allow("session:s_a", rule) {
		t.Fatal("first identifier should be allowed")
	}
	if !l.Allow("session:s_b", rule) {
		t.Fatal("second identifier should be unaffected by the first")
	}
	if l.Allow("session:s_a", rule) {
		t.Fatal("first identifier should now be at its limit")
	}
}

func TestRemaining(t *testing.T) {
	clk := clock.NewFake(0)
	l := NewLimiter(clk)
	rule := Rule{Key: "rl:test:", Limit: 5, Window: time.Minute}

	if got := l.Remaining("k", rule); got != 5 {
		t.Fatalf("fresh identifier: expected 5 remaining, got %d", got)
	}
	l.Allow("k", rule)
	l.Allow("k", rule)
	if got := l.Remaining("k", rule); got != 3 {
		t.Fatalf("expected 3 remaining, got %d", got)
	}
	clk.Advance(time.Minute)
	if got := l.Remaining("k", rule); got != 5 {
		t.Fatalf("after recovery: expected 5 remaining, got %d", got)
	}
}

func TestPruneStale(t *testing.T) {
	clk := clock.NewFake(0)
	l := NewLimiter(clk)
	rule := Rule{Key: "rl:test:", Limit: 5, Window: time.Minute}

	l.Allow("a", rule)
	l.Allow("b", rule)
	if got := l.PruneStale(); got != 0 {
		t.Fatalf("nothing stale yet, evicted %d", got)
	}

	clk.Advance(2 * time.Minute)
	l.Allow("b", rule)
	if got := l.PruneStale(); got != 1 {
		t.Fatalf("expected to evict 1 identifier, evicted %d", got)
	}
	if got := l.Remaining("b", rule); got != 4 {
		t.Fatalf("active identifier should survive the prune, remaining=%d", got)
	}
}
