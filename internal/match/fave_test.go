package match

import (
	"testing"

	"github.com/driftapp/drift/internal/clock"
	"github.com/driftapp/drift/internal/gate"
	"github.com/driftapp/drift/internal/identity"
)

func TestFave_RoundTrip(t *testing.T) {
	e, clk := newTestEngine(t)
	alice := dateSession("alice")

	if _, gerr := e.Fave(alice, "bob"); gerr != nil {
		t.Fatalf("fave bob: %v", gerr)
	}
	clk.Advance(clockAdvance)
	if _, gerr := e.Fave(alice, "carol"); gerr != nil {
		t.Fatalf("fave carol: %v", gerr)
	}

	got, gerr := e.ListFaves(alice)
	if gerr != nil {
		t.Fatalf("list: %v", gerr)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 faves, got %d", len(got))
	}
	if got[0].TargetID != "carol" || got[1].TargetID != "bob" {
		t.Errorf("expected newest first, got %q then %q", got[0].TargetID, got[1].TargetID)
	}

	removed, gerr := e.Unfave(alice, "bob")
	if gerr != nil {
		t.Fatalf("unfave: %v", gerr)
	}
	if !removed {
		t.Error("expected the fave to be removed")
	}
	removed, _ = e.Unfave(alice, "bob")
	if removed {
		t.Error("second unfave must be a no-op")
	}

	got, _ = e.ListFaves(alice)
	if len(got) != 1 || got[0].TargetID != "carol" {
		t.Errorf("unexpected listing after unfave: %+v", got)
	}
}

func TestFave_RepeatKeepsOriginalTimestamp(t *testing.T) {
	e, clk := newTestEngine(t)
	alice := dateSession("alice")

	first, gerr := e.Fave(alice, "bob")
	if gerr != nil {
		t.Fatalf("fave: %v", gerr)
	}
	clk.Advance(clockAdvance)
	again, gerr := e.Fave(alice, "bob")
	if gerr != nil {
		t.Fatalf("repeat fave: %v", gerr)
	}
	if again.CreatedAtMs != first.CreatedAtMs {
		t.Errorf("repeat fave changed the timestamp: %d -> %d", first.CreatedAtMs, again.CreatedAtMs)
	}
}

func TestFave_RejectsInvalidTarget(t *testing.T) {
	e, _ := newTestEngine(t)
	alice := dateSession("alice")

	for _, target := range []string{"", "  ", "alice"} {
		if _, gerr := e.Fave(alice, target); gerr == nil || gerr.Code != gate.CodeUnauthorizedAction {
			t.Errorf("target %q: got %v, want UNAUTHORIZED_ACTION", target, gerr)
		}
	}
}

func TestFave_Gated(t *testing.T) {
	e, _ := newTestEngine(t)

	guest := &identity.Session{
		Token:       "tok-guest",
		UserType:    identity.UserGuest,
		Mode:        identity.ModeHybrid,
		AgeVerified: true,
	}
	if _, gerr := e.Fave(guest, "bob"); gerr == nil || gerr.Code != gate.CodeAnonymousForbidden {
		t.Errorf("guest fave: got %v, want ANONYMOUS_FORBIDDEN", gerr)
	}

	cruise := dateSession("alice")
	cruise.Mode = identity.ModeCruise
	if _, gerr := e.ListFaves(cruise); gerr == nil || gerr.Code != gate.CodeMatchingNotAllowed {
		t.Errorf("cruise fave listing: got %v, want MATCHING_NOT_ALLOWED", gerr)
	}
}

func TestFave_SnapshotRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	alice := dateSession("alice")
	if _, gerr := e.Fave(alice, "bob"); gerr != nil {
		t.Fatalf("fave: %v", gerr)
	}

	restored := NewEngine(clock.NewFake(2_000_000), nil, nil)
	for _, rec := range e.DumpFaves() {
		if err := restored.RestoreFave(rec); err != nil {
			t.Fatalf("restore: %v", err)
		}
	}
	got, _ := restored.ListFaves(alice)
	if len(got) != 1 || got[0].TargetID != "bob" {
		t.Errorf("restored listing = %+v", got)
	}

	bad := []FaveRecord{
		{UserID: "", TargetID: "bob"},
		{UserID: "alice", TargetID: "alice"},
		{UserID: "alice", TargetID: "bob", CreatedAtMs: -5},
	}
	for i, rec := range bad {
		if err := restored.RestoreFave(rec); err == nil {
			t.Errorf("fave row %d: expected an error", i)
		}
	}
}
