package identity

import (
	"testing"
	"time"
)

func validRegistered() *Session {
	return &Session{
		Token:       "tok-1",
		UserType:    UserRegistered,
		Mode:        ModeDate,
		UserID:      "u1",
		AgeVerified: true,
	}
}

func TestSessionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Session)
		wantErr bool
	}{
		{"valid registered", func(s *Session) {}, false},
		{"valid subscriber", func(s *Session) { s.UserType = UserSubscriber }, false},
		{"valid guest", func(s *Session) { s.UserType = UserGuest; s.UserID = ""; s.Mode = ModeCruise }, false},
		{"empty token", func(s *Session) { s.Token = "" }, true},
		{"unknown user type", func(s *Session) { s.UserType = "admin" }, true},
		{"unknown mode", func(s *Session) { s.Mode = "stealth" }, true},
		{"guest with user id", func(s *Session) { s.UserType = UserGuest }, true},
		{"registered without user id", func(s *Session) { s.UserID = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validRegistered()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSessionValidateNil(t *testing.T) {
	var s *Session
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for nil session")
	}
}

func TestActorKeyDerivation(t *testing.T) {
	reg := validRegistered()
	if got := reg.ActorKey(); got != "user:u1" {
		t.Errorf("registered actor key: expected %q, got %q", "user:u1", got)
	}

	guest := &Session{Token: "s_a", UserType: UserGuest, Mode: ModeCruise, AgeVerified: true}
	if got := guest.ActorKey(); got != "session:s_a" {
		t.Errorf("guest actor key: expected %q, got %q", "session:s_a", got)
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"user passthrough", "user:u1", "user:u1", false},
		{"session passthrough", "session:s_a", "session:s_a", false},
		{"legacy guest", "guest:s_a", "session:s_a", false},
		{"legacy guest-session", "guest-session:s_a", "session:s_a", false},
		{"empty user id", "user:", "", true},
		{"empty session token", "session:", "", true},
		{"empty legacy token", "guest:", "", true},
		{"no prefix", "u1", "", true},
		{"empty string", "", "", true},
		{"separator in key", "user:a|b", "", true},
		{"whitespace in key", "session:s a", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeKey(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSameActor(t *testing.T) {
	if !SameActor("guest:s_a", "session:s_a") {
		t.Error("legacy guest key should equal its session form")
	}
	if SameActor("user:u1", "session:u1") {
		t.Error("user and session keys with the same id are different actors")
	}
	if SameActor("bogus", "bogus") {
		t.Error("unparseable keys are never the same actor")
	}
}

func TestPairKeyOrderIndependent(t *testing.T) {
	a, b := "user:u2", "user:u1"
	if PairKey(a, b) != PairKey(b, a) {
		t.Fatalf("pair key must be order independent: %q vs %q", PairKey(a, b), PairKey(b, a))
	}
	if got := PairKey(a, b); got != "user:u1|user:u2" {
		t.Errorf("expected lower key first, got %q", got)
	}
}

func TestUserIDExtraction(t *testing.T) {
	if id, ok := UserID("user:u9"); !ok || id != "u9" {
		t.Errorf("expected (u9,true), got (%q,%v)", id, ok)
	}
	if _, ok := UserID("session:s_a"); ok {
		t.Error("session key should not yield a user id")
	}
	if _, ok := UserID("user:"); ok {
		t.Error("bare prefix should not yield a user id")
	}
}

// ---------------------------------------------------------------------------
// Token issuer round trip
// ---------------------------------------------------------------------------

func TestTokenIssuerRoundTrip(t *testing.T) {
	ti, err := NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	bearer, minted, err := ti.Issue(UserRegistered, ModeHybrid, "u42", true)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if minted.Token == "" {
		t.Fatal("minted session has empty token")
	}

	got, err := ti.Resolve(bearer)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Token != minted.Token {
		t.Errorf("token: expected %q, got %q", minted.Token, got.Token)
	}
	if got.UserType != UserRegistered || got.Mode != ModeHybrid || got.UserID != "u42" || !got.AgeVerified {
		t.Errorf("claims did not survive the round trip: %+v", got)
	}
}

func TestTokenIssuerRejectsTamperedToken(t *testing.T) {
	ti, err := NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	bearer, _, err := ti.Issue(UserGuest, ModeCruise, "", true)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := bearer[:len(bearer)-2] + "xx"
	if _, err := ti.Resolve(tampered); err == nil {
		t.Fatal("expected tampered token to fail verification")
	}

	other, err := NewTokenIssuer("different-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	if _, err := other.Resolve(bearer); err == nil {
		t.Fatal("expected foreign-secret verification to fail")
	}
}

func TestTokenIssuerRejectsInvalidShape(t *testing.T) {
	ti, err := NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	if _, _, err := ti.Issue(UserGuest, ModeCruise, "u1", true); err == nil {
		t.Fatal("expected guest-with-user-id to be rejected")
	}
	if _, _, err := ti.Issue(UserRegistered, "stealth", "u1", true); err == nil {
		t.Fatal("expected unknown mode to be rejected")
	}
	if _, _, err := ti.Issue(UserRegistered, ModeDate, "", true); err == nil {
		t.Fatal("expected missing user id to be rejected")
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("", time.Hour); err == nil {
		t.Fatal("expected empty secret to be rejected")
	}
}
