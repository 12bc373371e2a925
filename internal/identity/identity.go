// Package identity defines who is acting: sessions, user types, interaction
// modes, and the canonical ActorKey strings the engines key their state by.
package identity

import (
	"fmt"
	"strings"
)

// User types. A session's UserID is present exactly when the type is not
// UserGuest.
const (
	UserGuest      = "guest"
	UserRegistered = "registered"
	UserSubscriber = "subscriber"
)

// Interaction modes. Hybrid opts a session into cruise and date behavior
// at the same time.
const (
	ModeCruise = "cruise"
	ModeDate   = "date"
	ModeHybrid = "hybrid"
)

// ActorKey prefixes. Legacy guest prefixes are accepted on input and
// collapse to the session form.
const (
	UserKeyPrefix    = "user:"
	SessionKeyPrefix = "session:"

	legacyGuestPrefix        = "guest:"
	legacyGuestSessionPrefix = "guest-session:"
)

// Session is the caller's identity, consumed read-only. It is minted by the
// auth surface and carried on every engine call.
type Session struct {
	Token       string `json:"sessionToken"`
	UserType    string `json:"userType"`
	Mode        string `json:"mode"`
	UserID      string `json:"userId,omitempty"`
	AgeVerified bool   `json:"ageVerified"`
}

// ValidUserType reports whether t is a known user type.
func ValidUserType(t string) bool {
	switch t {
	case UserGuest, UserRegistered, UserSubscriber:
		return true
	}
	return false
}

// ValidMode reports whether m is a known interaction mode.
func ValidMode(m string) bool {
	switch m {
	case ModeCruise, ModeDate, ModeHybrid:
		return true
	}
	return false
}

// Validate checks the session's shape: non-empty token, known type and
// mode, and UserID presence consistent with the type.
func (s *Session) Validate() error {
	if s == nil {
		return fmt.Errorf("identity: nil session")
	}
	if s.Token == "" {
		return fmt.Errorf("identity: empty session token")
	}
	if !ValidUserType(s.UserType) {
		return fmt.Errorf("identity: unknown user type %q", s.UserType)
	}
	if !ValidMode(s.Mode) {
		return fmt.Errorf("identity: unknown mode %q", s.Mode)
	}
	if s.UserType == UserGuest && s.UserID != "" {
		return fmt.Errorf("identity: guest session carries a user id")
	}
	if s.UserType != UserGuest && s.UserID == "" {
		return fmt.Errorf("identity: %s session missing user id", s.UserType)
	}
	return nil
}

// IsGuest reports whether the session is anonymous.
func (s *Session) IsGuest() bool {
	return s != nil && s.UserType == UserGuest
}

// ActorKey derives the canonical key for this session: user:<id> for
// identified actors, session:<token> for guests.
func (s *Session) ActorKey() string {
	if s.IsGuest() {
		return SessionKeyPrefix + s.Token
	}
	return UserKeyPrefix + s.UserID
}

// NormalizeKey canonicalizes raw into a user: or session: key. Legacy
// guest-prefixed variants collapse to the session form. Keys that carry no
// known prefix are rejected, as are prefixes with empty remainders and
// keys containing separator or whitespace characters.
func NormalizeKey(raw string) (string, error) {
	if strings.ContainsAny(raw, "| \t\r\n") {
		return "", fmt.Errorf("identity: malformed actor key %q", raw)
	}
	switch {
	case strings.HasPrefix(raw, UserKeyPrefix):
		if raw == UserKeyPrefix {
			return "", fmt.Errorf("identity: empty user id in key %q", raw)
		}
		return raw, nil
	case strings.HasPrefix(raw, SessionKeyPrefix):
		if raw == SessionKeyPrefix {
			return "", fmt.Errorf("identity: empty session token in key %q", raw)
		}
		return raw, nil
	case strings.HasPrefix(raw, legacyGuestSessionPrefix):
		rest := raw[len(legacyGuestSessionPrefix):]
		if rest == "" {
			return "", fmt.Errorf("identity: empty session token in key %q", raw)
		}
		return SessionKeyPrefix + rest, nil
	case strings.HasPrefix(raw, legacyGuestPrefix):
		rest := raw[len(legacyGuestPrefix):]
		if rest == "" {
			return "", fmt.Errorf("identity: empty session token in key %q", raw)
		}
		return SessionKeyPrefix + rest, nil
	}
	return "", fmt.Errorf("identity: unrecognized actor key %q", raw)
}

// SameActor reports whether two raw keys name the same entity after
// normalization. Unparseable keys are never the same actor.
func SameActor(a, b string) bool {
	na, err := NormalizeKey(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeKey(b)
	if err != nil {
		return false
	}
	return na == nb
}

// UserID extracts the user id from a user:-form key.
func UserID(key string) (string, bool) {
	if strings.HasPrefix(key, UserKeyPrefix) && len(key) > len(UserKeyPrefix) {
		return key[len(UserKeyPrefix):], true
	}
	return "", false
}

// PairKey joins two canonical keys into an order-independent pair key,
// lower key first.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// OrderPair returns the two values sorted lexicographically.
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
