// Package chat is the messaging engine: thread addressing, message
// validation, sends, reads, retention, and the per-thread state the rest
// of the system hangs off. Cruise threads age out after a retention
// window; Date threads persist. Spot threads are shared cruise threads
// bound to a location key instead of a user pair.
package chat

import (
	"fmt"
	"strings"

	"github.com/driftapp/drift/internal/identity"
)

// Chat kinds.
const (
	KindCruise = "cruise"
	KindDate   = "date"
)

// SpotKeyPrefix marks a broadcast target: a shared many-writer thread
// keyed by location rather than a user pair. Spot threads are cruise only.
const SpotKeyPrefix = "spot:"

// ValidKind reports whether kind names a chat kind.
func ValidKind(kind string) bool {
	return kind == KindCruise || kind == KindDate
}

// IsSpotKey reports whether key addresses a spot thread.
func IsSpotKey(key string) bool {
	return strings.HasPrefix(key, SpotKeyPrefix)
}

// Thread is the resolved address of one conversation. Pairwise threads
// carry both participant keys sorted (KeyA < KeyB); spot threads carry
// the spot key in KeyA and an empty KeyB.
type Thread struct {
	ChatKind string `json:"chatKind"`
	KeyA     string `json:"aKey"`
	KeyB     string `json:"bKey,omitempty"`
	ChatID   string `json:"chatId"`
}

// Spot reports whether the thread is a shared spot thread.
func (t Thread) Spot() bool { return t.KeyB == "" }

// Other returns the counterpart key for a pairwise thread participant.
func (t Thread) Other(me string) string {
	if t.KeyA == me {
		return t.KeyB
	}
	return t.KeyA
}

// ResolveThread normalizes two raw keys into the canonical thread address.
// Any two participants resolve to the same ChatID regardless of argument
// order. If exactly one key is a spot key the result is that spot's shared
// thread; the other key must still name a valid actor.
func ResolveThread(chatKind, keyA, keyB string) (Thread, error) {
	if !ValidKind(chatKind) {
		return Thread{}, fmt.Errorf("chat: unknown chat kind %q", chatKind)
	}
	if keyA == "" || keyB == "" {
		return Thread{}, fmt.Errorf("chat: empty thread key")
	}

	aSpot, bSpot := IsSpotKey(keyA), IsSpotKey(keyB)
	if aSpot && bSpot {
		return Thread{}, fmt.Errorf("chat: thread cannot join two spot keys %q and %q", keyA, keyB)
	}
	if aSpot || bSpot {
		spot, other := keyA, keyB
		if bSpot {
			spot, other = keyB, keyA
		}
		if chatKind != KindCruise {
			return Thread{}, fmt.Errorf("chat: spot threads are cruise only, got kind %q", chatKind)
		}
		if err := validSpotKey(spot); err != nil {
			return Thread{}, err
		}
		if _, err := identity.NormalizeKey(other); err != nil {
			return Thread{}, fmt.Errorf("chat: resolve thread: %w", err)
		}
		return Thread{ChatKind: chatKind, KeyA: spot, ChatID: chatKind + "|" + spot}, nil
	}

	na, err := identity.NormalizeKey(keyA)
	if err != nil {
		return Thread{}, fmt.Errorf("chat: resolve thread: %w", err)
	}
	nb, err := identity.NormalizeKey(keyB)
	if err != nil {
		return Thread{}, fmt.Errorf("chat: resolve thread: %w", err)
	}
	if na == nb {
		return Thread{}, fmt.Errorf("chat: thread needs two distinct actors, got %q twice", na)
	}
	lo, hi := identity.OrderPair(na, nb)
	return Thread{ChatKind: chatKind, KeyA: lo, KeyB: hi, ChatID: chatKind + "|" + lo + "|" + hi}, nil
}

// MustThread is ResolveThread for callers whose arguments are known good.
// It panics on invalid input; this is the addressing helper for internal
// wiring, not a user-facing operation.
func MustThread(chatKind, keyA, keyB string) Thread {
	t, err := ResolveThread(chatKind, keyA, keyB)
	if err != nil {
		panic(err)
	}
	return t
}

func validSpotKey(key string) error {
	rest := key[len(SpotKeyPrefix):]
	if rest == "" {
		return fmt.Errorf("chat: empty spot key")
	}
	if strings.ContainsAny(rest, "| \t\r\n") {
		return fmt.Errorf("chat: malformed spot key %q", key)
	}
	return nil
}

// ParseThreadID reverses the ChatID encoding. Snapshot hydration and
// stream fanout use it where the ID is the only addressing information.
func ParseThreadID(id string) (Thread, error) {
	parts := strings.Split(id, "|")
	switch len(parts) {
	case 2:
		kind, spot := parts[0], parts[1]
		if kind != KindCruise || !IsSpotKey(spot) {
			return Thread{}, fmt.Errorf("chat: malformed thread id %q", id)
		}
		if err := validSpotKey(spot); err != nil {
			return Thread{}, fmt.Errorf("chat: malformed thread id %q", id)
		}
		return Thread{ChatKind: kind, KeyA: spot, ChatID: id}, nil
	case 3:
		kind, lo, hi := parts[0], parts[1], parts[2]
		if !ValidKind(kind) || lo >= hi {
			return Thread{}, fmt.Errorf("chat: malformed thread id %q", id)
		}
		if n, err := identity.NormalizeKey(lo); err != nil || n != lo {
			return Thread{}, fmt.Errorf("chat: malformed thread id %q", id)
		}
		if n, err := identity.NormalizeKey(hi); err != nil || n != hi {
			return Thread{}, fmt.Errorf("chat: malformed thread id %q", id)
		}
		return Thread{ChatKind: kind, KeyA: lo, KeyB: hi, ChatID: id}, nil
	}
	return Thread{}, fmt.Errorf("chat: malformed thread id %q", id)
}
