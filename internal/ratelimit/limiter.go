// Package ratelimit provides in-memory sliding-window rate limiting. Each
// identifier keeps the timestamps of its recent actions; a new action is
// allowed while fewer than the rule's limit fall inside the trailing
// window. The window recovers continuously as old timestamps age out, not
// on fixed bucket resets.
package ratelimit

import (
	"sync"
	"time"

	"github.com/driftapp/drift/internal/clock"
)

// Rule defines a rate limiting policy: the key prefix that namespaces an
// identifier, the maximum number of actions in the window, and the window
// duration.
type Rule struct {
	Key    string // key prefix (e.g., "rl:msg:", "rl:report:")
	Limit  int    // max count in the window
	Window time.Duration
}

// Standard rules.
var (
	// RuleMessage allows 20 message sends per minute per sender ActorKey.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 20, Window: time.Minute}

	// RuleReport allows 5 abuse reports per hour per reporter.
	RuleReport = Rule{Key: "rl:report:", Limit: 5, Window: time.Hour}
)

type window struct {
	mu     sync.Mutex
	stamps []int64 // ms, ascending
	span   time.Duration
}

// Limiter tracks sliding windows per identifier. Windows for different
// identifiers are independent and never block each other.
type Limiter struct {
	mu      sync.RWMutex
	clk     clock.Clock
	windows map[string]*window
}

// NewLimiter creates a limiter reading time from clk.
func NewLimiter(clk clock.Clock) *Limiter {
	return &Limiter{clk: clk, windows: make(map[string]*window)}
}

func (l *Limiter) window(key string, span time.Duration) *window {
	l.mu.RLock()
	w := l.windows[key]
	l.mu.RUnlock()
	if w != nil {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w = l.windows[key]; w == nil {
		w = &window{span: span}
		l.windows[key] = w
	}
	return w
}

// Allow checks whether the identifier may act under the rule and, if so,
// records the action. A timestamp exactly one window old no longer counts
// against the limit. Denied actions are not recorded.
func (l *Limiter) Allow(identifier string, rule Rule) bool {
	w := l.window(rule.Key+identifier, rule.Window)
	now := l.clk.NowMs()
	cutoff := now - rule.Window.Milliseconds()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(cutoff)
	if len(w.stamps) >= rule.Limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Remaining returns how many actions the identifier has left in the
// current window.
func (l *Limiter) Remaining(identifier string, rule Rule) int {
	w := l.window(rule.Key+identifier, rule.Window)
	cutoff := l.clk.NowMs() - rule.Window.Milliseconds()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(cutoff)
	remaining := rule.Limit - len(w.stamps)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// prune drops timestamps at or before cutoff. Caller holds w.mu.
func (w *window) prune(cutoff int64) {
	i := 0
	for i < len(w.stamps) && w.stamps[i] <= cutoff {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// PruneStale evicts identifiers whose every timestamp has aged out of
// their window. Returns the number of evicted identifiers. Meant to be
// called from a periodic sweep, not the request path.
func (l *Limiter) PruneStale() int {
	now := l.clk.NowMs()

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, w := range l.windows {
		w.mu.Lock()
		w.prune(now - w.span.Milliseconds())
		empty := len(w.stamps) == 0
		w.mu.Unlock()
		if empty {
			delete(l.windows, key)
			evicted++
		}
	}
	return evicted
}
