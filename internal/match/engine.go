// Package match is the matching engine: directional swipes, mutual-like
// reconciliation, and the per-pair match records that gate Date chat.
// All state is in memory, sharded by unordered user pair so that both
// swipe directions and the pair's match record live behind one lock and
// reconciliation is atomic without a global mutex.
package match

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/block"
	"github.com/driftapp/drift/internal/clock"
	"github.com/driftapp/drift/internal/events"
	"github.com/driftapp/drift/internal/gate"
	"github.com/driftapp/drift/internal/identity"
	"github.com/driftapp/drift/internal/logger"
)

// Swipe directions.
const (
	DirectionLike = "like"
	DirectionPass = "pass"
)

const shardCount = 16

// SwipeRecord is one user's latest verdict on another. Exactly one record
// exists per ordered (from, to) pair; a new swipe overwrites the prior one.
type SwipeRecord struct {
	FromUserID  string `json:"fromUserId"`
	ToUserID    string `json:"toUserId"`
	Direction   string `json:"direction"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// MatchRecord is the memoized result of a mutual like. At most one exists
// per unordered user pair, ever; once created it is never deleted by this
// engine, even if a later pass clears one side's like.
type MatchRecord struct {
	MatchID     string `json:"matchId"`
	UserA       string `json:"userA"` // lexicographically smaller user ID
	UserB       string `json:"userB"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Pair returns both user IDs, smaller first.
func (m MatchRecord) Pair() (string, string) { return m.UserA, m.UserB }

// SwipeResult is what RecordSwipe returns: the stored swipe, whether this
// call created a new match, and the pair's match record if one exists now.
// Replaying a mutual like returns the same Match with MatchCreated false.
type SwipeResult struct {
	Swipe        SwipeRecord  `json:"swipe"`
	MatchCreated bool         `json:"matchCreated"`
	Match        *MatchRecord `json:"match,omitempty"`
}

type shard struct {
	mu      sync.RWMutex
	swipes  map[string]SwipeRecord // key: "<from>|<to>" (ordered)
	matches map[string]MatchRecord // key: identity.PairKey (unordered)
}

// Engine holds all swipe and match state. Safe for concurrent use.
type Engine struct {
	clk    clock.Clock
	blocks block.Checker
	pub    events.Publisher
	shards [shardCount]*shard

	favesMu sync.RWMutex
	faves   map[string]map[string]int64 // owner -> target -> createdAtMs

	log *zap.Logger
}

// NewEngine creates an empty matching engine. A nil clock reads the wall
// clock, a nil checker never blocks, and a nil publisher drops events.
func NewEngine(clk clock.Clock, blocks block.Checker, pub events.Publisher) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	if blocks == nil {
		blocks = block.AllowAll{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	e := &Engine{
		clk:    clk,
		blocks: blocks,
		pub:    pub,
		faves:  make(map[string]map[string]int64),
		log:    logger.L("match"),
	}
	for i := range e.shards {
		e.shards[i] = &shard{
			swipes:  make(map[string]SwipeRecord),
			matches: make(map[string]MatchRecord),
		}
	}
	return e
}

// shardFor selects the shard by the unordered pair key so that both swipe
// directions of a pair hash to the same shard.
func (e *Engine) shardFor(a, b string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identity.PairKey(a, b)))
	return e.shards[h.Sum32()%shardCount]
}

func swipeKey(from, to string) string {
	return from + "|" + to
}

// RecordSwipe stores the caller's verdict on toUserID and reconciles the
// pair. A like meeting a reverse like creates the pair's MatchRecord once;
// a pass overwrites any prior like but never deletes an existing match.
func (e *Engine) RecordSwipe(s *identity.Session, toUserID, direction string) (*SwipeResult, *gate.Error) {
	if gerr := gate.Authorize(s, gate.Request{Action: gate.ActionSwipe}); gerr != nil {
		return nil, gerr
	}

	from := s.UserID
	to := strings.TrimSpace(toUserID)
	if to == "" || to == from {
		return nil, gate.Unauthorized("Invalid swipe target.")
	}
	if direction != DirectionLike && direction != DirectionPass {
		return nil, gate.Unauthorized("Invalid swipe direction.")
	}
	if e.blocks.IsBlocked(identity.UserKeyPrefix+from, identity.UserKeyPrefix+to) {
		return nil, gate.UserBlocked("You cannot interact with this user.")
	}

	now := e.clk.NowMs()
	rec := SwipeRecord{FromUserID: from, ToUserID: to, Direction: direction, CreatedAtMs: now}
	res := &SwipeResult{Swipe: rec}

	sh := e.shardFor(from, to)
	sh.mu.Lock()
	sh.swipes[swipeKey(from, to)] = rec
	if direction == DirectionLike {
		if reverse, ok := sh.swipes[swipeKey(to, from)]; ok && reverse.Direction == DirectionLike {
			pair := identity.PairKey(from, to)
			m, exists := sh.matches[pair]
			if !exists {
				a, b := identity.OrderPair(from, to)
				m = MatchRecord{MatchID: uuid.New().String(), UserA: a, UserB: b, CreatedAtMs: now}
				sh.matches[pair] = m
				res.MatchCreated = true
			}
			res.Match = &m
		}
	}
	sh.mu.Unlock()

	e.pub.Publish(events.Event{
		Kind:    events.KindSwipeRecorded,
		Actor:   identity.UserKeyPrefix + from,
		AtMs:    now,
		Payload: rec,
	})
	if res.MatchCreated {
		e.log.Info("match created",
			zap.String("match_id", res.Match.MatchID),
			zap.String("user_a", res.Match.UserA),
			zap.String("user_b", res.Match.UserB))
		e.pub.Publish(events.Event{
			Kind:    events.KindMatchCreated,
			Actor:   identity.UserKeyPrefix + from,
			AtMs:    now,
			Payload: *res.Match,
		})
	}
	return res, nil
}

// GetSwipe returns the current swipe from one user to another, or nil when
// none exists or the input is invalid. Ungated query helper.
func (e *Engine) GetSwipe(fromUserID, toUserID string) *SwipeRecord {
	if fromUserID == "" || toUserID == "" {
		return nil
	}
	sh := e.shardFor(fromUserID, toUserID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if rec, ok := sh.swipes[swipeKey(fromUserID, toUserID)]; ok {
		out := rec
		return &out
	}
	return nil
}

// IsMatched reports whether the two users hold a MatchRecord. False on
// invalid input. Ungated; this is the MatchChecker the messaging engine
// consults before Date-kind sends.
func (e *Engine) IsMatched(a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	sh := e.shardFor(a, b)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.matches[identity.PairKey(a, b)]
	return ok
}

// GetMatch returns the pair's MatchRecord, or nil when unmatched or the
// input is invalid.
func (e *Engine) GetMatch(a, b string) *MatchRecord {
	if a == "" || b == "" || a == b {
		return nil
	}
	sh := e.shardFor(a, b)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if m, ok := sh.matches[identity.PairKey(a, b)]; ok {
		out := m
		return &out
	}
	return nil
}

// ListMatches returns every match involving the caller, newest first.
func (e *Engine) ListMatches(s *identity.Session) ([]MatchRecord, *gate.Error) {
	if gerr := gate.Authorize(s, gate.Request{Action: gate.ActionListMatches}); gerr != nil {
		return nil, gerr
	}

	var out []MatchRecord
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, m := range sh.matches {
			if m.UserA == s.UserID || m.UserB == s.UserID {
				out = append(out, m)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs > out[j].CreatedAtMs
		}
		return out[i].MatchID < out[j].MatchID
	})
	return out, nil
}

// ----------------------------------------------------------------------
// Snapshot support
// ----------------------------------------------------------------------

// DumpSwipes copies out every swipe record, sorted by user pair so
// snapshots are deterministic.
func (e *Engine) DumpSwipes() []SwipeRecord {
	var out []SwipeRecord
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, rec := range sh.swipes {
			out = append(out, rec)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromUserID != out[j].FromUserID {
			return out[i].FromUserID < out[j].FromUserID
		}
		return out[i].ToUserID < out[j].ToUserID
	})
	return out
}

// DumpMatches copies out every match record, sorted by user pair so
// snapshots are deterministic.
func (e *Engine) DumpMatches() []MatchRecord {
	var out []MatchRecord
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, m := range sh.matches {
			out = append(out, m)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserA != out[j].UserA {
			return out[i].UserA < out[j].UserA
		}
		return out[i].UserB < out[j].UserB
	})
	return out
}

// RestoreSwipe reinstates a snapshotted swipe row. Rejects malformed rows
// so hydration can skip them.
func (e *Engine) RestoreSwipe(rec SwipeRecord) error {
	if rec.FromUserID == "" || rec.ToUserID == "" || rec.FromUserID == rec.ToUserID {
		return fmt.Errorf("match: swipe row has invalid user pair %q -> %q", rec.FromUserID, rec.ToUserID)
	}
	if rec.Direction != DirectionLike && rec.Direction != DirectionPass {
		return fmt.Errorf("match: swipe row has invalid direction %q", rec.Direction)
	}
	if rec.CreatedAtMs < 0 {
		return fmt.Errorf("match: swipe row has negative timestamp %d", rec.CreatedAtMs)
	}
	sh := e.shardFor(rec.FromUserID, rec.ToUserID)
	sh.mu.Lock()
	sh.swipes[swipeKey(rec.FromUserID, rec.ToUserID)] = rec
	sh.mu.Unlock()
	return nil
}

// RestoreMatch reinstates a snapshotted match row. Rejects malformed rows
// so hydration can skip them.
func (e *Engine) RestoreMatch(m MatchRecord) error {
	if m.MatchID == "" {
		return fmt.Errorf("match: match row missing id")
	}
	if m.UserA == "" || m.UserB == "" || m.UserA >= m.UserB {
		return fmt.Errorf("match: match row has invalid user pair %q / %q", m.UserA, m.UserB)
	}
	if m.CreatedAtMs < 0 {
		return fmt.Errorf("match: match row has negative timestamp %d", m.CreatedAtMs)
	}
	sh := e.shardFor(m.UserA, m.UserB)
	sh.mu.Lock()
	sh.matches[identity.PairKey(m.UserA, m.UserB)] = m
	sh.mu.Unlock()
	return nil
}
