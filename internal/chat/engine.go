package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/block"
	"github.com/driftapp/drift/internal/clock"
	"github.com/driftapp/drift/internal/events"
	"github.com/driftapp/drift/internal/gate"
	"github.com/driftapp/drift/internal/identity"
	"github.com/driftapp/drift/internal/logger"
	"github.com/driftapp/drift/internal/ratelimit"
)

// DefaultCruiseRetention is how long cruise messages stay readable.
// Date messages never expire.
const DefaultCruiseRetention = 72 * time.Hour

// MatchChecker gates Date-kind sends: a send requires an existing match
// between the two users. The matching engine satisfies this.
type MatchChecker interface {
	IsMatched(a, b string) bool
}

// Policy screens message text. Flagged text is rejected before anything
// is persisted.
type Policy interface {
	Flagged(text string) bool
}

// SendRequest is the sendMessage input as it arrives from the transport.
type SendRequest struct {
	ChatKind string `json:"chatKind"`
	ToKey    string `json:"toKey"`
	Text     string `json:"text,omitempty"`
	Media    *Media `json:"media,omitempty"`
}

// ReadCursor is a reader's watermark in one thread. Messages created
// before it count as read.
type ReadCursor struct {
	ThreadUserKey string `json:"threadUserKey"`
	ReadAtMs      int64  `json:"readAtMs"`
}

// ThreadRow is one listThreads entry: the counterpart and the newest
// live message exchanged with them.
type ThreadRow struct {
	OtherKey    string  `json:"otherKey"`
	LastMessage Message `json:"lastMessage"`
}

// threadState is the engine-internal state of one thread. Its mutex
// serializes appends, reads, and read stamping for that thread alone;
// threads never contend with each other.
type threadState struct {
	mu       sync.Mutex
	addr     Thread
	messages []*Message
	appended int  // total ever appended, survives purges
	notified bool // expiry transition already reported
}

// Options configures an Engine. Zero-value fields get working defaults:
// system clock, allow-all blocks, no policy, dropped events, a private
// rate limiter, and the default cruise retention. A nil Matches checker
// rejects every Date send.
type Options struct {
	Clock           clock.Clock
	Blocks          block.Checker
	Matches         MatchChecker
	Policy          Policy
	Publisher       events.Publisher
	Limiter         *ratelimit.Limiter
	SendRule        ratelimit.Rule
	CruiseRetention time.Duration
}

// Engine holds all messaging state. Safe for concurrent use; no call
// blocks on I/O (persistence rides the event feed asynchronously).
type Engine struct {
	clk       clock.Clock
	blocks    block.Checker
	matches   MatchChecker
	policy    Policy
	pub       events.Publisher
	limiter   *ratelimit.Limiter
	rule      ratelimit.Rule
	retention time.Duration

	mu      sync.RWMutex
	threads map[string]*threadState

	cursorMu sync.RWMutex
	cursors  map[string]int64 // threadID + "::" + readerKey

	log *zap.Logger
}

// NewEngine creates an empty messaging engine.
func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Blocks == nil {
		opts.Blocks = block.AllowAll{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewLimiter(opts.Clock)
	}
	if opts.SendRule.Limit == 0 {
		opts.SendRule = ratelimit.RuleMessage
	}
	if opts.CruiseRetention <= 0 {
		opts.CruiseRetention = DefaultCruiseRetention
	}
	return &Engine{
		clk:       opts.Clock,
		blocks:    opts.Blocks,
		matches:   opts.Matches,
		policy:    opts.Policy,
		pub:       opts.Publisher,
		limiter:   opts.Limiter,
		rule:      opts.SendRule,
		retention: opts.CruiseRetention,
		threads:   make(map[string]*threadState),
		cursors:   make(map[string]int64),
		log:       logger.L("chat"),
	}
}

// SendMessage validates and appends one message. Checks run in a fixed
// order and the first failure wins; nothing is persisted on failure.
func (e *Engine) SendMessage(s *identity.Session, req SendRequest) (*Message, *gate.Error) {
	if gerr := gate.Authorize(s, gate.Request{Action: gate.ActionSendMessage, ChatKind: req.ChatKind}); gerr != nil {
		return nil, gerr
	}
	if req.ChatKind == KindDate {
		toUser, _ := identity.UserID(req.ToKey)
		if e.matches == nil || !e.matches.IsMatched(s.UserID, toUser) {
			return nil, gate.Unauthorized("Match required before Date chat.")
		}
	}

	fromKey := s.ActorKey()
	toKey, ok := e.resolveRecipient(req.ChatKind, fromKey, req.ToKey)
	if !ok {
		return nil, gate.Unauthorized("Invalid recipient.")
	}

	text := prepareText(req.Text)
	if text == "" && req.Media == nil {
		return nil, gate.Unauthorized("Invalid message.")
	}
	if req.Media != nil {
		if err := req.Media.Validate(); err != nil {
			return nil, gate.Unauthorized("Invalid media attachment.")
		}
	}
	if e.policy != nil && text != "" && e.policy.Flagged(text) {
		e.pub.Publish(events.Event{
			Kind:  events.KindMessageFlagged,
			Actor: fromKey,
			AtMs:  e.clk.NowMs(),
		})
		return nil, gate.Unauthorized("Message rejected.")
	}
	if e.blocks.IsBlocked(fromKey, toKey) {
		return nil, gate.UserBlocked("You cannot message this user.")
	}
	if !e.limiter.Allow(fromKey, e.rule) {
		return nil, gate.RateLimited()
	}

	th, err := ResolveThread(req.ChatKind, fromKey, toKey)
	if err != nil {
		// Recipient checks above make this unreachable for caller input.
		return nil, gate.Unauthorized("Invalid recipient.")
	}

	now := e.clk.NowMs()
	msg := &Message{
		MessageID:     uuid.New().String(),
		ChatID:        th.ChatID,
		ChatKind:      th.ChatKind,
		FromKey:       fromKey,
		ToKey:         toKey,
		Text:          text,
		Media:         req.Media.clone(),
		CreatedAtMs:   now,
		DeliveredAtMs: now,
	}

	st := e.threadFor(th)
	st.mu.Lock()
	st.messages = append(st.messages, msg)
	st.appended++
	st.notified = false
	out := *msg
	st.mu.Unlock()

	e.pub.Publish(events.Event{
		Kind:     events.KindMessageAppended,
		ThreadID: th.ChatID,
		Actor:    fromKey,
		AtMs:     now,
		Payload:  out,
	})
	return &out, nil
}

// resolveRecipient canonicalizes the target key. Spot keys pass through
// for cruise sends; everything else must normalize to an actor key that
// is not the sender.
func (e *Engine) resolveRecipient(chatKind, fromKey, toKey string) (string, bool) {
	if IsSpotKey(toKey) {
		if chatKind != KindCruise || validSpotKey(toKey) != nil {
			return "", false
		}
		return toKey, true
	}
	norm, err := identity.NormalizeKey(toKey)
	if err != nil || norm == fromKey {
		return "", false
	}
	return norm, true
}

// ListMessages returns the thread's live messages in append order. Cruise
// messages past the retention window are filtered out; the first read
// that finds a previously active thread fully expired reports
// CHAT_EXPIRED once, and later reads return an empty list.
func (e *Engine) ListMessages(s *identity.Session, chatKind, otherKey string) ([]Message, *gate.Error) {
	if gerr := gate.Authorize(s, gate.Request{Action: gate.ActionListMessages, ChatKind: chatKind}); gerr != nil {
		return nil, gerr
	}

	me := s.ActorKey()
	th, err := ResolveThread(chatKind, me, otherKey)
	if err != nil {
		return nil, gate.Unauthorized("Invalid recipient.")
	}

	e.mu.RLock()
	st := e.threads[th.ChatID]
	e.mu.RUnlock()
	if st == nil {
		return []Message{}, nil
	}

	now := e.clk.NowMs()

	st.mu.Lock()
	live := make([]Message, 0, len(st.messages))
	for _, m := range st.messages {
		if !e.expired(m, now) {
			live = append(live, *m)
		}
	}
	if len(live) == 0 && st.appended > 0 {
		first := !st.notified
		st.notified = true
		st.mu.Unlock()
		if first {
			e.pub.Publish(events.Event{
				Kind:     events.KindThreadExpired,
				ThreadID: th.ChatID,
				AtMs:     now,
			})
			return nil, gate.ChatExpired()
		}
		return []Message{}, nil
	}
	st.mu.Unlock()
	return live, nil
}

// ListThreads returns one row per counterpart the caller has a live
// conversation with, newest activity first. Spot threads are excluded.
func (e *Engine) ListThreads(s *identity.Session, chatKind string) ([]ThreadRow, *gate.Error) {
	if gerr := gate.Authorize(s, gate.Request{Action: gate.ActionListThreads, ChatKind: chatKind}); gerr != nil {
		return nil, gerr
	}

	me := s.ActorKey()

	e.mu.RLock()
	candidates := make([]*threadState, 0, len(e.threads))
	for _, st := range e.threads {
		if st.addr.ChatKind != chatKind || st.addr.Spot() {
			continue
		}
		if st.addr.KeyA == me || st.addr.KeyB == me {
			candidates = append(candidates, st)
		}
	}
	e.mu.RUnlock()

	now := e.clk.NowMs()
	rows := make([]ThreadRow, 0, len(candidates))
	for _, st := range candidates {
		st.mu.Lock()
		var last *Message
		for i := len(st.messages) - 1; i >= 0; i-- {
			if !e.expired(st.messages[i], now) {
				last = st.messages[i]
				break
			}
		}
		if last != nil {
			rows = append(rows, ThreadRow{OtherKey: st.addr.Other(me), LastMessage: *last})
		}
		st.mu.Unlock()
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LastMessage.CreatedAtMs != rows[j].LastMessage.CreatedAtMs {
			return rows[i].LastMessage.CreatedAtMs > rows[j].LastMessage.CreatedAtMs
		}
		return rows[i].OtherKey < rows[j].OtherKey
	})
	return rows, nil
}

// MarkRead stamps the caller's read cursor for the thread at now and
// marks the counterpart's earlier messages read. The cursor never moves
// backward. Spot threads keep a cursor but their messages are never
// stamped, since they have no single recipient.
func (e *Engine) MarkRead(s *identity.Session, chatKind, otherKey string) (*ReadCursor, *gate.Error) {
	if gerr := gate.Authorize(s, gate.Request{Action: gate.ActionMarkRead, ChatKind: chatKind}); gerr != nil {
		return nil, gerr
	}

	me := s.ActorKey()
	th, err := ResolveThread(chatKind, me, otherKey)
	if err != nil {
		return nil, gate.Unauthorized("Invalid recipient.")
	}

	now := e.clk.NowMs()
	key := th.ChatID + "::" + me

	e.cursorMu.Lock()
	if prev, ok := e.cursors[key]; ok && prev > now {
		now = prev
	}
	e.cursors[key] = now
	e.cursorMu.Unlock()

	if !th.Spot() {
		e.mu.RLock()
		st := e.threads[th.ChatID]
		e.mu.RUnlock()
		if st != nil {
			st.mu.Lock()
			for _, m := range st.messages {
				if m.FromKey != me && m.ReadAtMs == 0 && m.CreatedAtMs < now {
					m.ReadAtMs = now
				}
			}
			st.mu.Unlock()
		}
	}

	cur := &ReadCursor{ThreadUserKey: key, ReadAtMs: now}
	e.pub.Publish(events.Event{
		Kind:     events.KindReadMarked,
		ThreadID: th.ChatID,
		Actor:    me,
		AtMs:     now,
		Payload:  *cur,
	})
	return cur, nil
}

// PurgeExpired drops expired cruise messages for real. The read paths
// already filter them; this reclaims the memory. Returns the number of
// messages removed.
func (e *Engine) PurgeExpired() int {
	now := e.clk.NowMs()

	e.mu.RLock()
	states := make([]*threadState, 0, len(e.threads))
	for _, st := range e.threads {
		if st.addr.ChatKind == KindCruise {
			states = append(states, st)
		}
	}
	e.mu.RUnlock()

	removed := 0
	for _, st := range states {
		st.mu.Lock()
		kept := st.messages[:0]
		for _, m := range st.messages {
			if e.expired(m, now) {
				removed++
			} else {
				kept = append(kept, m)
			}
		}
		for i := len(kept); i < len(st.messages); i++ {
			st.messages[i] = nil
		}
		st.messages = kept
		st.mu.Unlock()
	}

	if removed > 0 {
		e.log.Info("purged expired messages", zap.Int("removed", removed))
	}
	return removed
}

// expired reports whether the message has aged out at nowMs. Only cruise
// messages expire.
func (e *Engine) expired(m *Message, nowMs int64) bool {
	return m.ChatKind == KindCruise && nowMs-m.CreatedAtMs >= e.retention.Milliseconds()
}

func (e *Engine) threadFor(addr Thread) *threadState {
	e.mu.RLock()
	st := e.threads[addr.ChatID]
	e.mu.RUnlock()
	if st != nil {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st = e.threads[addr.ChatID]; st == nil {
		st = &threadState{addr: addr}
		e.threads[addr.ChatID] = st
	}
	return st
}

// ----------------------------------------------------------------------
// Snapshot support
// ----------------------------------------------------------------------

// ThreadSnapshot is one thread's rows in the persisted snapshot.
type ThreadSnapshot struct {
	ThreadID string    `json:"threadId"`
	Messages []Message `json:"messages"`
}

// DumpThreads copies out every thread's messages, sorted by thread ID so
// snapshots are deterministic.
func (e *Engine) DumpThreads() []ThreadSnapshot {
	e.mu.RLock()
	states := make([]*threadState, 0, len(e.threads))
	for _, st := range e.threads {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]ThreadSnapshot, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		snap := ThreadSnapshot{ThreadID: st.addr.ChatID, Messages: make([]Message, 0, len(st.messages))}
		for _, m := range st.messages {
			c := *m
			c.Media = m.Media.clone()
			snap.Messages = append(snap.Messages, c)
		}
		st.mu.Unlock()
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out
}

// DumpThread copies out a single thread's messages. The second return is
// false when no thread with that ID has ever held a message.
func (e *Engine) DumpThread(threadID string) (ThreadSnapshot, bool) {
	e.mu.RLock()
	st := e.threads[threadID]
	e.mu.RUnlock()
	if st == nil {
		return ThreadSnapshot{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	snap := ThreadSnapshot{ThreadID: threadID, Messages: make([]Message, 0, len(st.messages))}
	for _, m := range st.messages {
		c := *m
		c.Media = m.Media.clone()
		snap.Messages = append(snap.Messages, c)
	}
	return snap, true
}

// DumpCursors copies out every read cursor, sorted by key.
func (e *Engine) DumpCursors() []ReadCursor {
	e.cursorMu.RLock()
	out := make([]ReadCursor, 0, len(e.cursors))
	for k, at := range e.cursors {
		out = append(out, ReadCursor{ThreadUserKey: k, ReadAtMs: at})
	}
	e.cursorMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadUserKey < out[j].ThreadUserKey })
	return out
}

// RestoreMessage reinstates one snapshotted message. Every row is
// schema-checked independently so hydration can skip corrupt rows without
// aborting.
func (e *Engine) RestoreMessage(msg Message) error {
	if msg.MessageID == "" {
		return fmt.Errorf("chat: message row missing id")
	}
	th, err := ParseThreadID(msg.ChatID)
	if err != nil {
		return err
	}
	if th.ChatKind != msg.ChatKind {
		return fmt.Errorf("chat: message kind %q does not match thread %q", msg.ChatKind, msg.ChatID)
	}
	if th.Spot() {
		if _, err := identity.NormalizeKey(msg.FromKey); err != nil {
			return fmt.Errorf("chat: message row sender: %w", err)
		}
		if msg.ToKey != th.KeyA {
			return fmt.Errorf("chat: message target %q does not match spot thread %q", msg.ToKey, msg.ChatID)
		}
	} else {
		fromOK := msg.FromKey == th.KeyA || msg.FromKey == th.KeyB
		toOK := msg.ToKey == th.KeyA || msg.ToKey == th.KeyB
		if !fromOK || !toOK || msg.FromKey == msg.ToKey {
			return fmt.Errorf("chat: message participants %q -> %q do not match thread %q", msg.FromKey, msg.ToKey, msg.ChatID)
		}
	}
	if msg.CreatedAtMs < 0 || msg.DeliveredAtMs < 0 || msg.ReadAtMs < 0 {
		return fmt.Errorf("chat: message row has a negative timestamp")
	}
	if prepareText(msg.Text) == "" && msg.Media == nil {
		return fmt.Errorf("chat: message row has no content")
	}
	if msg.Media != nil {
		if err := msg.Media.Validate(); err != nil {
			return err
		}
	}

	stored := msg
	stored.Media = msg.Media.clone()

	st := e.threadFor(th)
	st.mu.Lock()
	st.messages = append(st.messages, &stored)
	st.appended++
	st.mu.Unlock()
	return nil
}

// RestoreCursor reinstates one snapshotted read cursor.
func (e *Engine) RestoreCursor(c ReadCursor) error {
	threadID, reader, ok := splitCursorKey(c.ThreadUserKey)
	if !ok {
		return fmt.Errorf("chat: malformed cursor key %q", c.ThreadUserKey)
	}
	if _, err := ParseThreadID(threadID); err != nil {
		return err
	}
	if _, err := identity.NormalizeKey(reader); err != nil {
		return fmt.Errorf("chat: cursor reader: %w", err)
	}
	if c.ReadAtMs < 0 {
		return fmt.Errorf("chat: cursor has negative timestamp %d", c.ReadAtMs)
	}
	e.cursorMu.Lock()
	if prev, ok := e.cursors[c.ThreadUserKey]; !ok || c.ReadAtMs > prev {
		e.cursors[c.ThreadUserKey] = c.ReadAtMs
	}
	e.cursorMu.Unlock()
	return nil
}

func splitCursorKey(key string) (threadID, reader string, ok bool) {
	i := strings.LastIndex(key, "::")
	if i <= 0 || i+2 >= len(key) {
		return "", "", false
	}
	return key[:i], key[i+2:], true
}
