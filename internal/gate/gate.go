// Package gate is the authorization layer every engine operation passes
// through first. It is pure: session plus requested action in, typed
// decision out, no storage, no clock.
package gate

import (
	"github.com/driftapp/drift/internal/identity"
)

// Action names a gated engine operation.
type Action string

const (
	ActionSendMessage  Action = "send_message"
	ActionListMessages Action = "list_messages"
	ActionListThreads  Action = "list_threads"
	ActionMarkRead     Action = "mark_read"
	ActionSwipe        Action = "swipe"
	ActionListMatches  Action = "list_matches"
	ActionFave         Action = "fave"

	// ActionReport and ActionBlock are open to guests: anyone being
	// harassed can report or block, identified or not. Only the shape
	// and age checks apply.
	ActionReport Action = "report"
	ActionBlock  Action = "block"
)

// Chat kinds as they appear in requests. The chat package owns thread
// semantics; the gate only needs the names.
const (
	KindCruise = "cruise"
	KindDate   = "date"
)

// Request is the action to authorize. ChatKind is set only for chat
// actions.
type Request struct {
	Action   Action
	ChatKind string
}

func (r Request) isChatAction() bool {
	switch r.Action {
	case ActionSendMessage, ActionListMessages, ActionListThreads, ActionMarkRead:
		return true
	}
	return false
}

func (r Request) isMatchingAction() bool {
	switch r.Action {
	case ActionSwipe, ActionListMatches, ActionFave:
		return true
	}
	return false
}

// registeredOnly reports whether the request requires an identified user:
// date-kind chat, swiping, match listing, and favorites.
func (r Request) registeredOnly() bool {
	if r.isChatAction() {
		return r.ChatKind == KindDate
	}
	return r.isMatchingAction()
}

// Authorize applies the gate rules in their fixed order and returns the
// first rejection, or nil when the action may proceed. Engines call this
// before any mutation or read and return its rejection verbatim.
//
// Order: session shape, age verification, anonymity, chat-kind vs. mode,
// matching vs. mode.
func Authorize(s *identity.Session, req Request) *Error {
	if err := s.Validate(); err != nil {
		return InvalidSession()
	}

	if !s.AgeVerified {
		return AgeGateRequired()
	}

	if s.IsGuest() && req.registeredOnly() {
		return AnonymousForbidden()
	}

	if req.isChatAction() {
		if !kindAllowed(req.ChatKind, s.Mode) {
			return UnauthorizedKind(s.Mode, req.ChatKind)
		}
	}

	if req.isMatchingAction() && s.Mode == identity.ModeCruise {
		return MatchingNotAllowed()
	}

	return nil
}

// kindAllowed is the chat-kind vs. mode matrix: cruise chat in cruise and
// hybrid modes, date chat in date and hybrid modes.
func kindAllowed(chatKind, mode string) bool {
	switch chatKind {
	case KindCruise:
		return mode == identity.ModeCruise || mode == identity.ModeHybrid
	case KindDate:
		return mode == identity.ModeDate || mode == identity.ModeHybrid
	}
	return false
}
