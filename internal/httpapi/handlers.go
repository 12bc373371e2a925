package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/chat"
	"github.com/driftapp/drift/internal/gate"
	"github.com/driftapp/drift/internal/identity"
	"github.com/driftapp/drift/internal/metrics"
)

// Blocklist is the block management surface handlers drive. Both the
// in-memory store and the Redis store satisfy it.
type Blocklist interface {
	Block(ctx context.Context, owner, target string) error
	Unblock(ctx context.Context, owner, target string) error
	Blocks(ctx context.Context, owner string) ([]string, error)
}

// ---------------------------------------------------------------------------
// sessions
// ---------------------------------------------------------------------------

type mintRequest struct {
	UserType    string `json:"userType"`
	Mode        string `json:"mode"`
	UserID      string `json:"userId"`
	AgeVerified bool   `json:"ageVerified"`
}

type mintResponse struct {
	Token   string            `json:"token"`
	Session *identity.Session `json:"session"`
}

func (s *Server) handleMintSession(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// Identified users can be checked before a token exists; guest bans
	// are keyed by session token and bite in the auth middleware.
	if s.deps.Bans != nil && req.UserID != "" {
		banned, remaining, reason, err := s.deps.Bans.IsBanned(r.Context(), identity.UserKeyPrefix+req.UserID)
		if err != nil {
			s.log.Debug("ban check unavailable", zap.Error(err))
		} else if banned {
			writeError(w, http.StatusForbidden,
				string(gate.CodeUnauthorizedAction), "Account temporarily suspended.",
				map[string]any{"retryAfterSeconds": remaining, "reason": reason})
			return
		}
	}

	token, sess, err := s.deps.Issuer.Issue(req.UserType, req.Mode, req.UserID, req.AgeVerified)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid session parameters.", nil)
		return
	}

	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.Register(r.Context(), sess); err != nil {
			s.log.Warn("session not registered", zap.Error(err))
		}
	}

	s.log.Info("session minted",
		zap.String("actor", sess.ActorKey()),
		zap.String("userType", sess.UserType),
		zap.String("mode", sess.Mode))
	writeJSON(w, http.StatusCreated, mintResponse{Token: token, Session: sess})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r))
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.Revoke(r.Context(), sess.Token); err != nil {
			s.log.Warn("session revoke failed", zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// swipes, matches, faves
// ---------------------------------------------------------------------------

func (s *Server) handleSwipe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToUserID  string `json:"toUserId"`
		Direction string `json:"direction"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	res, gerr := s.deps.Matches.RecordSwipe(sessionFrom(r), req.ToUserID, req.Direction)
	if gerr != nil {
		writeGateError(w, gerr)
		return
	}
	if res.MatchCreated {
		metrics.MatchesCreatedTotal.Inc()
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	matches, gerr := s.deps.Matches.ListMatches(sessionFrom(r))
	if gerr != nil {
		writeGateError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleFave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetUserID string `json:"targetUserId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	rec, gerr := s.deps.Matches.Fave(sessionFrom(r), req.TargetUserID)
	if gerr != nil {
		writeGateError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUnfave(w http.ResponseWriter, r *http.Request) {
	removed, gerr := s.deps.Matches.Unfave(sessionFrom(r), mux.Vars(r)["targetUserId"])
	if gerr != nil {
		writeGateError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) handleListFaves(w http.ResponseWriter, r *http.Request) {
	faves, gerr := s.deps.Matches.ListFaves(sessionFrom(r))
	if gerr != nil {
		writeGateError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"faves": faves})
}

// ---------------------------------------------------------------------------
// chat
// ---------------------------------------------------------------------------

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	kind := req.ChatKind
	if !chat.ValidKind(kind) {
		kind = "invalid"
	}

	msg, gerr := s.deps.Chats.SendMessage(sessionFrom(r), req)
	if gerr != nil {
		metrics.SendsTotal.WithLabelValues(kind, string(gerr.Code)).Inc()
		writeGateError(w, gerr)
		return
	}

	metrics.SendsTotal.WithLabelValues(msg.ChatKind, "ok").Inc()
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, gerr := s.deps.Chats.ListThreads(sessionFrom(r), mux.Vars(r)["chatKind"])
	if gerr != nil {
		writeGateError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	messages, gerr := s.deps.Chats.ListMessages(sessionFrom(r), vars["chatKind"], vars["otherKey"])
	if gerr != nil {
		writeGateError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cur, gerr := s.deps.Chats.MarkRead(sessionFrom(r), vars["chatKind"], vars["otherKey"])
	if gerr != nil {
		writeGateError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// ---------------------------------------------------------------------------
// safety: reports, blocks
// ---------------------------------------------------------------------------

func (s *Server) handleFileReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetKey string `json:"targetKey"`
		ThreadID  string `json:"threadId"`
		Reason    string `json:"reason"`
		Comment   string `json:"comment"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	rep, gerr := s.deps.Reports.File(r.Context(), sessionFrom(r),
		req.TargetKey, req.ThreadID, req.Reason, req.Comment)
	if gerr != nil {
		writeGateError(w, gerr)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if gerr := gate.Authorize(sess, gate.Request{Action: gate.ActionBlock}); gerr != nil {
		writeGateError(w, gerr)
		return
	}

	var req struct {
		TargetKey string `json:"targetKey"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	target, err := identity.NormalizeKey(req.TargetKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid block target.", nil)
		return
	}
	if identity.SameActor(sess.ActorKey(), target) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Cannot block yourself.", nil)
		return
	}

	if s.deps.Blocks == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Block storage not configured.", nil)
		return
	}
	if err := s.deps.Blocks.Block(r.Context(), sess.ActorKey(), target); err != nil {
		s.log.Warn("block write failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Block storage unavailable.", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if gerr := gate.Authorize(sess, gate.Request{Action: gate.ActionBlock}); gerr != nil {
		writeGateError(w, gerr)
		return
	}

	target, err := identity.NormalizeKey(mux.Vars(r)["targetKey"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid block target.", nil)
		return
	}

	if s.deps.Blocks == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Block storage not configured.", nil)
		return
	}
	if err := s.deps.Blocks.Unblock(r.Context(), sess.ActorKey(), target); err != nil {
		s.log.Warn("block delete failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Block storage unavailable.", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if gerr := gate.Authorize(sess, gate.Request{Action: gate.ActionBlock}); gerr != nil {
		writeGateError(w, gerr)
		return
	}

	if s.deps.Blocks == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Block storage not configured.", nil)
		return
	}
	blocks, err := s.deps.Blocks.Blocks(r.Context(), sess.ActorKey())
	if err != nil {
		s.log.Warn("block list failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Block storage unavailable.", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

// ---------------------------------------------------------------------------
// stream
// ---------------------------------------------------------------------------

// handleStream hands the connection to the WebSocket layer. Attach
// writes its own HTTP error on a failed upgrade, so there is nothing to
// send here beyond logging.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stream == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Stream not available.", nil)
		return
	}
	if err := s.deps.Stream.Attach(sessionFrom(r), w, r); err != nil {
		s.log.Warn("stream attach failed", zap.Error(err))
	}
}
