package match

import (
	"fmt"
	"sort"
	"strings"

	"github.com/driftapp/drift/internal/events"
	"github.com/driftapp/drift/internal/gate"
	"github.com/driftapp/drift/internal/identity"
)

// FaveRecord marks one user as a favorite of another. Directional and
// idempotent; repeated faves keep the original timestamp.
type FaveRecord struct {
	UserID      string `json:"userId"`
	TargetID    string `json:"targetId"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Fave marks targetUserID as a favorite of the caller.
func (e *Engine) Fave(s *identity.Session, targetUserID string) (*FaveRecord, *gate.Error) {
	if gerr := gate.Authorize(s, gate.Request{Action: gate.ActionFave}); gerr != nil {
		return nil, gerr
	}
	target := strings.TrimSpace(targetUserID)
	if target == "" || target == s.UserID {
		return nil, gate.Unauthorized("Invalid favorite target.")
	}

	now := e.clk.NowMs()
	created := false

	e.favesMu.Lock()
	set := e.faves[s.UserID]
	if set == nil {
		set = make(map[string]int64)
		e.faves[s.UserID] = set
	}
	at, ok := set[target]
	if !ok {
		set[target] = now
		at = now
		created = true
	}
	e.favesMu.Unlock()

	rec := &FaveRecord{UserID: s.UserID, TargetID: target, CreatedAtMs: at}
	if created {
		e.pub.Publish(events.Event{
			Kind:    events.KindFaveSet,
			Actor:   identity.UserKeyPrefix + s.UserID,
			AtMs:    now,
			Payload: *rec,
		})
	}
	return rec, nil
}

// Unfave removes targetUserID from the caller's favorites. Reports whether
// a favorite was actually removed.
func (e *Engine) Unfave(s *identity.Session, targetUserID string) (bool, *gate.Error) {
	if gerr := gate.Authorize(s, gate.Request{Action: gate.ActionFave}); gerr != nil {
		return false, gerr
	}
	target := strings.TrimSpace(targetUserID)
	if target == "" || target == s.UserID {
		return false, gate.Unauthorized("Invalid favorite target.")
	}

	removed := false
	e.favesMu.Lock()
	if set := e.faves[s.UserID]; set != nil {
		if _, ok := set[target]; ok {
			delete(set, target)
			removed = true
		}
		if len(set) == 0 {
			delete(e.faves, s.UserID)
		}
	}
	e.favesMu.Unlock()

	if removed {
		e.pub.Publish(events.Event{
			Kind:  events.KindFaveCleared,
			Actor: identity.UserKeyPrefix + s.UserID,
			AtMs:  e.clk.NowMs(),
			Payload: FaveRecord{
				UserID:   s.UserID,
				TargetID: target,
			},
		})
	}
	return removed, nil
}

// ListFaves returns the caller's favorites, newest first.
func (e *Engine) ListFaves(s *identity.Session) ([]FaveRecord, *gate.Error) {
	if gerr := gate.Authorize(s, gate.Request{Action: gate.ActionFave}); gerr != nil {
		return nil, gerr
	}

	var out []FaveRecord
	e.favesMu.RLock()
	for target, at := range e.faves[s.UserID] {
		out = append(out, FaveRecord{UserID: s.UserID, TargetID: target, CreatedAtMs: at})
	}
	e.favesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs > out[j].CreatedAtMs
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, nil
}

// DumpFaves copies out every favorite, sorted by owner and target so
// snapshots are deterministic.
func (e *Engine) DumpFaves() []FaveRecord {
	var out []FaveRecord
	e.favesMu.RLock()
	for owner, set := range e.faves {
		for target, at := range set {
			out = append(out, FaveRecord{UserID: owner, TargetID: target, CreatedAtMs: at})
		}
	}
	e.favesMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

// RestoreFave reinstates a snapshotted favorite row. Rejects malformed
// rows so hydration can skip them.
func (e *Engine) RestoreFave(rec FaveRecord) error {
	if rec.UserID == "" || rec.TargetID == "" || rec.UserID == rec.TargetID {
		return fmt.Errorf("match: fave row has invalid user pair %q -> %q", rec.UserID, rec.TargetID)
	}
	if rec.CreatedAtMs < 0 {
		return fmt.Errorf("match: fave row has negative timestamp %d", rec.CreatedAtMs)
	}
	e.favesMu.Lock()
	set := e.faves[rec.UserID]
	if set == nil {
		set = make(map[string]int64)
		e.faves[rec.UserID] = set
	}
	set[rec.TargetID] = rec.CreatedAtMs
	e.favesMu.Unlock()
	return nil
}
