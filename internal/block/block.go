// Package block manages user-to-user block lists and exposes the checker
// the engines consult before letting two actors interact. A block in
// either direction stops interaction both ways.
package block

import (
	"context"
	"sync"
)

// Checker is the engine-facing view of the block list. IsBlocked reports
// whether interaction from fromKey to toKey is forbidden; implementations
// must treat the relation as symmetric (a block by either party blocks
// both directions).
type Checker interface {
	IsBlocked(fromKey, toKey string) bool
}

// AllowAll is a Checker that never blocks. Used when no block store is
// wired.
type AllowAll struct{}

// IsBlocked always reports false.
func (AllowAll) IsBlocked(fromKey, toKey string) bool { return false }

// Memory is an in-process block store keyed by canonical ActorKeys. Its
// management methods share the Redis store's signatures so callers can
// front either backend with the same interface; the context is unused
// and the error always nil.
type Memory struct {
	mu      sync.RWMutex
	blocked map[string]map[string]struct{} // owner -> set of targets
}

// NewMemory creates an empty in-memory block store.
func NewMemory() *Memory {
	return &Memory{blocked: make(map[string]map[string]struct{})}
}

// Block records that owner blocks target. Idempotent.
func (m *Memory) Block(ctx context.Context, owner, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.blocked[owner]
	if set == nil {
		set = make(map[string]struct{})
		m.blocked[owner] = set
	}
	set[target] = struct{}{}
	return nil
}

// Unblock removes owner's block on target. Idempotent.
func (m *Memory) Unblock(ctx context.Context, owner, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set := m.blocked[owner]; set != nil {
		delete(set, target)
		if len(set) == 0 {
			delete(m.blocked, owner)
		}
	}
	return nil
}

// Blocks lists the targets owner has blocked.
func (m *Memory) Blocks(ctx context.Context, owner string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.blocked[owner]
	out := make([]string, 0, len(set))
	for target := range set {
		out = append(out, target)
	}
	return out, nil
}

// IsBlocked reports whether either party has blocked the other.
func (m *Memory) IsBlocked(fromKey, toKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if set := m.blocked[fromKey]; set != nil {
		if _, hit := set[toKey]; hit {
			return true
		}
	}
	if set := m.blocked[toKey]; set != nil {
		if _, hit := set[fromKey]; hit {
			return true
		}
	}
	return false
}
