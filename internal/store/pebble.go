// Package store persists engine state in an embedded Pebble database.
// Every engine row (thread, read cursor, swipe, match, favorite) is one
// key with a JSON value; on boot Hydrate replays the rows back into the
// engines, skipping anything that fails row-level validation.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/chat"
	"github.com/driftapp/drift/internal/logger"
	"github.com/driftapp/drift/internal/match"
)

// Key namespaces. A thread row holds the thread's full message list so
// append order survives restarts without a per-message sequence key.
const (
	threadPrefix = "thread:"
	cursorPrefix = "cursor:"
	swipePrefix  = "swipe:"
	matchPrefix  = "match:"
	favePrefix   = "fave:"
)

// Store is a handle on the Pebble database.
type Store struct {
	db  *pebble.DB
	log *zap.Logger
}

// Open opens (or creates) the Pebble database at path.
func Open(path string) (*Store, error) {
	log := logger.L("store")
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble open failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	log.Info("pebble opened", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) put(key string, row any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		s.log.Error("row write failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// PutThread writes one thread's full message list.
func (s *Store) PutThread(snap chat.ThreadSnapshot) error {
	return s.put(threadPrefix+snap.ThreadID, snap)
}

// PutCursor writes one read cursor.
func (s *Store) PutCursor(cur chat.ReadCursor) error {
	return s.put(cursorPrefix+cur.ThreadUserKey, cur)
}

// PutSwipe writes one directional swipe row. Repeated swipes on the same
// ordered pair overwrite in place, matching the engine's last-write-wins.
func (s *Store) PutSwipe(rec match.SwipeRecord) error {
	return s.put(swipePrefix+rec.FromUserID+"|"+rec.ToUserID, rec)
}

// PutMatch writes one match row, keyed by the sorted pair.
func (s *Store) PutMatch(m match.MatchRecord) error {
	return s.put(matchPrefix+m.UserA+"|"+m.UserB, m)
}

// PutFave writes one favorite row.
func (s *Store) PutFave(rec match.FaveRecord) error {
	return s.put(favePrefix+rec.UserID+"|"+rec.TargetID, rec)
}

// DeleteFave removes a favorite row.
func (s *Store) DeleteFave(rec match.FaveRecord) error {
	key := favePrefix + rec.UserID + "|" + rec.TargetID
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		s.log.Error("row delete failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// scan visits every row under prefix in key order.
func (s *Store) scan(prefix string, fn func(key string, val []byte)) error {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		v := append([]byte(nil), iter.Value()...)
		fn(string(iter.Key()), v)
	}
	return iter.Error()
}

// HydrateStats counts what a Hydrate pass restored and what it skipped.
type HydrateStats struct {
	Threads  int
	Messages int
	Cursors  int
	Swipes   int
	Matches  int
	Faves    int
	Corrupt  int
}

// Hydrate replays every persisted row into the given engines. Corrupt rows
// are logged and skipped; they never abort the boot.
func (s *Store) Hydrate(chats *chat.Engine, matches *match.Engine) (HydrateStats, error) {
	var stats HydrateStats

	skip := func(key string, err error) {
		stats.Corrupt++
		s.log.Warn("skipping corrupt row", zap.String("key", key), zap.Error(err))
	}

	err := s.scan(threadPrefix, func(key string, val []byte) {
		var snap chat.ThreadSnapshot
		if err := json.Unmarshal(val, &snap); err != nil {
			skip(key, err)
			return
		}
		ok := false
		for _, m := range snap.Messages {
			if err := chats.RestoreMessage(m); err != nil {
				skip(key, err)
				continue
			}
			ok = true
			stats.Messages++
		}
		if ok {
			stats.Threads++
		}
	})
	if err != nil {
		return stats, err
	}

	err = s.scan(cursorPrefix, func(key string, val []byte) {
		var cur chat.ReadCursor
		if err := json.Unmarshal(val, &cur); err != nil {
			skip(key, err)
			return
		}
		if err := chats.RestoreCursor(cur); err != nil {
			skip(key, err)
			return
		}
		stats.Cursors++
	})
	if err != nil {
		return stats, err
	}

	err = s.scan(swipePrefix, func(key string, val []byte) {
		var rec match.SwipeRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			skip(key, err)
			return
		}
		if err := matches.RestoreSwipe(rec); err != nil {
			skip(key, err)
			return
		}
		stats.Swipes++
	})
	if err != nil {
		return stats, err
	}

	err = s.scan(matchPrefix, func(key string, val []byte) {
		var m match.MatchRecord
		if err := json.Unmarshal(val, &m); err != nil {
			skip(key, err)
			return
		}
		if err := matches.RestoreMatch(m); err != nil {
			skip(key, err)
			return
		}
		stats.Matches++
	})
	if err != nil {
		return stats, err
	}

	err = s.scan(favePrefix, func(key string, val []byte) {
		var rec match.FaveRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			skip(key, err)
			return
		}
		if err := matches.RestoreFave(rec); err != nil {
			skip(key, err)
			return
		}
		stats.Faves++
	})
	if err != nil {
		return stats, err
	}

	s.log.Info("hydrated",
		zap.Int("threads", stats.Threads),
		zap.Int("messages", stats.Messages),
		zap.Int("cursors", stats.Cursors),
		zap.Int("swipes", stats.Swipes),
		zap.Int("matches", stats.Matches),
		zap.Int("faves", stats.Faves),
		zap.Int("corrupt", stats.Corrupt))
	return stats, nil
}

// Snapshot is the full persisted state as one JSON document. The janitor
// writes these as offline backups.
type Snapshot struct {
	Threads     []chat.ThreadSnapshot `json:"threads"`
	ReadCursors []chat.ReadCursor     `json:"readCursors"`
	Swipes      []match.SwipeRecord   `json:"swipes"`
	Matches     []match.MatchRecord   `json:"matches"`
	Faves       []match.FaveRecord    `json:"faves"`
}

// Export builds a Snapshot from the live engines.
func Export(chats *chat.Engine, matches *match.Engine) Snapshot {
	return Snapshot{
		Threads:     chats.DumpThreads(),
		ReadCursors: chats.DumpCursors(),
		Swipes:      matches.DumpSwipes(),
		Matches:     matches.DumpMatches(),
		Faves:       matches.DumpFaves(),
	}
}

// SaveSnapshot rewrites the database to exactly match snap. Rows missing
// from the snapshot are deleted, so a save after a retention purge also
// drops the purged state.
func (s *Store) SaveSnapshot(snap Snapshot) error {
	keep := make(map[string]bool)
	mark := func(key string, row any) error {
		keep[key] = true
		return s.put(key, row)
	}

	for _, t := range snap.Threads {
		if err := mark(threadPrefix+t.ThreadID, t); err != nil {
			return err
		}
	}
	for _, c := range snap.ReadCursors {
		if err := mark(cursorPrefix+c.ThreadUserKey, c); err != nil {
			return err
		}
	}
	for _, r := range snap.Swipes {
		if err := mark(swipePrefix+r.FromUserID+"|"+r.ToUserID, r); err != nil {
			return err
		}
	}
	for _, m := range snap.Matches {
		if err := mark(matchPrefix+m.UserA+"|"+m.UserB, m); err != nil {
			return err
		}
	}
	for _, f := range snap.Faves {
		if err := mark(favePrefix+f.UserID+"|"+f.TargetID, f); err != nil {
			return err
		}
	}

	var stale []string
	for _, prefix := range []string{threadPrefix, cursorPrefix, swipePrefix, matchPrefix, favePrefix} {
		err := s.scan(prefix, func(key string, _ []byte) {
			if !keep[key] {
				stale = append(stale, key)
			}
		})
		if err != nil {
			return err
		}
	}
	for _, key := range stale {
		if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
			s.log.Error("row delete failed", zap.String("key", key), zap.Error(err))
			return err
		}
	}
	if len(stale) > 0 {
		s.log.Info("snapshot pruned stale rows", zap.Int("rows", len(stale)))
	}
	return nil
}
