package store

import (
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/chat"
	"github.com/driftapp/drift/internal/events"
	"github.com/driftapp/drift/internal/logger"
	"github.com/driftapp/drift/internal/match"
	"github.com/driftapp/drift/internal/metrics"
)

// Persister subscribes to the engine change feed and writes each change
// through to the Store on its own goroutine. Write failures are logged,
// never surfaced to the request path; the periodic snapshot save catches
// anything a failed write left behind.
type Persister struct {
	store  *Store
	chats  *chat.Engine
	cancel func()
	log    *zap.Logger
}

// StartPersister wires a Persister into hub. buffer bounds how many events
// may queue while a Pebble write is in flight; zero selects a default.
func StartPersister(hub *events.Hub, st *Store, chats *chat.Engine, buffer int) *Persister {
	if buffer <= 0 {
		buffer = 1024
	}
	p := &Persister{store: st, chats: chats, log: logger.L("persister")}
	p.cancel = hub.Subscribe("persister", buffer, p.handle)
	return p
}

// Stop detaches the persister from the hub. Queued events still drain.
func (p *Persister) Stop() {
	p.cancel()
}

func (p *Persister) handle(ev events.Event) {
	var err error
	switch ev.Kind {
	case events.KindMessageAppended:
		err = p.saveThread(ev.ThreadID)
	case events.KindReadMarked:
		if cur, ok := ev.Payload.(chat.ReadCursor); ok {
			err = p.store.PutCursor(cur)
		}
		if err == nil {
			// Read stamps landed on the counterpart's stored messages too.
			err = p.saveThread(ev.ThreadID)
		}
	case events.KindSwipeRecorded:
		if rec, ok := ev.Payload.(match.SwipeRecord); ok {
			err = p.store.PutSwipe(rec)
		}
	case events.KindMatchCreated:
		if m, ok := ev.Payload.(match.MatchRecord); ok {
			err = p.store.PutMatch(m)
		}
	case events.KindFaveSet:
		if rec, ok := ev.Payload.(match.FaveRecord); ok {
			err = p.store.PutFave(rec)
		}
	case events.KindFaveCleared:
		if rec, ok := ev.Payload.(match.FaveRecord); ok {
			err = p.store.DeleteFave(rec)
		}
	default:
		return
	}
	if err != nil {
		p.log.Warn("persist failed", zap.String("kind", ev.Kind), zap.Error(err))
		return
	}
	metrics.PersistedEventsTotal.WithLabelValues(ev.Kind).Inc()
}

func (p *Persister) saveThread(threadID string) error {
	snap, ok := p.chats.DumpThread(threadID)
	if !ok {
		return nil
	}
	return p.store.PutThread(snap)
}
