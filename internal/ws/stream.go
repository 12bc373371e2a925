// Package ws is the realtime stream layer. It upgrades authenticated
// HTTP requests to WebSocket connections, indexes them per actor, fans
// engine events out to the participants they concern, and accepts a
// small set of client operations over the same socket.
package ws

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/chat"
	"github.com/driftapp/drift/internal/events"
	"github.com/driftapp/drift/internal/identity"
	"github.com/driftapp/drift/internal/logger"
	"github.com/driftapp/drift/internal/match"
	"github.com/driftapp/drift/internal/protocol"
)

// maxFrameBytes caps a single inbound frame. Text is bounded far below
// this by the chat engine; anything larger is a misbehaving client.
const maxFrameBytes = 64 << 10

// Stream owns the live WebSocket connections and bridges the event hub
// to them. Each connection gets a dedicated reader goroutine; outbound
// pushes are serialized per connection by its write mutex.
type Stream struct {
	disp *Dispatcher
	reg  *Registry
	log  *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	cancelSub func()
}

// NewStream creates a Stream dispatching client operations to chats and,
// when hub is non-nil, subscribed to it for event fanout. The heartbeat
// monitor starts immediately and runs until Close.
func NewStream(chats *chat.Engine, hub *events.Hub) *Stream {
	s := &Stream{
		disp: NewDispatcher(chats),
		reg:  NewRegistry(),
		log:  logger.L("ws"),
		done: make(chan struct{}),
	}
	if hub != nil {
		s.cancelSub = hub.Subscribe("ws-fanout", 256, s.fanout)
	}
	startHeartbeat(s, DefaultHeartbeatConfig())
	return s
}

// Registry exposes the connection index for health reporting.
func (s *Stream) Registry() *Registry {
	return s.reg
}

// Attach upgrades an authenticated HTTP request to a WebSocket
// connection, registers it, confirms with a hello frame, and starts the
// reader loop. The caller resolves the session before upgrading.
func (s *Stream) Attach(sess *identity.Session, w http.ResponseWriter, r *http.Request) error {
	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return fmt.Errorf("ws: upgrade failed: %w", err)
	}

	c := &Conn{
		ID:        uuid.New().String(),
		ActorKey:  sess.ActorKey(),
		Mode:      sess.Mode,
		Conn:      netConn,
		CreatedAt: time.Now(),
	}
	c.Touch()
	s.reg.Add(c)

	hello, err := protocol.NewServerMessage(protocol.TypeHello, protocol.HelloMsg{
		ActorKey: c.ActorKey,
		Mode:     c.Mode,
	})
	if err != nil {
		s.log.Warn("failed to build hello", zap.String("conn", c.ID), zap.Error(err))
	} else if err := c.WriteMessage(hello); err != nil {
		s.drop(c)
		return fmt.Errorf("ws: hello write failed: %w", err)
	}

	s.log.Info("stream attached",
		zap.String("conn", c.ID),
		zap.String("actor", c.ActorKey),
		zap.Int("total", s.reg.Count()))

	go s.readLoop(sess, c)
	return nil
}

// readLoop reads frames until the connection dies. Control frames are
// answered inline; data frames go to the dispatcher. Any read or
// protocol failure drops the connection.
func (s *Stream) readLoop(sess *identity.Session, c *Conn) {
	defer s.drop(c)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}

		// Any frame proves the connection is alive.
		c.Touch()

		if header.Length > maxFrameBytes {
			s.log.Warn("frame too large",
				zap.String("conn", c.ID), zap.Int64("length", header.Length))
			return
		}

		// Drain the payload so the next header parse starts on a frame
		// boundary even for frames we otherwise ignore.
		payload := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, payload); err != nil {
				return
			}
		}

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				if err := c.writePong(payload); err != nil {
					return
				}
			}
			// Pong: liveness already recorded, nothing else to do.
			continue
		}

		if len(payload) == 0 {
			continue
		}
		s.disp.Dispatch(sess, c, payload)
	}
}

// drop removes a connection from the registry and closes it. Safe to
// call from multiple goroutines racing over the same connection; only
// the first caller logs.
func (s *Stream) drop(c *Conn) {
	if !s.reg.Remove(c.ID) {
		return
	}
	s.log.Info("stream detached",
		zap.String("conn", c.ID),
		zap.String("actor", c.ActorKey),
		zap.Int("total", s.reg.Count()))
}

// Close detaches the stream from the hub and closes every connection.
// Reader goroutines observe the closed sockets and exit.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cancelSub != nil {
			s.cancelSub()
		}
		for _, c := range s.reg.All() {
			s.drop(c)
		}
		s.log.Info("stream closed")
	})
}

// fanout routes one engine event to the connections it concerns. It runs
// on the hub subscriber goroutine; pushes that fail drop the connection
// and the heartbeat never resurrects it.
func (s *Stream) fanout(ev events.Event) {
	switch ev.Kind {
	case events.KindMessageAppended:
		msg, ok := ev.Payload.(chat.Message)
		if !ok {
			return
		}
		data, err := protocol.NewServerMessage(protocol.TypeMessageNew, msg)
		if err != nil {
			s.log.Warn("failed to build message push", zap.Error(err))
			return
		}
		if chat.IsSpotKey(msg.ToKey) {
			s.pushCruise(data)
			return
		}
		s.push(msg.ToKey, data)
		s.push(msg.FromKey, data)

	case events.KindReadMarked:
		cur, ok := ev.Payload.(chat.ReadCursor)
		if !ok {
			return
		}
		th, err := chat.ParseThreadID(ev.ThreadID)
		if err != nil || th.Spot() {
			return
		}
		data, err := protocol.NewServerMessage(protocol.TypeReadUpdate, protocol.ReadUpdateMsg{
			ThreadID:  ev.ThreadID,
			ReaderKey: ev.Actor,
			ReadAtMs:  cur.ReadAtMs,
		})
		if err != nil {
			s.log.Warn("failed to build read push", zap.Error(err))
			return
		}
		s.push(th.Other(ev.Actor), data)

	case events.KindThreadExpired:
		th, err := chat.ParseThreadID(ev.ThreadID)
		if err != nil {
			return
		}
		data, err := protocol.NewServerMessage(protocol.TypeChatExpired, protocol.ChatExpiredMsg{
			ThreadID: ev.ThreadID,
		})
		if err != nil {
			s.log.Warn("failed to build expiry push", zap.Error(err))
			return
		}
		if th.Spot() {
			s.pushCruise(data)
			return
		}
		s.push(th.KeyA, data)
		s.push(th.KeyB, data)

	case events.KindMatchCreated:
		rec, ok := ev.Payload.(match.MatchRecord)
		if !ok {
			return
		}
		data, err := protocol.NewServerMessage(protocol.TypeMatchNew, rec)
		if err != nil {
			s.log.Warn("failed to build match push", zap.Error(err))
			return
		}
		s.push(identity.UserKeyPrefix+rec.UserA, data)
		s.push(identity.UserKeyPrefix+rec.UserB, data)
	}
}

// push writes data to every device an actor has attached.
func (s *Stream) push(actorKey string, data []byte) {
	for _, c := range s.reg.ForActor(actorKey) {
		if err := c.WriteMessage(data); err != nil {
			s.log.Debug("push failed", zap.String("conn", c.ID), zap.Error(err))
			s.drop(c)
		}
	}
}

// pushCruise writes data to every connection whose session can see the
// cruise surface. Spot threads are shared, so their traffic goes to all
// cruise-capable clients rather than a participant pair.
func (s *Stream) pushCruise(data []byte) {
	for _, c := range s.reg.All() {
		if c.Mode == identity.ModeDate {
			continue
		}
		if err := c.WriteMessage(data); err != nil {
			s.log.Debug("push failed", zap.String("conn", c.ID), zap.Error(err))
			s.drop(c)
		}
	}
}
