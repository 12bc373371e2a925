package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/driftapp/drift/internal/metrics"
)

// writeTimeout bounds a single outbound frame write so one stalled
// client cannot hold a write mutex indefinitely.
const writeTimeout = 10 * time.Second

// Conn represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
// One actor may hold several connections at once (multiple devices).
type Conn struct {
	ID        string    // connection ID (UUID)
	ActorKey  string    // canonical actor key the stream delivers for
	Mode      string    // session mode at attach time
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	lastPing atomic.Int64 // unix nanos of the last observed client activity
	writeMu  sync.Mutex   // serializes writes to this connection
}

// Touch records client activity for heartbeat staleness checks.
func (c *Conn) Touch() {
	c.lastPing.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last observed client activity.
func (c *Conn) LastActive() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on
// the connection.
func (c *Conn) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// writePong answers a client ping, echoing its payload.
func (c *Conn) writePong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.Conn.Close()
}

// Registry is a thread-safe index of live connections. It supports O(1)
// lookup by connection ID and by actor key, where one actor maps to all
// of their concurrently attached devices.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Conn
	byActor map[string]map[string]*Conn // actor key -> conn ID -> Conn
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[string]*Conn),
		byActor: make(map[string]map[string]*Conn),
	}
}

// Add registers a new connection in both the ID and actor indexes.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.byID[c.ID] = c
	conns := r.byActor[c.ActorKey]
	if conns == nil {
		conns = make(map[string]*Conn)
		r.byActor[c.ActorKey] = conns
	}
	conns[c.ID] = c
	r.mu.Unlock()

	metrics.ConnectionsActive.Inc()
}

// Remove removes a connection by ID, closes the underlying network
// connection, and removes it from both indexes. Returns true if the
// connection was found and removed, false if it was already gone.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	c, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		if conns := r.byActor[c.ActorKey]; conns != nil {
			delete(conns, id)
			if len(conns) == 0 {
				delete(r.byActor, c.ActorKey)
			}
		}
	}
	r.mu.Unlock()

	if ok {
		c.Close()
		metrics.ConnectionsActive.Dec()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (r *Registry) Get(id string) *Conn {
	r.mu.RLock()
	c := r.byID[id]
	r.mu.RUnlock()
	return c
}

// ForActor returns a snapshot of every connection an actor currently
// holds. The returned slice is safe to iterate without holding the lock.
func (r *Registry) ForActor(actorKey string) []*Conn {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.byActor[actorKey]))
	for _, c := range r.byActor[actorKey] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	return conns
}

// Count returns the current number of active connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice
// is safe to iterate without holding the lock.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.byID))
	for _, c := range r.byID {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	return conns
}
