package ws

import (
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/chat"
	"github.com/driftapp/drift/internal/gate"
	"github.com/driftapp/drift/internal/identity"
	"github.com/driftapp/drift/internal/logger"
	"github.com/driftapp/drift/internal/metrics"
	"github.com/driftapp/drift/internal/protocol"
)

// Dispatcher routes parsed client messages to the chat engine and sends
// structured responses back. Every operation re-enters the same gate
// checks as the REST surface, so a socket grants no extra authority.
type Dispatcher struct {
	chats *chat.Engine
	log   *zap.Logger
}

// NewDispatcher creates a Dispatcher bound to the given chat engine.
func NewDispatcher(chats *chat.Engine) *Dispatcher {
	return &Dispatcher{
		chats: chats,
		log:   logger.L("ws"),
	}
}

// Dispatch parses raw frame bytes into a typed message and routes it.
// Parse failures and unsupported types result in an error message sent
// back to the client; the connection survives.
func (d *Dispatcher) Dispatch(sess *identity.Session, conn *Conn, data []byte) {
	_, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("dispatch parse error", zap.String("conn", conn.ID), zap.Error(err))
		d.sendError(conn, "parse_error", "invalid message format", nil)
		return
	}

	switch m := msg.(type) {
	case protocol.PingMsg:
		d.sendPong(conn)
	case protocol.SendMsg:
		d.handleSend(sess, conn, m)
	case protocol.MarkReadMsg:
		d.handleMarkRead(sess, conn, m)
	default:
		d.sendError(conn, "unsupported_type", "unsupported message type", nil)
	}
}

func (d *Dispatcher) handleSend(sess *identity.Session, conn *Conn, m protocol.SendMsg) {
	kind := m.ChatKind
	if !chat.ValidKind(kind) {
		kind = "invalid"
	}

	sent, gerr := d.chats.SendMessage(sess, m.SendRequest)
	if gerr != nil {
		metrics.SendsTotal.WithLabelValues(kind, string(gerr.Code)).Inc()
		metrics.GateDenialsTotal.WithLabelValues(string(gerr.Code)).Inc()
		d.sendGateError(conn, gerr)
		return
	}

	metrics.SendsTotal.WithLabelValues(sent.ChatKind, "ok").Inc()
	d.sendAck(conn, protocol.AckMsg{Op: protocol.TypeSend, Message: sent})
}

func (d *Dispatcher) handleMarkRead(sess *identity.Session, conn *Conn, m protocol.MarkReadMsg) {
	cur, gerr := d.chats.MarkRead(sess, m.ChatKind, m.OtherKey)
	if gerr != nil {
		metrics.GateDenialsTotal.WithLabelValues(string(gerr.Code)).Inc()
		d.sendGateError(conn, gerr)
		return
	}
	d.sendAck(conn, protocol.AckMsg{Op: protocol.TypeMarkRead, Cursor: cur})
}

// sendGateError forwards an engine rejection verbatim, in the same code,
// message, and context shape the REST surface returns.
func (d *Dispatcher) sendGateError(conn *Conn, gerr *gate.Error) {
	d.sendError(conn, string(gerr.Code), gerr.Message, gerr.Context)
}

// sendError sends a structured error message back to the client. Errors
// during message construction or transmission are logged, not propagated.
func (d *Dispatcher) sendError(conn *Conn, code, message string, ctx map[string]any) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
		Context: ctx,
	})
	if err != nil {
		d.log.Warn("failed to build error message", zap.String("conn", conn.ID), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("failed to send error message", zap.String("conn", conn.ID), zap.Error(err))
	}
}

// sendPong answers a client ping with a pong message and refreshes the
// connection's activity stamp.
func (d *Dispatcher) sendPong(conn *Conn) {
	conn.Touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.log.Warn("failed to build pong message", zap.String("conn", conn.ID), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("failed to send pong message", zap.String("conn", conn.ID), zap.Error(err))
	}
}

// sendAck reports a completed client operation.
func (d *Dispatcher) sendAck(conn *Conn, ack protocol.AckMsg) {
	data, err := protocol.NewServerMessage(protocol.TypeAck, ack)
	if err != nil {
		d.log.Warn("failed to build ack message", zap.String("conn", conn.ID), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("failed to send ack message", zap.String("conn", conn.ID), zap.Error(err))
	}
}
