// Package protocol defines the WebSocket message vocabulary for the
// stream endpoint. All frames are JSON with a type discriminator; the
// server pushes engine events down and accepts a small set of client
// operations back.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/driftapp/drift/internal/chat"
)

// Client -> Server message types.
const (
	TypePing     = "ping"
	TypeSend     = "send"
	TypeMarkRead = "mark_read"
)

// Server -> Client message types.
const (
	TypeHello       = "hello"
	TypePong        = "pong"
	TypeAck         = "ack"
	TypeError       = "error"
	TypeMessageNew  = "message_new"
	TypeReadUpdate  = "read_update"
	TypeMatchNew    = "match_new"
	TypeChatExpired = "chat_expired"
)

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// SendMsg carries a sendMessage request over the stream. The embedded
// request flattens into the frame, so the wire shape matches the REST
// body plus the type field.
type SendMsg struct {
	Type string `json:"type"`
	chat.SendRequest
}

// MarkReadMsg stamps the caller's read cursor in one thread.
type MarkReadMsg struct {
	Type     string `json:"type"`
	ChatKind string `json:"chatKind"`
	OtherKey string `json:"otherKey"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// HelloMsg confirms the stream is attached and names the actor it
// streams for.
type HelloMsg struct {
	Type     string `json:"type"`
	ActorKey string `json:"actorKey"`
	Mode     string `json:"mode"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// AckMsg reports a successful client operation. Message is set for
// sends, Cursor for read stamps.
type AckMsg struct {
	Type    string           `json:"type"`
	Op      string           `json:"op"`
	Message *chat.Message    `json:"message,omitempty"`
	Cursor  *chat.ReadCursor `json:"cursor,omitempty"`
}

// ErrorMsg carries a rejection to the client. Code, Message, and
// Context mirror the gate error shape the REST surface returns.
type ErrorMsg struct {
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ReadUpdateMsg tells a sender their counterpart caught up in a thread.
type ReadUpdateMsg struct {
	Type      string `json:"type"`
	ThreadID  string `json:"threadId"`
	ReaderKey string `json:"readerKey"`
	ReadAtMs  int64  `json:"readAtMs"`
}

// ChatExpiredMsg reports a cruise thread whose messages aged out.
type ChatExpiredMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"threadId"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client
// message. It returns the message type string, the decoded struct, and
// any error encountered. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSend:
		var m SendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server
// message. The payload is marshaled to a generic map and msgType is
// injected under the "type" key, so engine types can ride the stream
// without protocol wrappers.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
