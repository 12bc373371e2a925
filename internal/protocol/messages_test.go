package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/driftapp/drift/internal/chat"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid ping message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Ping(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePing {
		t.Fatalf("expected type %q, got %q", TypePing, msgType)
	}
	if _, ok := msg.(PingMsg); !ok {
		t.Fatalf("expected PingMsg, got %T", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid send message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Send(t *testing.T) {
	input := []byte(`{"type":"send","chatKind":"date","toKey":"user:bob","text":"hey"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSend {
		t.Fatalf("expected type %q, got %q", TypeSend, msgType)
	}

	sm, ok := msg.(SendMsg)
	if !ok {
		t.Fatalf("expected SendMsg, got %T", msg)
	}
	if sm.ChatKind != "date" {
		t.Errorf("expected chatKind %q, got %q", "date", sm.ChatKind)
	}
	if sm.ToKey != "user:bob" {
		t.Errorf("expected toKey %q, got %q", "user:bob", sm.ToKey)
	}
	if sm.Text != "hey" {
		t.Errorf("expected text %q, got %q", "hey", sm.Text)
	}
	if sm.Media != nil {
		t.Errorf("expected nil media, got %+v", sm.Media)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a send message carrying a media attachment
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendWithMedia(t *testing.T) {
	input := []byte(`{"type":"send","chatKind":"cruise","toKey":"guest:g1","media":{"kind":"image","objectKey":"media/a.jpg","mimeType":"image/jpeg"}}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sm, ok := msg.(SendMsg)
	if !ok {
		t.Fatalf("expected SendMsg, got %T", msg)
	}
	if sm.Media == nil {
		t.Fatal("expected media to be decoded")
	}
	if sm.Media.Kind != chat.MediaImage {
		t.Errorf("expected media kind %q, got %q", chat.MediaImage, sm.Media.Kind)
	}
	if sm.Media.ObjectKey != "media/a.jpg" {
		t.Errorf("expected media object key preserved, got %q", sm.Media.ObjectKey)
	}
	if sm.Media.MimeType != "image/jpeg" {
		t.Errorf("expected media mime type preserved, got %q", sm.Media.MimeType)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid mark_read message
// ---------------------------------------------------------------------------

func TestParseClientMessage_MarkRead(t *testing.T) {
	input := []byte(`{"type":"mark_read","chatKind":"cruise","otherKey":"session:tok"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMarkRead {
		t.Fatalf("expected type %q, got %q", TypeMarkRead, msgType)
	}

	mr, ok := msg.(MarkReadMsg)
	if !ok {
		t.Fatalf("expected MarkReadMsg, got %T", msg)
	}
	if mr.ChatKind != "cruise" {
		t.Errorf("expected chatKind %q, got %q", "cruise", mr.ChatKind)
	}
	if mr.OtherKey != "session:tok" {
		t.Errorf("expected otherKey %q, got %q", "session:tok", mr.OtherKey)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"shout"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if msgType != "shout" {
		t.Errorf("expected type passthrough %q, got %q", "shout", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil message, got %+v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Server-only types are rejected from clients
// ---------------------------------------------------------------------------

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	for _, typ := range []string{TypeHello, TypeMessageNew, TypeMatchNew, TypeChatExpired} {
		if _, _, err := ParseClientMessage([]byte(`{"type":"` + typ + `"}`)); err == nil {
			t.Errorf("expected error for server-only type %q", typ)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed JSON returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

// ---------------------------------------------------------------------------
// Test: Missing or empty type field is rejected
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"text":"hi"}`), &env)
	if err == nil {
		t.Fatal("expected error for missing type")
	}
	if !strings.Contains(err.Error(), "type") {
		t.Errorf("error should mention the type field: %v", err)
	}
}

func TestEnvelope_EmptyType(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"type":""}`), &env); err == nil {
		t.Fatal("expected error for empty type")
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope preserves the raw payload bytes
// ---------------------------------------------------------------------------

func TestEnvelope_PreservesRaw(t *testing.T) {
	input := []byte(`{"type":"ping","extra":"kept"}`)

	var env Envelope
	if err := json.Unmarshal(input, &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != TypePing {
		t.Errorf("expected type %q, got %q", TypePing, env.Type)
	}
	if string(env.Raw) != string(input) {
		t.Errorf("raw payload not preserved: %s", env.Raw)
	}
}

// ---------------------------------------------------------------------------
// Test: NewServerMessage injects the type field into the payload
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeHello, HelloMsg{ActorKey: "user:alice", Mode: "hybrid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
	if decoded["type"] != TypeHello {
		t.Errorf("expected injected type %q, got %v", TypeHello, decoded["type"])
	}
	if decoded["actorKey"] != "user:alice" {
		t.Errorf("payload field lost: %v", decoded)
	}
	if decoded["mode"] != "hybrid" {
		t.Errorf("payload field lost: %v", decoded)
	}
}

// ---------------------------------------------------------------------------
// Test: Engine types ride the stream without protocol wrappers
// ---------------------------------------------------------------------------

func TestNewServerMessage_EngineType(t *testing.T) {
	msg := chat.Message{
		MessageID:   "m1",
		ChatID:      "date|user:alice|user:bob",
		ChatKind:    "date",
		FromKey:     "user:alice",
		ToKey:       "user:bob",
		Text:        "hi",
		CreatedAtMs: 1700000000000,
	}

	data, err := NewServerMessage(TypeMessageNew, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
	if decoded["type"] != TypeMessageNew {
		t.Errorf("expected injected type %q, got %v", TypeMessageNew, decoded["type"])
	}
	if decoded["messageId"] != "m1" {
		t.Errorf("engine payload field lost: %v", decoded)
	}
	if decoded["chatId"] != "date|user:alice|user:bob" {
		t.Errorf("engine payload field lost: %v", decoded)
	}
}

// ---------------------------------------------------------------------------
// Test: Error messages omit an empty context
// ---------------------------------------------------------------------------

func TestNewServerMessage_OmitsEmptyContext(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{
		Code:    "RATE_LIMITED",
		Message: "Slow down.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(data), "context") {
		t.Errorf("empty context should be omitted: %s", data)
	}
}

// ---------------------------------------------------------------------------
// Test: Unmarshalable payloads surface an error
// ---------------------------------------------------------------------------

func TestNewServerMessage_BadPayload(t *testing.T) {
	if _, err := NewServerMessage(TypePong, make(chan int)); err == nil {
		t.Fatal("expected error for unmarshalable payload")
	}
}

// ---------------------------------------------------------------------------
// Test: A marshaled client message parses back to the same fields
// ---------------------------------------------------------------------------

func TestClientMessage_RoundTrip(t *testing.T) {
	original := SendMsg{
		Type: TypeSend,
		SendRequest: chat.SendRequest{
			ChatKind: "date",
			ToKey:    "user:bob",
			Text:     "round trip",
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if msgType != TypeSend {
		t.Fatalf("expected type %q, got %q", TypeSend, msgType)
	}

	decoded, ok := msg.(SendMsg)
	if !ok {
		t.Fatalf("expected SendMsg, got %T", msg)
	}
	if decoded.ChatKind != original.ChatKind || decoded.ToKey != original.ToKey || decoded.Text != original.Text {
		t.Errorf("round trip lost fields: %+v", decoded)
	}
}
