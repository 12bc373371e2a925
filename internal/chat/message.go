package chat

import (
	"fmt"
	"strings"
)

// Media kinds.
const (
	MediaImage = "image"
	MediaVideo = "video"
	MediaAudio = "audio"
)

const (
	// MaxTextRunes is the text cap. Longer text is truncated, not rejected.
	MaxTextRunes = 500

	maxObjectKeyLen = 512
)

// Media is an attachment reference. The object itself lives in blob
// storage; the engine only validates the shape.
type Media struct {
	Kind            string   `json:"kind"`
	ObjectKey       string   `json:"objectKey"`
	MimeType        string   `json:"mimeType"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
}

// Validate checks the attachment shape: known kind, a mime type in that
// kind's family, a bounded non-empty object key, and a non-negative
// duration when one is present.
func (m *Media) Validate() error {
	switch m.Kind {
	case MediaImage, MediaVideo, MediaAudio:
	default:
		return fmt.Errorf("chat: unknown media kind %q", m.Kind)
	}
	if m.MimeType == "" || !strings.HasPrefix(m.MimeType, m.Kind+"/") {
		return fmt.Errorf("chat: mime type %q does not match kind %q", m.MimeType, m.Kind)
	}
	if m.ObjectKey == "" {
		return fmt.Errorf("chat: empty media object key")
	}
	if len(m.ObjectKey) > maxObjectKeyLen {
		return fmt.Errorf("chat: media object key exceeds %d bytes", maxObjectKeyLen)
	}
	if m.DurationSeconds != nil && *m.DurationSeconds < 0 {
		return fmt.Errorf("chat: negative media duration %f", *m.DurationSeconds)
	}
	return nil
}

// clone deep-copies the attachment so stored messages never alias caller
// memory.
func (m *Media) clone() *Media {
	if m == nil {
		return nil
	}
	out := *m
	if m.DurationSeconds != nil {
		d := *m.DurationSeconds
		out.DurationSeconds = &d
	}
	return &out
}

// Message is one chat message. Rows are immutable after append except for
// the ReadAtMs stamp.
type Message struct {
	MessageID     string `json:"messageId"`
	ChatID        string `json:"chatId"`
	ChatKind      string `json:"chatKind"`
	FromKey       string `json:"fromKey"`
	ToKey         string `json:"toKey"`
	Text          string `json:"text,omitempty"`
	Media         *Media `json:"media,omitempty"`
	CreatedAtMs   int64  `json:"createdAtMs"`
	DeliveredAtMs int64  `json:"deliveredAtMs,omitempty"`
	ReadAtMs      int64  `json:"readAtMs,omitempty"`
}

// prepareText trims surrounding whitespace and caps the length in runes.
func prepareText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	runes := []rune(trimmed)
	if len(runes) > MaxTextRunes {
		return string(runes[:MaxTextRunes])
	}
	return trimmed
}
