package chatify

import (
	"encoding/json"
	"strings"
	"time"
)

// TempPrefix marks ids of messages that the server has not confirmed yet.
const TempPrefix = "temp_"

// IsTempID reports whether id belongs to an optimistic local message.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// DeliveryStage is the delivery state shown next to a message.
type DeliveryStage string

const (
	StageSending DeliveryStage = "sending"
	StageSent    DeliveryStage = "sent"
	StageRead    DeliveryStage = "read"
)

// DeliverySymbol is the tick mark rendered for a stage.
func DeliverySymbol(stage DeliveryStage) string {
	switch stage {
	case StageSending:
		return "…"
	case StageRead:
		return "✓✓"
	}
	return "✓"
}

// Message is the canonical form of a chat message.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	AuthorID       string `json:"authorId,omitempty"`
	AuthorName     string `json:"authorName,omitempty"`
	AvatarURL      string `json:"avatar,omitempty"`
	Text           string `json:"text"`
	CreatedAt      string `json:"createdAt"`
	Read           bool   `json:"read,omitempty"`
	// Failed is set on an optimistic message whose send call errored.
	Failed bool `json:"failed,omitempty"`
}

// Stage classifies delivery: unconfirmed messages are sending, explicitly
// read ones are read, everything else is optimistically sent.
func (m Message) Stage() DeliveryStage {
	if IsTempID(m.ID) {
		return StageSending
	}
	if m.Read {
		return StageRead
	}
	return StageSent
}

// Time parses CreatedAt; the zero time is returned when it is missing or malformed.
func (m Message) Time() time.Time {
	if m.CreatedAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DecodeMessages converts a messages payload into canonical messages. The
// payload may be an array or an object wrapping it under "messages" or
// "items". Unknown shapes decode to an empty list.
func DecodeMessages(data []byte, conversationID string, x Extractor) ([]Message, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		if arr, ok := t["messages"].([]any); ok {
			items = arr
		} else if arr, ok := t["items"].([]any); ok {
			items = arr
		}
	}
	msgs := make([]Message, 0, len(items))
	for _, it := range items {
		raw, ok := it.(map[string]any)
		if !ok {
			continue
		}
		msgs = append(msgs, decodeMessage(raw, conversationID, x))
	}
	return msgs, nil
}

func decodeMessage(raw map[string]any, conversationID string, x Extractor) Message {
	id, _ := scalarString(raw["id"])
	convID, _ := scalarString(raw["conversationId"])
	if convID == "" {
		convID = conversationID
	}
	text := strOr(raw, "text", strOr(raw, "content", ""))
	return Message{
		ID:             id,
		ConversationID: convID,
		AuthorID:       x.AuthorIDOf(raw),
		AuthorName:     x.AuthorNameOf(raw),
		AvatarURL:      x.AvatarOf(raw),
		Text:           text,
		CreatedAt:      strOr(raw, "createdAt", ""),
		Read:           x.IsRead(raw),
	}
}
