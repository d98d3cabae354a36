package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// InboundEvent is a chat message as received from the transport.
type InboundEvent struct {
	SenderID       Identity        `json:"sender_id"`
	ConversationID Identity        `json:"conversation_id"`
	MessageID      string          `json:"message_id,omitempty"`
	Body           string          `json:"body"`
	SenderName     string          `json:"sender_name,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// Origin is the channel an event was delivered on.
type Origin string

const (
	OriginUser         Origin = "user"
	OriginConversation Origin = "conversation"
)

// ClassifiedEvent is an InboundEvent tagged with ownership and origin.
type ClassifiedEvent struct {
	Event  InboundEvent `json:"event"`
	IsOwn  bool         `json:"is_own"`
	Origin Origin       `json:"origin"`
}

type wireEvent struct {
	SenderID       json.RawMessage `json:"sender_id"`
	UserID         json.RawMessage `json:"user_id"`
	ConversationID json.RawMessage `json:"conversation_id"`
	MessageID      json.RawMessage `json:"message_id"`
	ID             json.RawMessage `json:"id"`
	Message        json.RawMessage `json:"message"`
	Body           string          `json:"body"`
	Content        string          `json:"content"`
	SenderName     string          `json:"sender_name"`
	CreatedAt      json.RawMessage `json:"created_at"`
	Timestamp      json.RawMessage `json:"timestamp"`
}

// DecodeEvent parses a chat payload. Backends differ in field names: the
// text may be in message, body or content, and message may itself be an
// object holding the fields. now stamps events without a timestamp.
func DecodeEvent(data json.RawMessage, now time.Time) (InboundEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return InboundEvent{}, fmt.Errorf("decoding chat event: %w", err)
	}

	ev := InboundEvent{Raw: append(json.RawMessage(nil), data...)}
	var nested json.RawMessage
	if m := bytes.TrimSpace(w.Message); len(m) > 0 && m[0] == '{' {
		nested = m
	}
	fill(&ev, w)
	if nested != nil {
		var inner wireEvent
		if err := json.Unmarshal(nested, &inner); err == nil {
			fill(&ev, inner)
		}
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	return ev, nil
}

// fill sets the fields of ev still empty from w.
func fill(ev *InboundEvent, w wireEvent) {
	if ev.SenderID == "" {
		ev.SenderID = identityFromJSON(w.SenderID)
		if ev.SenderID == "" {
			ev.SenderID = identityFromJSON(w.UserID)
		}
	}
	if ev.ConversationID == "" {
		ev.ConversationID = identityFromJSON(w.ConversationID)
	}
	if ev.MessageID == "" {
		ev.MessageID = string(identityFromJSON(w.MessageID))
		if ev.MessageID == "" {
			ev.MessageID = string(identityFromJSON(w.ID))
		}
	}
	if ev.Body == "" {
		var s string
		if m := bytes.TrimSpace(w.Message); len(m) > 0 && m[0] == '"' {
			_ = json.Unmarshal(m, &s)
		}
		switch {
		case s != "":
			ev.Body = s
		case w.Body != "":
			ev.Body = w.Body
		default:
			ev.Body = w.Content
		}
	}
	if ev.SenderName == "" {
		ev.SenderName = w.SenderName
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = parseTime(w.CreatedAt)
		if ev.Timestamp.IsZero() {
			ev.Timestamp = parseTime(w.Timestamp)
		}
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTime accepts RFC 3339, MySQL datetimes and unix seconds or millis.
func parseTime(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	return time.Time{}
}

// Classify tags ev with ownership relative to self and with its origin.
// It has no side effects.
func Classify(ev InboundEvent, self Identity, origin Origin) ClassifiedEvent {
	return ClassifiedEvent{
		Event:  ev,
		IsOwn:  ev.SenderID.Same(IdentityOf(self)),
		Origin: origin,
	}
}
