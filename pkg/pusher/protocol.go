package pusher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the Pusher wire protocol spoken by this client.
const ProtocolVersion = 7

// Protocol events.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"

	// EventSubscriptionSucceeded and EventSubscriptionError are emitted
	// locally on a channel.
	EventSubscriptionSucceeded = "pusher:subscription_succeeded"
	EventSubscriptionError     = "pusher:subscription_error"

	eventInternalSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
)

// frame is one message on the socket. Servers send Data as a JSON encoded
// string; clients send objects.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// payload returns Data with one level of string encoding removed when the
// string itself holds JSON. Plain strings are returned still quoted.
func (f frame) payload() json.RawMessage {
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || data[0] != '"' {
		return data
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return data
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return data
}

// Event is a channel event delivered to handlers.
type Event struct {
	Name    string
	Channel string
	Data    json.RawMessage
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s on %s: %w", e.Name, e.Channel, err)
	}
	return nil
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type subscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

// ProtocolError is a pusher:error frame or a 4000-4299 close code.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code == 0 {
		return "pusher error: " + e.Message
	}
	return fmt.Sprintf("pusher error %d: %s", e.Code, e.Message)
}

// Fatal reports whether the server asked the client not to reconnect.
func (e *ProtocolError) Fatal() bool {
	return e.Code >= 4000 && e.Code <= 4099
}

// Immediate reports whether the client should reconnect without backoff.
func (e *ProtocolError) Immediate() bool {
	return e.Code >= 4200 && e.Code <= 4299
}

// connectionLevel reports whether the code ends the connection.
func (e *ProtocolError) connectionLevel() bool {
	return e.Code >= 4000 && e.Code <= 4299
}

func decodeError(f frame) *ProtocolError {
	var body struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(f.payload(), &body); err != nil {
		return &ProtocolError{Message: string(f.Data)}
	}
	pe := &ProtocolError{Message: body.Message}
	if body.Code != nil {
		pe.Code = *body.Code
	}
	return pe
}

// IsPrivate reports whether channel requires authorization.
func IsPrivate(channel string) bool {
	return strings.HasPrefix(channel, "private-") || strings.HasPrefix(channel, "presence-")
}
