package api

import (
	"encoding/json"
	"time"

	"github.com/rubiojr/calchat/pkg/notify"
	"github.com/rubiojr/calchat/pkg/realtime"
	"github.com/rubiojr/calchat/pkg/storage"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Session   bool      `json:"session"`
}

// StartSessionRequest accepts the user id as a JSON number or string.
type StartSessionRequest struct {
	UserID json.RawMessage `json:"user_id"`
}

type NotificationsResponse struct {
	Notifications []storage.NotificationRecord `json:"notifications"`
	Count         int                          `json:"count"`
}

// Frame types sent over the WebSockets.
const (
	FrameOpen         = "open"
	FrameMessage      = "message"
	FrameReady        = "ready"
	FrameNotification = "notification"
)

// ConversationFrame is sent on /api/conversations/{id}/ws.
type ConversationFrame struct {
	Type         string                 `json:"type"`
	Conversation string                 `json:"conversation,omitempty"`
	Message      *realtime.InboundEvent `json:"message,omitempty"`
}

// NotificationFrame is sent on /api/notifications/ws.
type NotificationFrame struct {
	Type         string               `json:"type"`
	Notification *notify.Notification `json:"notification,omitempty"`
}
