// Package notify models user-facing notifications and the surfaces that
// display them.
//
// A surface is either background-capable (the Hub, which hands notifications
// to connected UI shells the way a service worker would) or direct (the
// Terminal). Surfaces report availability so callers can prefer one and fall
// back to the other.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"
)

// ErrUnavailable is returned by a surface that cannot show anything now.
var ErrUnavailable = errors.New("notification surface unavailable")

type Notification struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	Tag            string         `json:"tag"`
	URL            string         `json:"url"`
	Icon           string         `json:"icon,omitempty"`
	Badge          string         `json:"badge,omitempty"`
	Vibrate        []int          `json:"vibrate,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Data           map[string]any `json:"data,omitempty"`
}

// Surface displays notifications.
type Surface interface {
	Name() string
	Available() bool
	Show(ctx context.Context, n Notification) error
}

// ConversationTag is the tag shared by every notification of a
// conversation, so a newer one replaces the older on screen.
func ConversationTag(conversationID string) string {
	return "conversation-" + conversationID
}

// DeepLink expands the {conversation} placeholder of pattern.
func DeepLink(pattern, conversationID string) string {
	if pattern == "" {
		pattern = "/chat/{conversation}"
	}
	return strings.ReplaceAll(pattern, "{conversation}", conversationID)
}

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// PermissionSource reports the current notification permission.
type PermissionSource interface {
	Permission() Permission
}

// Gate holds the notification permission. It can be changed at runtime,
// e.g. on config reload.
type Gate struct {
	v atomic.Value
}

func NewGate(p Permission) *Gate {
	g := &Gate{}
	g.Set(p)
	return g
}

func (g *Gate) Permission() Permission {
	p, _ := g.v.Load().(Permission)
	if p == "" {
		return PermissionDefault
	}
	return p
}

func (g *Gate) Set(p Permission) {
	g.v.Store(p)
}
