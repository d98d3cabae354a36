// Package api is the local HTTP surface of a running calchat session.
//
// UI shells drive the realtime coordinator through it: they start and end
// the session, hold a WebSocket per open conversation view, and listen for
// notifications on the background surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/notify"
	"github.com/rubiojr/calchat/pkg/realtime"
	"github.com/rubiojr/calchat/pkg/storage"
)

// Coordinator is the part of realtime.Coordinator the API drives.
type Coordinator interface {
	InitSession(ctx context.Context, identity any) error
	TeardownSession()
	OpenConversation(ctx context.Context, conversation any, cb realtime.Callback) (uint64, error)
	CloseConversation()
	CloseConversationIf(owner uint64) bool
	Status() realtime.Status
}

// NotificationLog lists shown notifications.
type NotificationLog interface {
	RecentNotifications(limit int) ([]storage.NotificationRecord, error)
}

type Options struct {
	Coordinator Coordinator
	// Hub receives the background surface listeners. Optional.
	Hub *notify.Hub
	// Notifications backs GET /api/notifications. Optional.
	Notifications NotificationLog
	// Metrics is served on /metrics. Optional.
	Metrics http.Handler
}

type Server struct {
	coordinator   Coordinator
	hub           *notify.Hub
	notifications NotificationLog
	metrics       http.Handler
	log           *log.Logger
}

func NewServer(opts Options) *Server {
	return &Server{
		coordinator:   opts.Coordinator,
		hub:           opts.Hub,
		notifications: opts.Notifications,
		metrics:       opts.Metrics,
		log:           log.ForService("api"),
	}
}

// Handler returns the routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return CorsMiddleware(mux)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
