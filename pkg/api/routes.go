package api

import (
	"net/http"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", s.HandleSessionStatus)
	mux.HandleFunc("POST /api/session", s.HandleSessionStart)
	mux.HandleFunc("DELETE /api/session", s.HandleSessionEnd)
	mux.HandleFunc("GET /api/conversations/{id}/ws", s.HandleConversationWS)
	mux.HandleFunc("DELETE /api/conversations/current", s.HandleConversationClose)
	mux.HandleFunc("GET /api/notifications", s.HandleNotifications)
	mux.HandleFunc("GET /api/notifications/ws", s.HandleNotificationsWS)
	mux.HandleFunc("GET /health", s.HandleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}
