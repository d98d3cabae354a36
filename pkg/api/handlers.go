package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rubiojr/calchat/pkg/realtime"
	"github.com/rubiojr/calchat/pkg/version"
)

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   version.Version,
		Session:   s.coordinator.Status().Active,
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) HandleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	if realtime.IdentityOf(req.UserID).IsZero() {
		s.writeError(w, http.StatusBadRequest, "Invalid body", "user_id is required")
		return
	}

	if err := s.coordinator.InitSession(r.Context(), req.UserID); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) HandleSessionEnd(w http.ResponseWriter, r *http.Request) {
	s.coordinator.TeardownSession()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleConversationClose(w http.ResponseWriter, r *http.Request) {
	s.coordinator.CloseConversation()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		s.writeError(w, http.StatusNotFound, "Not available", "notification log is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.notifications.RecentNotifications(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list notifications", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, NotificationsResponse{Notifications: records, Count: len(records)})
}

// writeSessionError maps coordinator errors to HTTP statuses.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, realtime.ErrUnauthenticated):
		s.writeError(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
	case errors.Is(err, realtime.ErrIdentityMismatch):
		s.writeError(w, http.StatusConflict, "Identity mismatch", err.Error())
	case errors.Is(err, realtime.ErrNoSession):
		s.writeError(w, http.StatusConflict, "No session", err.Error())
	case errors.Is(err, realtime.ErrTransportUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "Transport unavailable", err.Error())
	default:
		s.writeError(w, http.StatusBadRequest, "Request failed", err.Error())
	}
}
