package storage

import (
	"fmt"
	"time"
)

// NotificationRecord is one shown notification.
type NotificationRecord struct {
	ID             string    `json:"id"`
	Tag            string    `json:"tag"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	URL            string    `json:"url"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	Surface        string    `json:"surface"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordNotification logs a shown notification. A record with the same tag
// is replaced, the way a notification with a reused tag replaces the one
// already on screen.
func (s *Store) RecordNotification(r NotificationRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO notifications (id, tag, title, body, url, conversation_id, message_id, surface, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tag) DO UPDATE SET
			id = excluded.id,
			title = excluded.title,
			body = excluded.body,
			url = excluded.url,
			conversation_id = excluded.conversation_id,
			message_id = excluded.message_id,
			surface = excluded.surface,
			created_at = excluded.created_at
	`, r.ID, r.Tag, r.Title, r.Body, r.URL, r.ConversationID, r.MessageID, r.Surface, r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("recording notification %s: %w", r.ID, err)
	}
	return nil
}

// RecentNotifications returns up to limit records, newest first.
func (s *Store) RecentNotifications(limit int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, tag, title, body, url, conversation_id, message_id, surface, created_at
		FROM notifications ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []NotificationRecord
	for rows.Next() {
		var r NotificationRecord
		var created int64
		if err := rows.Scan(&r.ID, &r.Tag, &r.Title, &r.Body, &r.URL, &r.ConversationID, &r.MessageID, &r.Surface, &created); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	return out, rows.Err()
}
