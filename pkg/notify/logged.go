package notify

import (
	"context"

	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/storage"
)

// Recorder persists shown notifications.
type Recorder interface {
	RecordNotification(storage.NotificationRecord) error
}

type logged struct {
	Surface
	rec Recorder
	log *log.Logger
}

// Logged wraps s so every notification it shows is recorded. Recording
// failures are logged and do not fail Show.
func Logged(s Surface, rec Recorder) Surface {
	return &logged{Surface: s, rec: rec, log: log.ForService("notify")}
}

func (l *logged) Show(ctx context.Context, n Notification) error {
	if err := l.Surface.Show(ctx, n); err != nil {
		return err
	}
	err := l.rec.RecordNotification(storage.NotificationRecord{
		ID:             n.ID,
		Tag:            n.Tag,
		Title:          n.Title,
		Body:           n.Body,
		URL:            n.URL,
		ConversationID: n.ConversationID,
		MessageID:      n.MessageID,
		Surface:        l.Surface.Name(),
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		l.log.Warnf("recording notification %s: %v", n.ID, err)
	}
	return nil
}
