package realtime

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rubiojr/calchat/pkg/log"
	"github.com/rubiojr/calchat/pkg/notify"
)

// Outcome is the result of one dispatch. None of the skip outcomes is an
// error.
type Outcome string

const (
	OutcomeShown             Outcome = "shown"
	OutcomeSkippedOwn        Outcome = "skipped_own"
	OutcomeSkippedOrigin     Outcome = "skipped_conversation_origin"
	OutcomeSkippedPermission Outcome = "skipped_permission"
	OutcomeSkippedNoSurface  Outcome = "skipped_no_surface"
	OutcomeFailed            Outcome = "failed"
)

// NotificationSettings shape the payload of dispatched notifications.
type NotificationSettings struct {
	Icon     string
	Badge    string
	Vibrate  []int
	DeepLink string
	Texts    *notify.Texts
}

type DispatcherOptions struct {
	Permission notify.PermissionSource
	// Background is preferred when available.
	Background notify.Surface
	// Direct is the fallback.
	Direct   notify.Surface
	Settings NotificationSettings
}

// Dispatcher decides whether a classified event becomes a notification and
// shows it on the best available surface.
type Dispatcher struct {
	permission notify.PermissionSource
	background notify.Surface
	direct     notify.Surface
	settings   atomic.Pointer[NotificationSettings]
	log        *log.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		permission: opts.Permission,
		background: opts.Background,
		direct:     opts.Direct,
		log:        log.ForService("realtime").Named("dispatch"),
	}
	if d.permission == nil {
		d.permission = notify.NewGate(notify.PermissionDefault)
	}
	d.SetSettings(opts.Settings)
	return d
}

// SetSettings replaces the payload settings, e.g. after a config reload.
func (d *Dispatcher) SetSettings(s NotificationSettings) {
	if s.Texts == nil {
		s.Texts = notify.NewTexts("")
	}
	d.settings.Store(&s)
}

// Dispatch applies, in order: own events are ignored, conversation-origin
// events are ignored, nothing is shown without permission. Otherwise the
// notification goes to the background surface when available and to the
// direct surface when not. Failures are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev ClassifiedEvent) Outcome {
	if ev.IsOwn {
		return OutcomeSkippedOwn
	}
	if ev.Origin != OriginUser {
		return OutcomeSkippedOrigin
	}
	if p := d.permission.Permission(); p != notify.PermissionGranted {
		d.log.Debugf("notification permission %s, skipping message %s", p, ev.Event.MessageID)
		return OutcomeSkippedPermission
	}

	n := d.Build(ev.Event)

	tried := false
	for _, s := range []notify.Surface{d.background, d.direct} {
		if s == nil || !s.Available() {
			continue
		}
		tried = true
		if err := s.Show(ctx, n); err != nil {
			d.log.Warnf("showing notification %s on %s: %v", n.Tag, s.Name(), err)
			continue
		}
		d.log.Debugf("notification %s shown on %s", n.Tag, s.Name())
		return OutcomeShown
	}
	if !tried {
		d.log.Warnf("no notification surface available for %s", n.Tag)
		return OutcomeSkippedNoSurface
	}
	return OutcomeFailed
}

// Build renders the notification for ev: the title comes from the sender
// name, the body from the message text, the tag is scoped to the
// conversation and the URL deep-links back to it.
func (d *Dispatcher) Build(ev InboundEvent) notify.Notification {
	s := d.settings.Load()
	conv := ev.ConversationID.String()
	return notify.Notification{
		ID:             uuid.NewString(),
		Title:          s.Texts.Title(ev.SenderName),
		Body:           s.Texts.Body(ev.Body),
		Tag:            notify.ConversationTag(conv),
		URL:            notify.DeepLink(s.DeepLink, conv),
		Icon:           s.Icon,
		Badge:          s.Badge,
		Vibrate:        append([]int(nil), s.Vibrate...),
		ConversationID: conv,
		MessageID:      ev.MessageID,
		CreatedAt:      ev.Timestamp,
		Data: map[string]any{
			"conversation_id": conv,
			"sender_id":       ev.SenderID.String(),
			"url":             notify.DeepLink(s.DeepLink, conv),
		},
	}
}
