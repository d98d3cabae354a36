package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rubiojr/calchat/pkg/backend"
	"github.com/rubiojr/calchat/pkg/credentials"
	"github.com/rubiojr/calchat/pkg/notify"
	"github.com/rubiojr/calchat/pkg/pusher"
	"github.com/rubiojr/calchat/pkg/realtime"
)

type wireFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// pusherServer is a minimal Pusher Channels endpoint. It accepts private
// subscriptions signed as "app-key:sig-{channel}".
type pusherServer struct {
	*httptest.Server
	mu     sync.Mutex
	ws     *websocket.Conn
	frames chan wireFrame
}

func newPusherServer(t *testing.T) *pusherServer {
	t.Helper()
	ps := &pusherServer{frames: make(chan wireFrame, 64)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.ws = ws
		ps.mu.Unlock()
		ps.send(t, pusher.EventConnectionEstablished, "", map[string]any{"socket_id": "1.2", "activity_timeout": 120})

		for {
			var f wireFrame
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			if f.Event == pusher.EventSubscribe {
				var sd struct {
					Channel string `json:"channel"`
					Auth    string `json:"auth"`
				}
				json.Unmarshal(f.Data, &sd)
				if pusher.IsPrivate(sd.Channel) && sd.Auth != "app-key:sig-"+sd.Channel {
					ps.send(t, pusher.EventError, "", map[string]any{"message": "bad signature", "code": nil})
					continue
				}
				ps.send(t, "pusher_internal:subscription_succeeded", sd.Channel, map[string]any{})
			}
			ps.frames <- f
		}
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pusherServer) send(t *testing.T, event, channel string, data any) {
	t.Helper()
	inner, _ := json.Marshal(data)
	outer, _ := json.Marshal(string(inner))
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.ws == nil {
		t.Fatalf("no client connected")
	}
	if err := ps.ws.WriteJSON(wireFrame{Event: event, Channel: channel, Data: outer}); err != nil {
		t.Logf("server write: %v", err)
	}
}

// expect returns the next subscribe or unsubscribe frame as "event channel".
func (ps *pusherServer) expect(t *testing.T) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-ps.frames:
			var sd struct {
				Channel string `json:"channel"`
			}
			json.Unmarshal(f.Data, &sd)
			switch f.Event {
			case pusher.EventSubscribe:
				return "subscribe " + sd.Channel
			case pusher.EventUnsubscribe:
				return "unsubscribe " + sd.Channel
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a subscription frame")
			return ""
		}
	}
}

func newAuthBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer session-token" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/chat/pusher_auth.php" || r.ParseForm() != nil || r.Form.Get("socket_id") != "1.2" {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"auth": "app-key:sig-" + r.Form.Get("channel_name")})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recordingSurface struct {
	shown chan notify.Notification
}

func (s *recordingSurface) Name() string    { return "recording" }
func (s *recordingSurface) Available() bool { return true }
func (s *recordingSurface) Show(_ context.Context, n notify.Notification) error {
	s.shown <- n
	return nil
}

func TestCoordinatorOverPusher(t *testing.T) {
	ps := newPusherServer(t)
	api := newAuthBackend(t)

	creds := credentials.Static("session-token")
	client := backend.New(backend.Options{BaseURL: api.URL, Credentials: creds})
	surface := &recordingSurface{shown: make(chan notify.Notification, 4)}

	coord := realtime.New(realtime.Options{
		Transport: realtime.PusherDialer{Options: pusher.Options{
			Key:            "app-key",
			Host:           "ws://" + strings.TrimPrefix(ps.URL, "http://"),
			Authorizer:     client.ChannelAuthorizer(""),
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
		}},
		Credentials: creds,
		Dispatcher: realtime.NewDispatcher(realtime.DispatcherOptions{
			Permission: notify.NewGate(notify.PermissionGranted),
			Background: surface,
		}),
	})
	t.Cleanup(coord.TeardownSession)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := coord.InitSession(ctx, 42); err != nil {
		t.Fatalf("InitSession: %v", err)
	}
	if err := coord.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if got := ps.expect(t); got != "subscribe user-42" {
		t.Fatalf("first frame = %q", got)
	}

	ps.send(t, realtime.EventUserMessage, "user-42", map[string]any{
		"sender_id": 99, "conversation_id": 7, "message": "hallo",
	})
	select {
	case n := <-surface.shown:
		if n.Tag != "conversation-7" || n.URL != "/chat/7" || n.Body != "hallo" {
			t.Fatalf("notification = %+v", n)
		}
	case <-ctx.Done():
		t.Fatalf("no notification for the user channel message")
	}

	relayed := make(chan realtime.InboundEvent, 4)
	if _, err := coord.OpenConversation(ctx, "7", func(ev realtime.InboundEvent) { relayed <- ev }); err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	if got := ps.expect(t); got != "subscribe private-conversation-7" {
		t.Fatalf("frame = %q", got)
	}

	// Server echoes for the own message are not relayed.
	ps.send(t, realtime.EventConversationMessage, "private-conversation-7", map[string]any{
		"sender_id": "42", "conversation_id": "7", "message": "mine",
	})
	ps.send(t, realtime.EventConversationMessage, "private-conversation-7", map[string]any{
		"sender_id": "99", "conversation_id": "7", "message": "theirs",
	})
	select {
	case ev := <-relayed:
		if ev.Body != "theirs" {
			t.Fatalf("relayed %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("conversation message not relayed")
	}

	if _, err := coord.OpenConversation(ctx, 8, func(realtime.InboundEvent) {}); err != nil {
		t.Fatalf("OpenConversation(8): %v", err)
	}
	if got := ps.expect(t); got != "unsubscribe private-conversation-7" {
		t.Fatalf("switch started with %q", got)
	}
	if got := ps.expect(t); got != "subscribe private-conversation-8" {
		t.Fatalf("switch continued with %q", got)
	}

	coord.TeardownSession()
	if st := coord.Status(); st.Active {
		t.Fatalf("status after teardown = %+v", st)
	}
	select {
	case ev := <-relayed:
		t.Fatalf("unexpected relay %+v", ev)
	default:
	}
}
