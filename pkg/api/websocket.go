package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rubiojr/calchat/pkg/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendQueue  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API listens on loopback for local UI shells.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient is one connected UI shell. Frames are queued on send and written
// by a single writer goroutine.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, sendQueue), done: make(chan struct{})}
}

// queue enqueues v without blocking. It reports false when the client is
// gone or too slow.
func (c *wsClient) queue(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and returns once the peer is gone.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// HandleConversationWS opens the conversation for the lifetime of the socket.
// Every relayed event becomes a message frame. Closing the socket closes the
// conversation unless another view opened one since.
func (s *Server) HandleConversationWS(w http.ResponseWriter, r *http.Request) {
	id := realtime.IdentityOf(r.PathValue("id"))
	if id.IsZero() {
		s.writeError(w, http.StatusBadRequest, "Invalid path", "conversation id is required")
		return
	}

	// Created before the open so events relayed during the upgrade are
	// queued, not lost.
	client := newWSClient(nil)
	client.queue(ConversationFrame{Type: FrameOpen, Conversation: id.String()})
	owner, err := s.coordinator.OpenConversation(r.Context(), id, func(ev realtime.InboundEvent) {
		if !client.queue(ConversationFrame{Type: FrameMessage, Conversation: id.String(), Message: &ev}) {
			s.log.Warnf("conversation %s: dropping message %s for slow or closed socket", id, ev.MessageID)
		}
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		close(client.done)
		s.coordinator.CloseConversationIf(owner)
		s.log.Warnf("conversation %s: upgrade failed: %v", id, err)
		return
	}
	client.conn = conn
	l := s.log.Named("conversation")
	l.Debugf("socket open for conversation %s (owner %d)", id, owner)

	go client.writePump()
	client.readPump()

	close(client.done)
	if s.coordinator.CloseConversationIf(owner) {
		l.Debugf("socket closed, conversation %s closed", id)
	} else {
		l.Debugf("socket closed, conversation %s already taken over", id)
	}
}

// HandleNotificationsWS registers the socket as a background surface
// listener until it disconnects.
func (s *Server) HandleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, http.StatusNotFound, "Not available", "background notifications are disabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("notifications: upgrade failed: %v", err)
		return
	}
	client := newWSClient(conn)
	id, ch := s.hub.Register()
	l := s.log.Named("notifications")
	l.Debugf("listener %d registered (%d total)", id, s.hub.Size())

	go func() {
		for n := range ch {
			if !client.queue(NotificationFrame{Type: FrameNotification, Notification: &n}) {
				l.Warnf("listener %d: dropping notification %s", id, n.Tag)
			}
		}
	}()

	client.queue(NotificationFrame{Type: FrameReady})
	go client.writePump()
	client.readPump()

	s.hub.Unregister(id)
	close(client.done)
	l.Debugf("listener %d gone", id)
}
