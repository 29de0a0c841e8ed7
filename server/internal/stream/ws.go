package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/hub"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is the JSON envelope of every WebSocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WS streams hub events over WebSocket.
type WS struct {
	hub       *hub.Hub
	keepalive time.Duration
}

// NewWS returns a WebSocket handler over h.
func NewWS(h *hub.Hub, keepalive time.Duration) *WS {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &WS{hub: h, keepalive: keepalive}
}

// ServeHTTP upgrades the connection and blocks until it closes.
func (s *WS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	log := slog.With("subscriber", sub.ID(), "transport", "ws")
	log.Debug("stream: opened")
	defer log.Debug("stream: closed")

	done := make(chan struct{})
	go func() {
		readPump(conn)
		close(done)
	}()
	s.writePump(conn, sub, done)
	<-done
}

// writePump sends the connected frame, then hub events, keepalive frames and
// ping control frames until the subscription closes, the peer goes away, or
// a write fails. It closes conn on return, which ends readPump.
func (s *WS) writePump(conn *websocket.Conn, sub *hub.Subscription, done <-chan struct{}) {
	keepalive := time.NewTicker(s.keepalive)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		keepalive.Stop()
		ping.Stop()
		conn.Close()
	}()

	hello, _ := json.Marshal(Connected{Success: true, Subscriber: sub.ID()})
	if err := writeFrame(conn, Frame{Event: types.EventConnected, Data: hello}); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return

		case evt, ok := <-sub.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := writeFrame(conn, Frame{Event: evt.Name, Data: evt.Data}); err != nil {
				return
			}

		case <-keepalive.C:
			if err := writeFrame(conn, Frame{Event: types.EventKeepalive, Data: keepaliveData}); err != nil {
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(f)
}

// readPump consumes control frames (pong, close) and returns when the peer
// disconnects. Clients never send data frames.
func readPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
