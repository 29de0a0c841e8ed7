package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/hub"
)

// DefaultKeepalive is used when a handler is built with a non-positive interval.
const DefaultKeepalive = 10 * time.Second

// Connected is the payload of the event sent when a connection opens.
type Connected struct {
	Success    bool   `json:"success"`
	Subscriber uint64 `json:"subscriber"`
}

// keepaliveData is the JSON-quoted form of types.KeepaliveData used on /ws.
var keepaliveData = json.RawMessage(`"` + types.KeepaliveData + `"`)

// SSE streams hub events as server-sent events.
type SSE struct {
	hub       *hub.Hub
	keepalive time.Duration
}

// NewSSE returns an SSE handler over h.
func NewSSE(h *hub.Hub, keepalive time.Duration) *SSE {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &SSE{hub: h, keepalive: keepalive}
}

func (s *SSE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	log := slog.With("subscriber", sub.ID(), "transport", "sse")
	log.Debug("stream: opened")
	defer log.Debug("stream: closed")

	hello, _ := json.Marshal(Connected{Success: true, Subscriber: sub.ID()})
	if err := writeEvent(w, types.EventConnected, hello); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, evt.Name, evt.Data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if err := writeEvent(w, types.EventKeepalive, []byte(types.KeepaliveData)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one SSE block. The data is compact JSON or the
// keepalive sentinel, neither of which contains a newline.
func writeEvent(w io.Writer, name string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
