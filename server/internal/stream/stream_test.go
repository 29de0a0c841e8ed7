package stream_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/hub"
	"github.com/queuefeed/queuefeed/server/internal/stream"
)

// --- helpers ----------------------------------------------------------------

type sseEvent struct {
	name string
	data string
}

// sseReader parses "event:"/"data:" blocks from a response body.
type sseReader struct {
	sc *bufio.Scanner
}

func (r *sseReader) next(t *testing.T) sseEvent {
	t.Helper()
	var e sseEvent
	for r.sc.Scan() {
		line := r.sc.Text()
		switch {
		case line == "":
			if e.name != "" {
				return e
			}
		case strings.HasPrefix(line, "event: "):
			e.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			e.data = strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended: %v", r.sc.Err())
	return e
}

func openSSE(t *testing.T, h *hub.Hub, keepalive time.Duration) (*sseReader, context.CancelFunc) {
	t.Helper()
	srv := httptest.NewServer(stream.NewSSE(h, keepalive))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type: got %q, want text/event-stream", ct)
	}
	return &sseReader{sc: bufio.NewScanner(resp.Body)}, cancel
}

func waitCount(t *testing.T, h *hub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("hub.Count: got %d, want %d", h.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- SSE --------------------------------------------------------------------

func TestSSE_ConnectedThenEvents(t *testing.T) {
	h := hub.New(8)
	r, _ := openSSE(t, h, time.Minute)

	first := r.next(t)
	if first.name != types.EventConnected {
		t.Fatalf("first event: got %q, want connected", first.name)
	}
	var c stream.Connected
	if err := json.Unmarshal([]byte(first.data), &c); err != nil || !c.Success {
		t.Errorf("connected data: got %q (%v)", first.data, err)
	}

	rec := types.Record{ID: "a", SourceName: "OW", Link: "https://x", Timestamp: 1}
	if err := h.Publish(types.EventNewData, rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	e := r.next(t)
	if e.name != types.EventNewData {
		t.Fatalf("event: got %q, want new_data", e.name)
	}
	var got types.Record
	if err := json.Unmarshal([]byte(e.data), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != rec {
		t.Errorf("record: got %+v, want %+v", got, rec)
	}
}

func TestSSE_Keepalive(t *testing.T) {
	h := hub.New(8)
	r, _ := openSSE(t, h, 20*time.Millisecond)
	r.next(t) // connected

	e := r.next(t)
	if e.name != types.EventKeepalive || e.data != types.KeepaliveData {
		t.Errorf("got %+v, want keepalive/ping", e)
	}
}

func TestSSE_ClientAbortUnsubscribes(t *testing.T) {
	h := hub.New(8)
	r, cancel := openSSE(t, h, time.Minute)
	r.next(t)
	waitCount(t, h, 1)

	cancel()
	waitCount(t, h, 0)
}

func TestSSE_HubCloseEndsStream(t *testing.T) {
	h := hub.New(8)
	r, _ := openSSE(t, h, time.Minute)
	r.next(t)

	h.Close()
	for r.sc.Scan() {
		// drain until the server ends the response
	}
	waitCount(t, h, 0)
}

// --- WebSocket --------------------------------------------------------------

func dialWS(t *testing.T, h *hub.Hub, keepalive time.Duration) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(stream.NewWS(h, keepalive))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) stream.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f stream.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return f
}

func TestWS_ConnectedThenEvents(t *testing.T) {
	h := hub.New(8)
	conn := dialWS(t, h, time.Minute)

	if f := readFrame(t, conn); f.Event != types.EventConnected {
		t.Fatalf("first frame: got %q, want connected", f.Event)
	}
	waitCount(t, h, 1)

	env := types.ClickEnvelope{Success: true, Data: types.Record{ID: "a", ClickCount: 3}}
	if err := h.Publish(types.EventClickUpdate, env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	f := readFrame(t, conn)
	if f.Event != types.EventClickUpdate {
		t.Fatalf("event: got %q, want click_update", f.Event)
	}
	var got types.ClickEnvelope
	if err := json.Unmarshal(f.Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != env {
		t.Errorf("data: got %+v, want %+v", got, env)
	}
}

func TestWS_Keepalive(t *testing.T) {
	h := hub.New(8)
	conn := dialWS(t, h, 20*time.Millisecond)
	readFrame(t, conn)

	f := readFrame(t, conn)
	var s string
	if err := json.Unmarshal(f.Data, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Event != types.EventKeepalive || s != types.KeepaliveData {
		t.Errorf("got %s/%s, want keepalive/ping", f.Event, s)
	}
}

func TestWS_DisconnectUnsubscribes(t *testing.T) {
	h := hub.New(8)
	conn := dialWS(t, h, time.Minute)
	readFrame(t, conn)
	waitCount(t, h, 1)

	conn.Close()
	waitCount(t, h, 0)
}

func TestWS_HubCloseSendsCloseFrame(t *testing.T) {
	h := hub.New(8)
	conn := dialWS(t, h, time.Minute)
	readFrame(t, conn)
	waitCount(t, h, 1)

	h.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage: expected error after hub close")
	}
}
