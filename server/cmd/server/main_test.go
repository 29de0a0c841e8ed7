package main

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/hub"
	"github.com/queuefeed/queuefeed/server/internal/relay"
	"github.com/queuefeed/queuefeed/server/internal/store"
	"github.com/queuefeed/queuefeed/server/internal/stream"
)

func TestHTTPServer_ShutdownEndsOpenStreams(t *testing.T) {
	h := hub.New(16)
	mux := http.NewServeMux()
	mux.Handle("GET /sse", stream.NewSSE(h, time.Minute))
	srv := newHTTPServer("127.0.0.1:0", mux, h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/sse")
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "event: connected") {
		t.Fatalf("first line: got %q (%v)", line, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown with an open stream: %v", err)
	}
	if err := <-served; err != http.ErrServerClosed {
		t.Errorf("Serve: got %v, want ErrServerClosed", err)
	}
	if n := h.Count(); n != 0 {
		t.Errorf("subscribers after shutdown: got %d, want 0", n)
	}
}

func TestSampler_ReportsHubAndRelay(t *testing.T) {
	st := store.New(store.NewMemory())
	st.Insert(context.Background(), types.Record{ID: "a"}) //nolint:errcheck

	h := hub.New(1)
	h.Subscribe()
	h.Publish(types.EventNewData, "x") //nolint:errcheck
	h.Publish(types.EventNewData, "y") //nolint:errcheck // queue full, subscriber dropped

	fwd := relay.New([]relay.Target{{Type: "http", URL: "http://127.0.0.1:1/hook"}})
	for i := 0; i <= relay.QueueSize; i++ {
		fwd.Enqueue(types.Record{ID: "a"})
	}

	g := sampler(st, h, fwd)()
	if g.Records != 1 || g.Subscribers != 0 || g.SubscribersDropped != 1 {
		t.Errorf("hub and store values: got %+v", g)
	}
	if g.RelayDropped != 1 || g.RelayDelivered != 0 || g.RelayFailed != 0 {
		t.Errorf("relay values: got %+v", g)
	}
}
