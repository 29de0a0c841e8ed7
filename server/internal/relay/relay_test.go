package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/config"
)

type capture struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, b)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *capture) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.bodies)
		out := append([][]byte(nil), c.bodies...)
		c.mu.Unlock()
		if got >= n {
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("deliveries: got %d, want %d", got, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func runRelay(t *testing.T, r *Relay) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

var sample = types.Record{ID: "r1", SourceName: "OW", Link: "https://example.com/q", Timestamp: 1}

func TestTargets_SkipsUnsetURL(t *testing.T) {
	t.Setenv("RELAY_SET", "http://hook")
	got := Targets([]config.TargetConfig{
		{Type: "slack", URLEnv: "RELAY_SET"},
		{Type: "discord", URLEnv: "RELAY_UNSET_FOR_TEST"},
	})
	if len(got) != 1 || got[0].URL != "http://hook" {
		t.Errorf("Targets: got %+v", got)
	}
}

func TestRelay_DeliversToEveryTarget(t *testing.T) {
	var discord, slack, plain capture
	dSrv := httptest.NewServer(discord.handler(http.StatusNoContent))
	sSrv := httptest.NewServer(slack.handler(http.StatusOK))
	hSrv := httptest.NewServer(plain.handler(http.StatusOK))
	t.Cleanup(func() { dSrv.Close(); sSrv.Close(); hSrv.Close() })

	r := New([]Target{
		{Type: "discord", URL: dSrv.URL},
		{Type: "slack", URL: sSrv.URL},
		{Type: "http", URL: hSrv.URL},
	})
	runRelay(t, r)
	r.Enqueue(sample)

	var d map[string]string
	json.Unmarshal(discord.wait(t, 1)[0], &d) //nolint:errcheck
	if d["content"] != "[OW] queue passed: https://example.com/q" {
		t.Errorf("discord content: got %q", d["content"])
	}

	var s map[string]string
	json.Unmarshal(slack.wait(t, 1)[0], &s) //nolint:errcheck
	if s["text"] == "" {
		t.Error("slack text: empty")
	}

	var h struct {
		Record types.Record `json:"record"`
	}
	json.Unmarshal(plain.wait(t, 1)[0], &h) //nolint:errcheck
	if h.Record != sample {
		t.Errorf("http record: got %+v, want %+v", h.Record, sample)
	}
}

func TestRelay_FailureIsCounted(t *testing.T) {
	var c capture
	srv := httptest.NewServer(c.handler(http.StatusInternalServerError))
	t.Cleanup(srv.Close)

	r := New([]Target{{Type: "http", URL: srv.URL}})
	runRelay(t, r)
	r.Enqueue(sample)
	c.wait(t, 1)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, failed, _ := r.Stats(); failed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("failed counter not incremented")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelay_FullQueueDrops(t *testing.T) {
	r := New([]Target{{Type: "http", URL: "http://127.0.0.1:1"}})
	// Run is not started, so nothing drains the queue.
	for i := 0; i < QueueSize+3; i++ {
		r.Enqueue(sample)
	}
	if _, _, dropped := r.Stats(); dropped != 3 {
		t.Errorf("dropped: got %d, want 3", dropped)
	}
}

func TestRelay_NilAndEmptyAreNoops(t *testing.T) {
	var nilRelay *Relay
	nilRelay.Enqueue(sample)
	if nilRelay.Enabled() {
		t.Error("nil relay: Enabled true")
	}

	r := New(nil)
	r.Enqueue(sample)
	if len(r.queue) != 0 {
		t.Errorf("empty relay queued %d records", len(r.queue))
	}
}
