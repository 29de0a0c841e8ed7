// Package relay forwards accepted records to outbound webhook targets.
//
// Enqueue never blocks: records go onto a bounded queue drained by Run,
// which posts each record to every target concurrently. Delivery is best
// effort. Failures are logged and never reach the ingestion path, and a
// record that arrives while the queue is full is dropped with a warning.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/config"
)

// QueueSize is the number of records that can wait for delivery.
const QueueSize = 64

// Target is one resolved outbound webhook.
type Target struct {
	Type string
	URL  string
}

// Targets resolves configured targets, skipping any whose URL variable is unset.
func Targets(cfgs []config.TargetConfig) []Target {
	var out []Target
	for _, c := range cfgs {
		url := c.URL()
		if url == "" {
			slog.Warn("relay: target url not set, skipping", "type", c.Type, "url_env", c.URLEnv)
			continue
		}
		out = append(out, Target{Type: c.Type, URL: url})
	}
	return out
}

// Relay delivers records to a fixed set of targets. A nil *Relay accepts and
// discards every record.
type Relay struct {
	targets []Target
	client  *http.Client
	queue   chan types.Record

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Relay for targets.
func New(targets []Target) *Relay {
	return &Relay{
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
		queue:   make(chan types.Record, QueueSize),
	}
}

// Enabled reports whether any target is configured.
func (r *Relay) Enabled() bool { return r != nil && len(r.targets) > 0 }

// Enqueue schedules rec for delivery.
func (r *Relay) Enqueue(rec types.Record) {
	if !r.Enabled() {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
		slog.Warn("relay: queue full, dropping record", "id", rec.ID)
	}
}

// Run drains the queue until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	if !r.Enabled() {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-r.queue:
			r.deliver(ctx, rec)
		}
	}
}

// Stats returns delivery counters: posts that succeeded, posts that failed
// and records dropped on a full queue.
func (r *Relay) Stats() (delivered, failed, dropped uint64) {
	if r == nil {
		return 0, 0, 0
	}
	return r.delivered.Load(), r.failed.Load(), r.dropped.Load()
}

func (r *Relay) deliver(ctx context.Context, rec types.Record) {
	var g errgroup.Group
	for _, t := range r.targets {
		g.Go(func() error {
			if err := r.send(ctx, t, rec); err != nil {
				r.failed.Add(1)
				slog.Error("relay: delivery failed", "type", t.Type, "id", rec.ID, "err", err)
				return nil
			}
			r.delivered.Add(1)
			slog.Debug("relay: delivered", "type", t.Type, "id", rec.ID)
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

func (r *Relay) send(ctx context.Context, t Target, rec types.Record) error {
	var body []byte
	switch t.Type {
	case "discord":
		body, _ = json.Marshal(map[string]string{"content": message(rec)})
	case "slack":
		body, _ = json.Marshal(map[string]string{"text": message(rec)})
	case "http":
		body, _ = json.Marshal(map[string]any{"record": rec})
	default:
		return fmt.Errorf("unknown target type %q", t.Type)
	}
	return r.post(ctx, t.URL, body)
}

func (r *Relay) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func message(rec types.Record) string {
	if rec.Link == "" {
		return fmt.Sprintf("[%s] queue passed", rec.SourceName)
	}
	return fmt.Sprintf("[%s] queue passed: %s", rec.SourceName, rec.Link)
}
