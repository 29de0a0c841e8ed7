package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Reconnect delays. A retry field sent by the server replaces retryDefault.
const (
	retryDefault = time.Second
	retryCeiling = 30 * time.Second
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// Tail streams /sse and calls fn for every event, keepalives included. When
// the connection drops it reconnects, waiting longer after each attempt that
// fails to reach the stream. Tail returns nil when ctx is cancelled and the
// first error fn returns otherwise.
func (c *Client) Tail(ctx context.Context, fn func(Event) error) error {
	rc := &reconnect{base: retryDefault}
	for {
		connected, err := c.tailOnce(ctx, fn, rc)
		if ctx.Err() != nil {
			return nil
		}
		var cbErr callbackError
		if errors.As(err, &cbErr) {
			return cbErr.err
		}
		if connected {
			rc.attempts = 0
		}
		wait := rc.delay()
		rc.attempts++
		slog.Warn("client: stream lost, reconnecting", "err", err, "wait", wait, "attempt", rc.attempts)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// callbackError marks an error returned by the Tail callback.
type callbackError struct{ err error }

func (e callbackError) Error() string { return e.err.Error() }

// tailOnce runs one SSE connection. connected reports whether the server
// accepted the stream before it ended. A retry field updates rc.base.
func (c *Client) tailOnce(ctx context.Context, fn func(Event) error, rc *reconnect) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/sse", nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return false, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	var ev Event
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Name == "" && ev.Data == "" {
				continue
			}
			if err := fn(ev); err != nil {
				return true, callbackError{err}
			}
			ev = Event{}
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "retry:"):
			if ms, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "retry:"))); err == nil && ms >= 0 {
				rc.base = time.Duration(ms) * time.Millisecond
			}
		case strings.HasPrefix(line, "data:"):
			d := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if ev.Data != "" {
				ev.Data += "\n"
			}
			ev.Data += d
		}
	}
	if err := sc.Err(); err != nil {
		return true, fmt.Errorf("read stream: %w", err)
	}
	return true, errors.New("stream closed by server")
}

// reconnect tracks the wait before the next stream attempt.
type reconnect struct {
	base     time.Duration
	attempts int // since the last accepted stream
}

// delay doubles base once per attempt up to retryCeiling and returns a
// random point in the upper half of the result.
func (r *reconnect) delay() time.Duration {
	d := r.base
	for i := 0; i < r.attempts && d < retryCeiling; i++ {
		d *= 2
	}
	d = min(d, retryCeiling)
	return d/2 + rand.N(d/2+1)
}
