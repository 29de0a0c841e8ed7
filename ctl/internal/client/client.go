package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/queuefeed/queuefeed/pkg/types"
)

const defaultTimeout = 10 * time.Second

// ErrRejected is returned when the server answers a write with success=false.
var ErrRejected = errors.New("client: rejected by server")

// Result mirrors the server's write response.
type Result struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Client talks to one queuefeed-server.
type Client struct {
	base string
	http *http.Client

	// stream has no timeout; Tail connections stay open.
	stream *http.Client
}

// New returns a Client for the server at base, e.g. http://localhost:8080.
func New(base string) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: invalid server url %q", base)
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
		stream: &http.Client{},
	}, nil
}

// Send posts a raw webhook body.
func (c *Client) Send(ctx context.Context, body []byte) error {
	return c.write(ctx, "/webhook", body)
}

// Click increments the click count of id.
func (c *Client) Click(ctx context.Context, id string) error {
	return c.write(ctx, "/click/"+url.PathEscape(id), nil)
}

// Data returns every retained record, newest first.
func (c *Client) Data(ctx context.Context) ([]types.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/data", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var recs []types.Record
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return recs, nil
}

func (c *Client) write(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if !res.Success {
		return fmt.Errorf("%w: %s (HTTP %d)", ErrRejected, res.Reason, resp.StatusCode)
	}
	return nil
}
