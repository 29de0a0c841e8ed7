// Command feedctl is an operator CLI for queuefeed-server.
//
//	feedctl [-server URL] send -source sb|ow|tkt -link URL
//	feedctl [-server URL] click ID
//	feedctl [-server URL] data
//	feedctl [-server URL] tail
//	feedctl [-server URL] stats
//
// The server URL defaults to $QUEUEFEED_URL, then http://localhost:8080.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queuefeed/queuefeed/ctl/internal/client"
)

const defaultServer = "http://localhost:8080"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "feedctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("feedctl", flag.ContinueOnError)
	server := fs.String("server", envOr("QUEUEFEED_URL", defaultServer), "queuefeed-server base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("missing command: want send|click|data|tail|stats")
	}

	c, err := client.New(*server)
	if err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "send":
		return send(ctx, c, rest, out)
	case "click":
		if len(rest) != 1 {
			return fmt.Errorf("usage: feedctl click ID")
		}
		if err := c.Click(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil
	case "data":
		recs, err := c.Data(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	case "tail":
		return c.Tail(ctx, func(e client.Event) error {
			_, err := fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.TimeOnly), e.Name, e.Data)
			return err
		})
	case "stats":
		return stats(ctx, c, out)
	default:
		return fmt.Errorf("unknown command %q: want send|click|data|tail|stats", cmd)
	}
}

func send(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	source := fs.String("source", "ow", "payload shape: sb|ow|tkt")
	link := fs.String("link", "", "link carried by the payload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	body, err := client.Payload(*source, *link)
	if err != nil {
		return err
	}
	if err := c.Send(ctx, body); err != nil {
		return err
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func stats(ctx context.Context, c *client.Client, out io.Writer) error {
	list, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	for _, s := range list {
		fmt.Fprintf(out, "%-36s %-8s %g\n", s.Name, s.Type, s.Value)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
