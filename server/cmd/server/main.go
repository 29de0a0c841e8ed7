package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/queuefeed/queuefeed/server/internal/api"
	"github.com/queuefeed/queuefeed/server/internal/config"
	"github.com/queuefeed/queuefeed/server/internal/hub"
	"github.com/queuefeed/queuefeed/server/internal/metrics"
	"github.com/queuefeed/queuefeed/server/internal/normalize"
	"github.com/queuefeed/queuefeed/server/internal/receiver"
	"github.com/queuefeed/queuefeed/server/internal/relay"
	"github.com/queuefeed/queuefeed/server/internal/retention"
	"github.com/queuefeed/queuefeed/server/internal/store"
	"github.com/queuefeed/queuefeed/server/internal/store/redisstore"
	"github.com/queuefeed/queuefeed/server/internal/store/sqlite"
	"github.com/queuefeed/queuefeed/server/internal/stream"
)

func main() {
	configPath := flag.String("config", "", "path to config file; empty runs on defaults")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("queuefeed-server starting", "config", *configPath)

	cfg := config.Defaults()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}
	level.Set(cfg.Log.SlogLevel())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"backend", cfg.Store.Backend,
		"max_count", cfg.Retention.MaxCount,
		"max_age", cfg.Retention.MaxAge,
		"keepalive", cfg.Stream.Keepalive,
		"relay_targets", len(cfg.Relay.Targets),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := openBackend(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	st := store.New(backend)

	// Backends that persist records also take the TKT ledger.
	var ledger normalize.Ledger = normalize.LogLedger{}
	if l, ok := backend.(normalize.Ledger); ok {
		ledger = l
	}

	counters := metrics.NewCounters()
	h := hub.New(cfg.Stream.Buffer)
	fwd := relay.New(relay.Targets(cfg.Relay.Targets))
	rcv := receiver.New(normalize.New(ledger), st, h, fwd, counters)
	policy := retention.New(st, h, retention.Limits{
		MaxCount: cfg.Retention.MaxCount,
		MaxAge:   cfg.Retention.MaxAge,
	}, counters)

	handler := api.New(api.Deps{
		Ingester:    rcv,
		Store:       st,
		Subscribers: h.Count,
		SSE:         stream.NewSSE(h, cfg.Stream.Keepalive),
		WS:          stream.NewWS(h, cfg.Stream.Keepalive),
		Metrics:     metrics.Handler(counters, sampler(st, h, fwd)),
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	httpSrv := newHTTPServer(fmt.Sprintf(":%d", cfg.Server.HTTPPort), handler, h)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		policy.Run(gctx, cfg.Retention.CleanupInterval)
		return nil
	})

	g.Go(func() error {
		fwd.Run(gctx)
		return nil
	})

	if *configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, *configPath, func(next *config.Config) {
				r := next.Reloadable()
				level.Set(r.Log.SlogLevel())
				policy.SetLimits(retention.Limits{
					MaxCount: r.Retention.MaxCount,
					MaxAge:   r.Retention.MaxAge,
				})
			})
			if err != nil {
				slog.Warn("config: watch disabled", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("queuefeed-server shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped", "err", err)
	}
	if err := st.Close(); err != nil {
		slog.Error("failed to close store", "err", err)
	}
}

// newHTTPServer builds the HTTP server. The hub is closed once Shutdown has
// stopped the listeners, which ends every open stream so Shutdown does not
// wait on them.
func newHTTPServer(addr string, handler http.Handler, h *hub.Hub) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(h.Close)
	return srv
}

// sampler reads the values other components own for each metrics scrape.
func sampler(st *store.Store, h *hub.Hub, fwd *relay.Relay) func() metrics.Gauges {
	return func() metrics.Gauges {
		n, err := st.Count(context.Background())
		if err != nil {
			slog.Warn("metrics: record count unavailable", "err", err)
		}
		delivered, failed, dropped := fwd.Stats()
		return metrics.Gauges{
			Records:            n,
			Subscribers:        h.Count(),
			SubscribersDropped: h.Dropped(),
			RelayDelivered:     delivered,
			RelayFailed:        failed,
			RelayDropped:       dropped,
		}
	}
}

// openBackend opens the configured store backend.
func openBackend(ctx context.Context, cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.New(ctx, cfg.SQLitePath)
	case "redis":
		url := cfg.Redis.URL()
		if url == "" {
			return nil, fmt.Errorf("redis url not set: export %s or set store.redis.addr", cfg.Redis.URLEnv)
		}
		return redisstore.New(ctx, url)
	default:
		return store.NewMemory(), nil
	}
}
