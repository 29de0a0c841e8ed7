package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/normalize"
	"github.com/queuefeed/queuefeed/server/internal/store"
)

// MaxBodyBytes caps the size of a request body.
const MaxBodyBytes = 1 << 20

// Ingester is the write side of the feed.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) (types.Record, error)
	Click(ctx context.Context, id string) (types.Record, error)
}

// Deps are the collaborators the HTTP surface is built from. Every handler
// field may be nil, in which case the route is not mounted.
type Deps struct {
	Ingester Ingester
	Store    *store.Store

	// Subscribers reports the number of live stream connections.
	Subscribers func() int

	SSE     http.Handler
	WS      http.Handler
	Metrics http.Handler

	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins []string
}

// Handler routes the queuefeed endpoints.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates the router and wraps it in the request-id, logging and CORS
// middleware.
func New(deps Deps) http.Handler {
	if deps.Subscribers == nil {
		deps.Subscribers = func() int { return 0 }
	}
	h := &Handler{deps: deps, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /webhook", h.webhook)
	h.mux.HandleFunc("POST /click/{id}", h.click)
	h.mux.HandleFunc("POST /click/{rest...}", h.clickUnknown)
	h.mux.HandleFunc("GET /data", h.data)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	if deps.Metrics != nil {
		h.mux.Handle("GET /metrics", deps.Metrics)
	}
	if deps.SSE != nil {
		h.mux.Handle("GET /sse", deps.SSE)
	}
	if deps.WS != nil {
		h.mux.Handle("GET /ws", deps.WS)
	}

	return requestIDMiddleware(loggingMiddleware(corsMiddleware(deps.CORSOrigins, h)))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// webhook handles POST /webhook.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, http.StatusRequestEntityTooLarge, ReasonTooLarge)
			return
		}
		fail(w, http.StatusBadRequest, ReasonInvalidData)
		return
	}

	if _, err := h.deps.Ingester.Ingest(r.Context(), body); err != nil {
		h.writeErr(w, r, "webhook", err)
		return
	}
	jsonResp(w, http.StatusOK, Result{Success: true})
}

// click handles POST /click/{id}.
func (h *Handler) click(w http.ResponseWriter, r *http.Request) {
	if _, err := h.deps.Ingester.Click(r.Context(), r.PathValue("id")); err != nil {
		h.writeErr(w, r, "click", err)
		return
	}
	jsonResp(w, http.StatusOK, Result{Success: true})
}

// clickUnknown answers click paths that cannot name a record, such as an
// empty id or one containing an unescaped slash.
func (h *Handler) clickUnknown(w http.ResponseWriter, r *http.Request) {
	fail(w, http.StatusNotFound, ReasonNotFound)
}

// data handles GET /data.
func (h *Handler) data(w http.ResponseWriter, r *http.Request) {
	recs, err := h.deps.Store.All(r.Context())
	if err != nil {
		h.writeErr(w, r, "data", err)
		return
	}
	jsonResp(w, http.StatusOK, recs)
}

// healthz handles GET /healthz.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	n, err := 0, h.deps.Store.Ping(r.Context())
	if err == nil {
		n, err = h.deps.Store.Count(r.Context())
	}
	if err != nil {
		slog.Warn("api: health check failed", "err", err)
		jsonResp(w, http.StatusServiceUnavailable, HealthResponse{
			Status:      "unavailable",
			Subscribers: h.deps.Subscribers(),
		})
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Records:     n,
		Subscribers: h.deps.Subscribers(),
	})
}

// --- helpers ----------------------------------------------------------------

// writeErr maps a domain error to a status code and reason.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, route string, err error) {
	switch {
	case errors.Is(err, normalize.ErrInvalidPayload):
		slog.Debug("api: rejected payload", "route", route, "err", err)
		fail(w, http.StatusBadRequest, ReasonInvalidData)
	case errors.Is(err, store.ErrNotFound):
		fail(w, http.StatusNotFound, ReasonNotFound)
	case errors.Is(err, store.ErrUnavailable):
		slog.Error("api: store unavailable", "route", route, "err", err,
			"request_id", RequestID(r.Context()))
		fail(w, http.StatusServiceUnavailable, ReasonStoreUnavailable)
	default:
		slog.Error("api: request failed", "route", route, "err", err,
			"request_id", RequestID(r.Context()))
		fail(w, http.StatusInternalServerError, ReasonInternal)
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func fail(w http.ResponseWriter, code int, reason string) {
	jsonResp(w, code, Result{Success: false, Reason: reason})
}
