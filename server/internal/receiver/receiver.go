package receiver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/metrics"
	"github.com/queuefeed/queuefeed/server/internal/store"
)

// Normalizer converts a raw webhook body into a Record.
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte) (types.Record, error)
}

// Publisher delivers a named event to live subscribers.
type Publisher interface {
	Publish(name string, payload any) error
}

// Forwarder receives every accepted record for outbound delivery.
type Forwarder interface {
	Enqueue(rec types.Record)
}

// Receiver wires normalization, storage and broadcast together.
type Receiver struct {
	norm     Normalizer
	store    *store.Store
	pub      Publisher
	fwd      Forwarder
	counters *metrics.Counters
}

// New creates a Receiver. fwd and counters may be nil.
func New(norm Normalizer, st *store.Store, pub Publisher, fwd Forwarder, counters *metrics.Counters) *Receiver {
	return &Receiver{norm: norm, store: st, pub: pub, fwd: fwd, counters: counters}
}

// Ingest accepts one webhook body and returns the stored record.
func (r *Receiver) Ingest(ctx context.Context, raw []byte) (types.Record, error) {
	rec, err := r.norm.Normalize(ctx, raw)
	if err != nil {
		r.counters.Rejected()
		return types.Record{}, err
	}

	if err := r.store.Insert(ctx, rec, r.publishNewData); err != nil {
		return types.Record{}, fmt.Errorf("receiver: insert %s: %w", rec.ID, err)
	}
	r.counters.Ingested()

	if r.fwd != nil {
		r.fwd.Enqueue(rec)
	}

	slog.Debug("receiver: record stored",
		"id", rec.ID,
		"source_name", rec.SourceName,
		"link", rec.Link,
	)
	return rec, nil
}

// Click increments the click count of the record with id.
func (r *Receiver) Click(ctx context.Context, id string) (types.Record, error) {
	rec, err := r.store.Mutate(ctx, id, func(rec *types.Record) {
		rec.ClickCount++
	}, r.publishClick)
	if err != nil {
		return types.Record{}, fmt.Errorf("receiver: click %s: %w", id, err)
	}
	r.counters.Clicked()

	slog.Debug("receiver: click recorded", "id", id, "click_count", rec.ClickCount)
	return rec, nil
}

// publishNewData and publishClick run as store commit hooks, so subscribers
// receive events in the order the writes were committed.
func (r *Receiver) publishNewData(rec types.Record) {
	if err := r.pub.Publish(types.EventNewData, rec); err != nil {
		slog.Error("receiver: publish new_data failed", "id", rec.ID, "err", err)
	}
}

func (r *Receiver) publishClick(rec types.Record) {
	if err := r.pub.Publish(types.EventClickUpdate, types.ClickEnvelope{Success: true, Data: rec}); err != nil {
		slog.Error("receiver: publish click_update failed", "id", rec.ID, "err", err)
	}
}
