// Package retention enforces the count and age bounds of the event store.
//
// Every sweep runs inside one store.Update, so the check and the trim or
// clear see the same state and no insert lands in between:
//
//   - empty store: nothing to do
//   - count <= MaxCount: if the oldest record is older than MaxAge the store
//     is cleared and a cleanup event with an empty list is published
//   - count > MaxCount: the count-MaxCount oldest records are removed and a
//     cleanup event with the remaining records is published
//
// The cleanup event is published before the store lock is released, so no
// new_data for a later insert can reach subscribers ahead of it.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/metrics"
	"github.com/queuefeed/queuefeed/server/internal/store"
)

// Publisher delivers a named event to live subscribers.
type Publisher interface {
	Publish(name string, payload any) error
}

// Limits are the retention bounds.
type Limits struct {
	MaxCount int
	MaxAge   time.Duration
}

// Action is what a sweep did to the store.
type Action int

const (
	ActionNone Action = iota
	ActionTrimmed
	ActionCleared
)

func (a Action) String() string {
	switch a {
	case ActionTrimmed:
		return "trimmed"
	case ActionCleared:
		return "cleared"
	default:
		return "none"
	}
}

// Outcome reports the result of one sweep.
type Outcome struct {
	Action  Action
	Removed int
	// Remaining is the snapshot published with the cleanup event.
	Remaining []types.Record
}

// Policy sweeps a store on a timer. It is safe for concurrent use.
type Policy struct {
	store    *store.Store
	pub      Publisher
	counters *metrics.Counters

	mu     sync.RWMutex
	limits Limits

	now func() time.Time // injectable for deterministic tests
}

// New creates a Policy over st that publishes cleanup events to pub.
// counters may be nil.
func New(st *store.Store, pub Publisher, limits Limits, counters *metrics.Counters) *Policy {
	return &Policy{
		store:    st,
		pub:      pub,
		counters: counters,
		limits:   limits,
		now:      time.Now,
	}
}

// Limits returns the bounds currently in force.
func (p *Policy) Limits() Limits {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limits
}

// SetLimits replaces the bounds; the next sweep uses them.
func (p *Policy) SetLimits(l Limits) {
	p.mu.Lock()
	p.limits = l
	p.mu.Unlock()
	slog.Info("retention: limits updated", "max_count", l.MaxCount, "max_age", l.MaxAge)
}

// Sweep runs one eviction cycle.
func (p *Policy) Sweep(ctx context.Context) (Outcome, error) {
	limits := p.Limits()
	now := p.now()

	var out Outcome
	err := p.store.Update(ctx, func(tx store.Tx) error {
		count, err := tx.Len(ctx)
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}

		if count <= limits.MaxCount {
			oldest, err := tx.Oldest(ctx)
			if err != nil {
				return err
			}
			if oldest.Age(now) <= limits.MaxAge {
				return nil
			}
			if err := tx.Clear(ctx); err != nil {
				return err
			}
			out = Outcome{Action: ActionCleared, Removed: count, Remaining: []types.Record{}}
			p.publish(out)
			return nil
		}

		removed, err := tx.TrimOldest(ctx, count-limits.MaxCount)
		if err != nil {
			return err
		}
		remaining, err := tx.List(ctx)
		if err != nil {
			return err
		}
		out = Outcome{Action: ActionTrimmed, Removed: removed, Remaining: remaining}
		p.publish(out)
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	if out.Action != ActionNone {
		p.counters.Evicted(out.Removed)
		slog.Info("retention: swept",
			"action", out.Action.String(),
			"removed", out.Removed,
			"remaining", len(out.Remaining),
		)
	}
	return out, nil
}

// publish sends the cleanup event. It runs inside Store.Update.
func (p *Policy) publish(out Outcome) {
	if err := p.pub.Publish(types.EventCleanup, types.SnapshotEnvelope{
		Success: true,
		Data:    out.Remaining,
	}); err != nil {
		slog.Error("retention: publish cleanup failed", "err", err)
	}
}

// Run sweeps every interval until ctx is cancelled. A failed sweep is logged
// and retried on the next tick.
func (p *Policy) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.Sweep(ctx); err != nil {
				slog.Warn("retention: sweep failed, retrying next tick", "err", err)
			}
		}
	}
}
