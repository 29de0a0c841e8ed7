package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/queuefeed/queuefeed/pkg/types"
)

// Backend is the ordered-list plus keyed-map service a Store runs on.
// Implementations must keep the index and the map id-set-consistent for
// every caller that can observe them, including external readers of a
// shared server.
type Backend interface {
	// Push adds rec at the new end of the index and stores it in the map.
	// A duplicate id overwrites the stored record and moves it to the new end.
	Push(ctx context.Context, rec types.Record) error

	// List returns every record, newest first.
	List(ctx context.Context) ([]types.Record, error)

	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (types.Record, error)

	// Set overwrites the stored record of an existing id without touching
	// its position. It returns ErrNotFound if rec.ID is absent.
	Set(ctx context.Context, rec types.Record) error

	// Oldest returns the record at the old end of the index, or ErrNotFound
	// when the backend is empty.
	Oldest(ctx context.Context) (types.Record, error)

	// TrimOldest removes the n oldest records and returns how many were removed.
	TrimOldest(ctx context.Context, n int) (int, error)

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Len returns the number of records.
	Len(ctx context.Context) (int, error)

	// Close releases the backend's resources.
	Close() error
}

// Tx is the view of the store handed to Update. Every call runs with the
// store's write lock already held.
type Tx interface {
	Len(ctx context.Context) (int, error)
	Oldest(ctx context.Context) (types.Record, error)
	List(ctx context.Context) ([]types.Record, error)
	TrimOldest(ctx context.Context, n int) (int, error)
	Clear(ctx context.Context) error
}

// Store is the event store shared by the HTTP handlers and the retention
// policy. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	backend Backend
}

// New creates a Store on top of b. The Store owns b and closes it on Close.
func New(b Backend) *Store {
	return &Store{backend: b}
}

// Committed is called with the written record after a successful write,
// while the store's write lock is still held. Hooks therefore observe
// writes in commit order. A hook must not block and must not call back
// into the Store.
type Committed func(rec types.Record)

// Insert appends rec at the new end of the store, then runs then in order.
func (s *Store) Insert(ctx context.Context, rec types.Record, then ...Committed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Push(ctx, rec); err != nil {
		return wrap("insert", err)
	}
	for _, fn := range then {
		fn(rec)
	}
	return nil
}

// All returns a snapshot of every record, newest first. An empty store
// returns an empty, non-nil slice.
func (s *Store) All(ctx context.Context) ([]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs, err := s.backend.List(ctx)
	if err != nil {
		return nil, wrap("list", err)
	}
	if recs == nil {
		recs = []types.Record{}
	}
	return recs, nil
}

// Get returns the record for id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.backend.Get(ctx, id)
	return rec, wrap("get", err)
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.backend.Len(ctx)
	return n, wrap("count", err)
}

// Pinger is implemented by backends that can check their server directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping reports whether the backend is reachable. Backends without a Ping of
// their own are checked with Len.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.backend.(Pinger); ok {
		return wrap("ping", p.Ping(ctx))
	}
	_, err := s.backend.Len(ctx)
	return wrap("ping", err)
}

// Mutate applies fn to the stored record for id and persists the result.
// The read-modify-write runs under the write lock, so concurrent mutations
// of the same id never lose an update. fn must not change the record's ID.
// On ErrNotFound nothing is written. then runs only after a successful write.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*types.Record), then ...Committed) (types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.backend.Get(ctx, id)
	if err != nil {
		return types.Record{}, wrap("mutate", err)
	}
	fn(&rec)
	rec.ID = id
	if err := s.backend.Set(ctx, rec); err != nil {
		return types.Record{}, wrap("mutate", err)
	}
	for _, fn := range then {
		fn(rec)
	}
	return rec, nil
}

// RemoveOldest removes the n oldest records and returns how many were removed.
func (s *Store) RemoveOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err := s.backend.TrimOldest(ctx, n)
	return removed, wrap("trim", err)
}

// Clear removes every record.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wrap("clear", s.backend.Clear(ctx))
}

// Update runs fn with the write lock held, so a check-then-act sequence over
// tx cannot interleave with request-driven writes. Anything fn publishes is
// ordered with respect to Insert and Mutate hooks. fn must not call methods
// on s itself.
func (s *Store) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(txView{s.backend})
}

// Close closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

// txView adapts a Backend to Tx with the same error wrapping as Store.
type txView struct{ b Backend }

func (t txView) Len(ctx context.Context) (int, error) {
	n, err := t.b.Len(ctx)
	return n, wrap("count", err)
}

func (t txView) Oldest(ctx context.Context) (types.Record, error) {
	rec, err := t.b.Oldest(ctx)
	return rec, wrap("oldest", err)
}

func (t txView) List(ctx context.Context) ([]types.Record, error) {
	recs, err := t.b.List(ctx)
	if err != nil {
		return nil, wrap("list", err)
	}
	if recs == nil {
		recs = []types.Record{}
	}
	return recs, nil
}

func (t txView) TrimOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	removed, err := t.b.TrimOldest(ctx, n)
	return removed, wrap("trim", err)
}

func (t txView) Clear(ctx context.Context) error {
	return wrap("clear", t.b.Clear(ctx))
}

// wrap passes ErrNotFound through and marks every other error as ErrUnavailable.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
}
