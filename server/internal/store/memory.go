package store

import (
	"context"

	"github.com/queuefeed/queuefeed/pkg/types"
)

// Memory is an in-process Backend. The index slice holds ids oldest-first
// internally so that Push is an append; List reverses it on the way out.
// Memory is not safe for concurrent use on its own: Store serializes it.
type Memory struct {
	order []string
	data  map[string]types.Record
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]types.Record)}
}

func (m *Memory) Push(_ context.Context, rec types.Record) error {
	if _, ok := m.data[rec.ID]; ok {
		m.removeFromOrder(rec.ID)
	}
	m.order = append(m.order, rec.ID)
	m.data[rec.ID] = rec
	return nil
}

func (m *Memory) List(_ context.Context) ([]types.Record, error) {
	out := make([]types.Record, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.data[m.order[i]])
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (types.Record, error) {
	rec, ok := m.data[id]
	if !ok {
		return types.Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) Set(_ context.Context, rec types.Record) error {
	if _, ok := m.data[rec.ID]; !ok {
		return ErrNotFound
	}
	m.data[rec.ID] = rec
	return nil
}

func (m *Memory) Oldest(_ context.Context) (types.Record, error) {
	if len(m.order) == 0 {
		return types.Record{}, ErrNotFound
	}
	return m.data[m.order[0]], nil
}

func (m *Memory) TrimOldest(_ context.Context, n int) (int, error) {
	if n > len(m.order) {
		n = len(m.order)
	}
	for _, id := range m.order[:n] {
		delete(m.data, id)
	}
	m.order = append(m.order[:0:0], m.order[n:]...)
	return n, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.order = nil
	m.data = make(map[string]types.Record)
	return nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	return len(m.order), nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) removeFromOrder(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
