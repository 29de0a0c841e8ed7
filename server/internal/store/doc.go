// Package store holds the bounded, ordered event store.
//
// A Backend is the abstract key-value service underneath: one ordered index
// of record ids and one keyed map from id to record, kept id-set-consistent
// by every write. The index is newest-first: Push adds at index 0 and
// TrimOldest removes from the tail. Backends live in this package (Memory)
// and in the sqlite and redis subpackages.
//
// Store wraps a Backend with a single RWMutex. Writes (Insert, Mutate,
// RemoveOldest, Clear, Update) are serialized against each other; reads see
// the state entirely before or after any write. Backend failures other than
// ErrNotFound surface wrapped in ErrUnavailable.
package store
