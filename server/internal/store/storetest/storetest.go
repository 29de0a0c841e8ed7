// Package storetest is a conformance suite shared by every store.Backend
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/store"
)

// Rec builds a record with the given id and timestamp.
func Rec(id string, ts int64) types.Record {
	return types.Record{ID: id, SourceName: "OW", Link: "https://q.example/" + id, Timestamp: ts}
}

// Run exercises the Backend contract. newBackend must return an empty backend;
// Run closes it when the subtest ends.
func Run(t *testing.T, newBackend func(t *testing.T) store.Backend) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, b store.Backend)
	}{
		{"Empty", testEmpty},
		{"PushAndListNewestFirst", testPushOrder},
		{"GetMissing", testGetMissing},
		{"SetKeepsPosition", testSetKeepsPosition},
		{"SetMissing", testSetMissing},
		{"DuplicatePushOverwrites", testDuplicatePush},
		{"OldestIsTail", testOldest},
		{"TrimOldest", testTrimOldest},
		{"TrimMoreThanLen", testTrimMoreThanLen},
		{"Clear", testClear},
		{"IndexAndMapAgree", testIndexAndMapAgree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			t.Cleanup(func() { b.Close() })
			tt.fn(t, b)
		})
	}
}

func pushN(t *testing.T, b store.Backend, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := b.Push(context.Background(), Rec(fmt.Sprintf("r%02d", i), int64(1000+i))); err != nil {
			t.Fatalf("Push r%02d: %v", i, err)
		}
	}
}

func ids(t *testing.T, b store.Backend) []string {
	t.Helper()
	recs, err := b.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func wantIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ids: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids: got %v, want %v", got, want)
		}
	}
}

func wantLen(t *testing.T, b store.Backend, want int) {
	t.Helper()
	n, err := b.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != want {
		t.Fatalf("Len: got %d, want %d", n, want)
	}
}

func testEmpty(t *testing.T, b store.Backend) {
	wantLen(t, b, 0)
	if got := ids(t, b); len(got) != 0 {
		t.Errorf("List on empty backend: got %v", got)
	}
	if _, err := b.Oldest(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Oldest on empty backend: got %v, want ErrNotFound", err)
	}
}

func testPushOrder(t *testing.T, b store.Backend) {
	pushN(t, b, 3)
	wantIDs(t, ids(t, b), "r02", "r01", "r00")
	wantLen(t, b, 3)
}

func testGetMissing(t *testing.T, b store.Backend) {
	if _, err := b.Get(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get missing: got %v, want ErrNotFound", err)
	}
}

func testSetKeepsPosition(t *testing.T, b store.Backend) {
	ctx := context.Background()
	pushN(t, b, 3)

	r := Rec("r00", 1000)
	r.ClickCount = 7
	if err := b.Set(ctx, r); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := b.Get(ctx, "r00")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ClickCount != 7 {
		t.Errorf("ClickCount: got %d, want 7", got.ClickCount)
	}
	wantIDs(t, ids(t, b), "r02", "r01", "r00")
}

func testSetMissing(t *testing.T, b store.Backend) {
	if err := b.Set(context.Background(), Rec("ghost", 1)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Set missing: got %v, want ErrNotFound", err)
	}
	wantLen(t, b, 0)
}

func testDuplicatePush(t *testing.T, b store.Backend) {
	ctx := context.Background()
	pushN(t, b, 3)

	dup := Rec("r00", 5000)
	dup.Link = "https://q.example/replaced"
	if err := b.Push(ctx, dup); err != nil {
		t.Fatalf("Push duplicate: %v", err)
	}
	wantLen(t, b, 3)
	wantIDs(t, ids(t, b), "r00", "r02", "r01")

	got, err := b.Get(ctx, "r00")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Link != "https://q.example/replaced" {
		t.Errorf("Link after duplicate push: got %q", got.Link)
	}
}

func testOldest(t *testing.T, b store.Backend) {
	pushN(t, b, 4)
	got, err := b.Oldest(context.Background())
	if err != nil {
		t.Fatalf("Oldest: %v", err)
	}
	if got.ID != "r00" {
		t.Errorf("Oldest: got %q, want r00", got.ID)
	}
}

func testTrimOldest(t *testing.T, b store.Backend) {
	ctx := context.Background()
	pushN(t, b, 5)

	n, err := b.TrimOldest(ctx, 2)
	if err != nil {
		t.Fatalf("TrimOldest: %v", err)
	}
	if n != 2 {
		t.Errorf("TrimOldest removed %d, want 2", n)
	}
	wantIDs(t, ids(t, b), "r04", "r03", "r02")
	for _, id := range []string{"r00", "r01"} {
		if _, err := b.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get trimmed %s: got %v, want ErrNotFound", id, err)
		}
	}
}

func testTrimMoreThanLen(t *testing.T, b store.Backend) {
	pushN(t, b, 2)
	n, err := b.TrimOldest(context.Background(), 10)
	if err != nil {
		t.Fatalf("TrimOldest: %v", err)
	}
	if n != 2 {
		t.Errorf("TrimOldest removed %d, want 2", n)
	}
	wantLen(t, b, 0)
}

func testClear(t *testing.T, b store.Backend) {
	ctx := context.Background()
	pushN(t, b, 3)
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	wantLen(t, b, 0)
	if _, err := b.Get(ctx, "r01"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after Clear: got %v, want ErrNotFound", err)
	}
	// The backend is usable again after a clear.
	pushN(t, b, 1)
	wantIDs(t, ids(t, b), "r00")
}

func testIndexAndMapAgree(t *testing.T, b store.Backend) {
	ctx := context.Background()
	pushN(t, b, 8)
	if _, err := b.TrimOldest(ctx, 3); err != nil {
		t.Fatalf("TrimOldest: %v", err)
	}
	if err := b.Push(ctx, Rec("r05", 9999)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	listed := ids(t, b)
	wantLen(t, b, len(listed))
	for _, id := range listed {
		if _, err := b.Get(ctx, id); err != nil {
			t.Errorf("Get %s listed in index: %v", id, err)
		}
	}
	for _, id := range []string{"r00", "r01", "r02"} {
		if _, err := b.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get %s absent from index: got %v, want ErrNotFound", id, err)
		}
	}
}
