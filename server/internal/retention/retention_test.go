package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/metrics"
	"github.com/queuefeed/queuefeed/server/internal/store"
)

type published struct {
	name string
	data types.SnapshotEnvelope
}

type fakePub struct {
	mu     sync.Mutex
	events []published
}

func (f *fakePub) Publish(name string, payload any) error {
	// Round-trip through JSON to check what subscribers would see.
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var env types.SnapshotEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append(f.events, published{name: name, data: env})
	f.mu.Unlock()
	return nil
}

var base = time.UnixMilli(1_700_000_000_000)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newPolicy(t *testing.T, recs ...types.Record) (*Policy, *store.Store, *fakePub) {
	t.Helper()
	st := store.New(store.NewMemory())
	for _, r := range recs {
		if err := st.Insert(context.Background(), r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	pub := &fakePub{}
	p := New(st, pub, Limits{MaxCount: 30, MaxAge: 10 * time.Minute}, metrics.NewCounters())
	p.now = fixedClock(base)
	return p, st, pub
}

func rec(i int, ts time.Time) types.Record {
	return types.Record{ID: fmt.Sprintf("r%02d", i), SourceName: "OW", Timestamp: ts.UnixMilli()}
}

func TestSweep_EmptyIsNoop(t *testing.T) {
	p, _, pub := newPolicy(t)
	out, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if out.Action != ActionNone || len(pub.events) != 0 {
		t.Errorf("got %v with %d events, want none", out.Action, len(pub.events))
	}
}

func TestSweep_FreshUnderCapIsNoop(t *testing.T) {
	p, st, pub := newPolicy(t, rec(0, base.Add(-9*time.Minute)), rec(1, base))
	out, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if out.Action != ActionNone {
		t.Errorf("Action: got %v, want none", out.Action)
	}
	if n, _ := st.Count(context.Background()); n != 2 {
		t.Errorf("Count: got %d, want 2", n)
	}
	if len(pub.events) != 0 {
		t.Errorf("events: got %d, want 0", len(pub.events))
	}
}

func TestSweep_AgeExactlyMaxIsKept(t *testing.T) {
	p, st, _ := newPolicy(t, rec(0, base.Add(-10*time.Minute)))
	if _, err := p.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n, _ := st.Count(context.Background()); n != 1 {
		t.Errorf("Count: got %d, want 1", n)
	}
}

func TestSweep_SingleStaleRecordClearsStore(t *testing.T) {
	p, st, pub := newPolicy(t, rec(0, base.Add(-11*time.Minute)))

	out, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if out.Action != ActionCleared {
		t.Errorf("Action: got %v, want cleared", out.Action)
	}
	if n, _ := st.Count(context.Background()); n != 0 {
		t.Errorf("Count: got %d, want 0", n)
	}
	if len(pub.events) != 1 {
		t.Fatalf("events: got %d, want 1", len(pub.events))
	}
	e := pub.events[0]
	if e.name != types.EventCleanup || !e.data.Success || e.data.Data == nil || len(e.data.Data) != 0 {
		t.Errorf("cleanup event: got %+v, want success with empty data", e)
	}
}

func TestSweep_StaleTailFlushesFreshRecordsToo(t *testing.T) {
	p, st, _ := newPolicy(t,
		rec(0, base.Add(-30*time.Minute)),
		rec(1, base.Add(-time.Minute)),
		rec(2, base),
	)
	out, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if out.Action != ActionCleared || out.Removed != 3 {
		t.Errorf("got %v removed %d, want cleared removed 3", out.Action, out.Removed)
	}
	if n, _ := st.Count(context.Background()); n != 0 {
		t.Errorf("Count: got %d, want 0", n)
	}
}

func TestSweep_OverCapTrimsToNewest(t *testing.T) {
	var recs []types.Record
	for i := 0; i < 35; i++ {
		recs = append(recs, rec(i, base.Add(time.Duration(i)*time.Millisecond)))
	}
	p, st, pub := newPolicy(t, recs...)

	out, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if out.Action != ActionTrimmed || out.Removed != 5 {
		t.Errorf("got %v removed %d, want trimmed removed 5", out.Action, out.Removed)
	}

	all, _ := st.All(context.Background())
	if len(all) != 30 {
		t.Fatalf("len: got %d, want 30", len(all))
	}
	for i, r := range all {
		if want := fmt.Sprintf("r%02d", 34-i); r.ID != want {
			t.Errorf("all[%d]: got %s, want %s", i, r.ID, want)
		}
	}

	if len(pub.events) != 1 {
		t.Fatalf("events: got %d, want 1", len(pub.events))
	}
	if got := pub.events[0].data.Data; len(got) != 30 || got[0].ID != "r34" {
		t.Errorf("cleanup data: got %d records, first %+v", len(got), got)
	}
}

func TestSweep_OverCapIgnoresAge(t *testing.T) {
	var recs []types.Record
	for i := 0; i < 32; i++ {
		recs = append(recs, rec(i, base.Add(-time.Hour)))
	}
	p, st, _ := newPolicy(t, recs...)
	if _, err := p.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n, _ := st.Count(context.Background()); n != 30 {
		t.Errorf("Count: got %d, want 30", n)
	}
}

func TestSweep_CountNeverExceedsMax(t *testing.T) {
	p, st, _ := newPolicy(t)
	ctx := context.Background()
	for round := 0; round < 5; round++ {
		for i := 0; i < 17; i++ {
			st.Insert(ctx, rec(round*100+i, base)) //nolint:errcheck
		}
		if _, err := p.Sweep(ctx); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if n, _ := st.Count(ctx); n > 30 {
			t.Fatalf("round %d: Count %d exceeds 30", round, n)
		}
	}
}

func TestSetLimits_AppliesToNextSweep(t *testing.T) {
	var recs []types.Record
	for i := 0; i < 10; i++ {
		recs = append(recs, rec(i, base))
	}
	p, st, _ := newPolicy(t, recs...)
	p.SetLimits(Limits{MaxCount: 4, MaxAge: time.Minute})
	if got := p.Limits().MaxCount; got != 4 {
		t.Errorf("Limits().MaxCount: got %d, want 4", got)
	}
	if _, err := p.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n, _ := st.Count(context.Background()); n != 4 {
		t.Errorf("Count: got %d, want 4", n)
	}
}

type downBackend struct{ store.Memory }

func (downBackend) Len(context.Context) (int, error) { return 0, errors.New("dial tcp: refused") }

func TestSweep_StoreUnavailableReturnsError(t *testing.T) {
	pub := &fakePub{}
	p := New(store.New(&downBackend{}), pub, Limits{MaxCount: 30, MaxAge: time.Minute}, nil)
	_, err := p.Sweep(context.Background())
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Sweep: got %v, want ErrUnavailable", err)
	}
	if len(pub.events) != 0 {
		t.Errorf("events: got %d, want 0", len(pub.events))
	}
}

func TestRun_SweepsOnTick(t *testing.T) {
	p, st, _ := newPolicy(t, rec(0, base.Add(-time.Hour)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := st.Count(context.Background()); n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("store not cleared by Run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
