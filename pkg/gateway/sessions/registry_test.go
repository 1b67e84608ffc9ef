package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHandle struct {
	mu      sync.Mutex
	reasons []string
}

func (h *fakeHandle) Close(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}

func (h *fakeHandle) closedWith() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reasons...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func buildWith(h Handle) func(context.Context, *Entry) (Handle, error) {
	return func(context.Context, *Entry) (Handle, error) { return h, nil }
}

func TestRegistry_GetOrCreate_IsIdempotentPerCall(t *testing.T) {
	r := NewRegistry(Options{})
	ctx := context.Background()

	e1, created, err := r.GetOrCreate(ctx, Spec{CallID: "CA123", Room: "call-CA123"}, buildWith(&fakeHandle{}))
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	builds := 0
	e2, created, err := r.GetOrCreate(ctx, Spec{CallID: "CA123", Room: "call-CA123"}, func(context.Context, *Entry) (Handle, error) {
		builds++
		return &fakeHandle{}, nil
	})
	if err != nil || created {
		t.Fatalf("second create: created=%v err=%v", created, err)
	}
	if e1.ID != e2.ID || builds != 0 {
		t.Fatalf("second call built a new session: %s vs %s (builds=%d)", e1.ID, e2.ID, builds)
	}
	if r.Count() != 1 {
		t.Fatalf("count=%d, want 1", r.Count())
	}
	if got, ok := r.LookupByCall("CA123"); !ok || got.Room != "call-CA123" {
		t.Fatalf("LookupByCall = %+v, %v", got, ok)
	}
}

func TestRegistry_GetOrCreate_ConcurrentCallersShareOneBuild(t *testing.T) {
	r := NewRegistry(Options{})
	var builds atomic.Int64
	release := make(chan struct{})
	build := func(context.Context, *Entry) (Handle, error) {
		builds.Add(1)
		<-release
		return &fakeHandle{}, nil
	}

	const callers = 8
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, _, err := r.GetOrCreate(context.Background(), Spec{CallID: "CA-race", Room: "call-CA-race"}, build)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			ids <- e.ID
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(ids)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("got two session ids %s and %s", first, id)
		}
	}
	if builds.Load() != 1 {
		t.Fatalf("builds=%d, want 1", builds.Load())
	}
}

func TestRegistry_FailedBuildIsNotVisible(t *testing.T) {
	r := NewRegistry(Options{})
	boom := errors.New("room create failed")
	_, _, err := r.GetOrCreate(context.Background(), Spec{CallID: "CA1"}, func(context.Context, *Entry) (Handle, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
	if _, ok := r.LookupByCall("CA1"); ok {
		t.Fatalf("failed session is still registered")
	}
	if _, created, err := r.GetOrCreate(context.Background(), Spec{CallID: "CA1"}, buildWith(&fakeHandle{})); err != nil || !created {
		t.Fatalf("retry: created=%v err=%v", created, err)
	}
}

func TestRegistry_LookupAfterRemoveIsNotFound(t *testing.T) {
	r := NewRegistry(Options{})
	e, _, _ := r.GetOrCreate(context.Background(), Spec{CallID: "CA1"}, buildWith(&fakeHandle{}))

	if !r.Remove(e.ID) {
		t.Fatalf("Remove returned false")
	}
	if r.Remove(e.ID) {
		t.Fatalf("second Remove returned true")
	}
	if _, ok := r.Lookup(e.ID); ok {
		t.Fatalf("Lookup found removed session")
	}
	if r.Has(e.ID) {
		t.Fatalf("Has reported removed session")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if !r.Wait(ctx) {
		t.Fatalf("Wait did not return after removal")
	}
}

func TestRegistry_Sweep(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r := NewRegistry(Options{IdleTimeout: time.Minute, MaxDuration: 10 * time.Minute, Now: clk.Now})

	idle := &fakeHandle{}
	busy := &fakeHandle{}
	idleEntry, _, _ := r.GetOrCreate(context.Background(), Spec{CallID: "idle"}, buildWith(idle))
	busyEntry, _, _ := r.GetOrCreate(context.Background(), Spec{CallID: "busy"}, buildWith(busy))

	clk.Advance(50 * time.Second)
	r.Touch(busyEntry.ID)
	clk.Advance(20 * time.Second)

	if n := r.Sweep(clk.Now()); n != 1 {
		t.Fatalf("swept=%d, want 1", n)
	}
	if got := idle.closedWith(); len(got) != 1 || got[0] != ReasonIdleTimeout {
		t.Fatalf("idle closed with %v", got)
	}
	if r.Has(idleEntry.ID) || !r.Has(busyEntry.ID) {
		t.Fatalf("wrong session swept")
	}

	for i := 0; i < 12; i++ {
		clk.Advance(50 * time.Second)
		r.Touch(busyEntry.ID)
	}
	if n := r.Sweep(clk.Now()); n != 1 {
		t.Fatalf("swept=%d, want 1", n)
	}
	if got := busy.closedWith(); len(got) != 1 || got[0] != ReasonMaxDuration {
		t.Fatalf("busy closed with %v", got)
	}
}

func TestRegistry_CloseAllAndList(t *testing.T) {
	r := NewRegistry(Options{})
	h1, h2 := &fakeHandle{}, &fakeHandle{}
	r.GetOrCreate(context.Background(), Spec{CallID: "a", Room: "call-a"}, buildWith(h1))
	r.GetOrCreate(context.Background(), Spec{Room: "web-1", Origin: "web"}, buildWith(h2))

	if list := r.List(); len(list) != 2 {
		t.Fatalf("list=%d entries, want 2", len(list))
	}
	if n := r.CloseAll(ReasonShutdown); n != 2 {
		t.Fatalf("closed=%d, want 2", n)
	}
	if len(h1.closedWith()) != 1 || len(h2.closedWith()) != 1 {
		t.Fatalf("handles not closed exactly once")
	}
	if r.Count() != 0 {
		t.Fatalf("count=%d, want 0", r.Count())
	}
}
