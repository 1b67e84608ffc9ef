package audiocache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestCache_RoundTripThenExpires(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := New(30*time.Second, WithClock(clk.Now))

	want := []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0xff}
	e := c.Put(want, "audio/wav")
	want[0] = 0

	clk.t = clk.t.Add(29 * time.Second)
	got, ok := c.Get(e.ID)
	if !ok {
		t.Fatalf("entry missing before ttl")
	}
	if !bytes.Equal(got.Data, []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0xff}) || got.ContentType != "audio/wav" {
		t.Fatalf("got=%v %q", got.Data, got.ContentType)
	}

	clk.t = clk.t.Add(2 * time.Second)
	if _, ok := c.Get(e.ID); ok {
		t.Fatalf("entry still present 31s after put")
	}
}

func TestCache_PurgeRemovesUnreadEntries(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := New(time.Second, WithClock(clk.Now))
	c.Put([]byte("a"), "audio/wav")
	c.Put([]byte("b"), "audio/wav")

	if n := c.Purge(); n != 0 {
		t.Fatalf("purged=%d before ttl", n)
	}
	clk.t = clk.t.Add(time.Second)
	if n := c.Purge(); n != 2 {
		t.Fatalf("purged=%d, want 2", n)
	}
	if c.Len() != 0 {
		t.Fatalf("len=%d, want 0", c.Len())
	}
}

func TestCache_RunEvictsAtExpiry(t *testing.T) {
	c := New(40 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	e := c.Put([]byte("clip"), "audio/wav")
	if _, ok := c.Get(e.ID); !ok {
		t.Fatalf("fresh entry missing")
	}
	deadline := time.Now().Add(time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("len=%d long after ttl, want unread entry evicted", c.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCache_ReadsDoNotExtendLife(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := New(10*time.Second, WithClock(clk.Now))
	e := c.Put([]byte("clip"), "audio/wav")

	for i := 0; i < 3; i++ {
		clk.t = clk.t.Add(3 * time.Second)
		if _, ok := c.Get(e.ID); !ok {
			t.Fatalf("read %d: entry missing before ttl", i)
		}
	}
	clk.t = clk.t.Add(time.Second)
	if _, ok := c.Get(e.ID); ok {
		t.Fatalf("entry outlived its ttl after reads")
	}
}
