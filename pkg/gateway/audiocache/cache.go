// Package audiocache holds synthesized speech for a short, fixed time so a
// client can fetch it by id.
package audiocache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

const DefaultTTL = 30 * time.Second

// Entry is one cached payload.
type Entry struct {
	ID          string
	Data        []byte
	ContentType string
	ExpiresAt   time.Time
}

// Cache keeps entries for a fixed TTL after Put whether or not they were
// read. Reads never extend an entry's life.
type Cache struct {
	ttl   time.Duration
	now   func() time.Time
	items *ttlcache.Cache[string, Entry]
}

type Option func(*Cache)

// WithClock sets the clock Get and Purge judge expiry against.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl: ttl,
		now: time.Now,
		items: ttlcache.New[string, Entry](
			ttlcache.WithTTL[string, Entry](ttl),
			ttlcache.WithDisableTouchOnHit[string, Entry](),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores a copy of data and returns its id.
func (c *Cache) Put(data []byte, contentType string) Entry {
	e := Entry{
		ID:          uuid.NewString(),
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		ExpiresAt:   c.now().Add(c.ttl),
	}
	c.items.Set(e.ID, e, ttlcache.DefaultTTL)
	return e
}

// Get returns the entry if it has not expired.
func (c *Cache) Get(id string) (Entry, bool) {
	item := c.items.Get(id)
	if item == nil {
		return Entry{}, false
	}
	e := item.Value()
	if !c.now().Before(e.ExpiresAt) {
		c.items.Delete(id)
		return Entry{}, false
	}
	return e, true
}

func (c *Cache) Len() int {
	return c.items.Len()
}

// Purge drops every expired entry and reports how many were removed.
func (c *Cache) Purge() int {
	now := c.now()
	n := 0
	for _, id := range c.items.Keys() {
		item := c.items.Get(id)
		if item != nil && now.Before(item.Value().ExpiresAt) {
			continue
		}
		c.items.Delete(id)
		n++
	}
	return n
}

// Run evicts entries as they expire until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.items.Stop()
	}()
	c.items.Start()
}
