package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultIdleTimeout   = 2 * time.Minute
	DefaultMaxDuration   = 30 * time.Minute
	DefaultSweepInterval = 15 * time.Second

	ReasonHangup      = "hangup"
	ReasonIdleTimeout = "idle_timeout"
	ReasonMaxDuration = "max_duration"
	ReasonShutdown    = "shutdown"
)

// Handle is whatever owns a session's lifecycle. Close must be idempotent and
// must not block on the caller's goroutine for longer than teardown takes.
type Handle interface {
	Close(reason string)
}

// Spec describes the session to create.
type Spec struct {
	CallID string
	Room   string
	Origin string
}

// Entry is the registry's view of one session. Entries become visible to
// Lookup only after their Handle has been built.
type Entry struct {
	ID        string
	CallID    string
	Room      string
	Origin    string
	CreatedAt time.Time

	ready        chan struct{}
	err          error
	handle       Handle
	lastActivity atomic.Int64
	doneOnce     sync.Once
}

// Handle returns the session owner.
func (e *Entry) Handle() Handle {
	if e == nil {
		return nil
	}
	return e.handle
}

// LastActivity reports the last time the session was touched.
func (e *Entry) LastActivity() time.Time {
	return time.Unix(0, e.lastActivity.Load())
}

func (e *Entry) isReady() bool {
	select {
	case <-e.ready:
		return e.err == nil
	default:
		return false
	}
}

// Info is a point-in-time copy of an entry, safe to serialize.
type Info struct {
	ID           string    `json:"id"`
	CallID       string    `json:"call_id,omitempty"`
	Room         string    `json:"room"`
	Origin       string    `json:"origin,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

type Options struct {
	IdleTimeout   time.Duration
	MaxDuration   time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Registry is the process-wide table of active call sessions.
type Registry struct {
	opts Options

	mu     sync.Mutex
	byID   map[string]*Entry
	byCall map[string]*Entry
	wg     sync.WaitGroup
}

func NewRegistry(opts Options) *Registry {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		opts:   opts,
		byID:   make(map[string]*Entry),
		byCall: make(map[string]*Entry),
	}
}

var ErrClosed = errors.New("session closed before it was ready")

// GetOrCreate returns the live session for spec.CallID, or creates one and
// runs build to attach its Handle. Concurrent calls for the same call id share
// one build: the losers wait for it and get created=false. A failed build
// removes the entry and is reported to every waiter.
func (r *Registry) GetOrCreate(ctx context.Context, spec Spec, build func(ctx context.Context, e *Entry) (Handle, error)) (e *Entry, created bool, err error) {
	callID := strings.TrimSpace(spec.CallID)

	r.mu.Lock()
	if callID != "" {
		if existing := r.byCall[callID]; existing != nil {
			r.mu.Unlock()
			return r.await(ctx, existing)
		}
	}
	now := r.opts.Now()
	e = &Entry{
		ID:        uuid.NewString(),
		CallID:    callID,
		Room:      spec.Room,
		Origin:    spec.Origin,
		CreatedAt: now,
		ready:     make(chan struct{}),
	}
	e.lastActivity.Store(now.UnixNano())
	r.byID[e.ID] = e
	if callID != "" {
		r.byCall[callID] = e
	}
	r.wg.Add(1)
	r.mu.Unlock()

	h, buildErr := build(ctx, e)
	if buildErr == nil && h == nil {
		buildErr = ErrClosed
	}
	e.handle = h
	e.err = buildErr
	close(e.ready)

	if buildErr != nil {
		r.Remove(e.ID)
		return nil, false, buildErr
	}
	return e, true, nil
}

func (r *Registry) await(ctx context.Context, e *Entry) (*Entry, bool, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if e.err != nil {
		return nil, false, e.err
	}
	if _, ok := r.Lookup(e.ID); !ok {
		return nil, false, ErrClosed
	}
	return e, false, nil
}

// Lookup returns the ready entry for a session id. An entry that was removed,
// or whose build is still running, is reported as not found.
func (r *Registry) Lookup(id string) (*Entry, bool) {
	r.mu.Lock()
	e := r.byID[id]
	r.mu.Unlock()
	if e == nil || !e.isReady() {
		return nil, false
	}
	return e, true
}

// LookupByCall returns the ready entry for a provider call id.
func (r *Registry) LookupByCall(callID string) (*Entry, bool) {
	r.mu.Lock()
	e := r.byCall[strings.TrimSpace(callID)]
	r.mu.Unlock()
	if e == nil || !e.isReady() {
		return nil, false
	}
	return e, true
}

// Has reports whether id is still registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// List returns the ready entries ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.byID))
	for _, e := range r.byID {
		if !e.isReady() {
			continue
		}
		out = append(out, Info{
			ID:           e.ID,
			CallID:       e.CallID,
			Room:         e.Room,
			Origin:       e.Origin,
			CreatedAt:    e.CreatedAt,
			LastActivity: e.LastActivity(),
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.byID {
		if e.isReady() {
			n++
		}
	}
	return n
}

// Touch records activity on a session.
func (r *Registry) Touch(id string) {
	if e, ok := r.Lookup(id); ok {
		e.lastActivity.Store(r.opts.Now().UnixNano())
	}
}

// Remove drops a session from every index. It does not close the handle;
// owners call it from their own teardown.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e := r.byID[id]
	if e == nil {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	if e.CallID != "" && r.byCall[e.CallID] == e {
		delete(r.byCall, e.CallID)
	}
	r.mu.Unlock()

	e.doneOnce.Do(r.wg.Done)
	return true
}

// Close removes the session and closes its handle with reason.
func (r *Registry) Close(id, reason string) bool {
	e, ok := r.Lookup(id)
	if !ok {
		return false
	}
	if !r.Remove(id) {
		return false
	}
	if h := e.Handle(); h != nil {
		h.Close(reason)
	}
	return true
}

// Sweep closes sessions that have been idle longer than the idle timeout or
// alive longer than the max duration. It returns how many were closed.
func (r *Registry) Sweep(now time.Time) int {
	type victim struct {
		id     string
		reason string
	}
	var victims []victim

	r.mu.Lock()
	for id, e := range r.byID {
		if !e.isReady() {
			continue
		}
		switch {
		case now.Sub(e.CreatedAt) > r.opts.MaxDuration:
			victims = append(victims, victim{id: id, reason: ReasonMaxDuration})
		case now.Sub(e.LastActivity()) > r.opts.IdleTimeout:
			victims = append(victims, victim{id: id, reason: ReasonIdleTimeout})
		}
	}
	r.mu.Unlock()

	closed := 0
	for _, v := range victims {
		if r.Close(v.id, v.reason) {
			r.opts.Logger.Info("session swept", "session_id", v.id, "reason", v.reason)
			closed++
		}
	}
	return closed
}

// Run sweeps on the configured interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.opts.Now())
		}
	}
}

// CloseAll closes every ready session with reason.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	closed := 0
	for _, id := range ids {
		if r.Close(id, reason) {
			closed++
		}
	}
	return closed
}

// Wait blocks until every registered session has been removed or ctx ends.
func (r *Registry) Wait(ctx context.Context) bool {
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
