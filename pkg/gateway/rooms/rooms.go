// Package rooms allocates media rooms and mints the per-leg access grants
// that let the caller and the agent join them.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultGrantTTL     = 10 * time.Minute
	DefaultEmptyTimeout = 5 * time.Minute

	LegCaller = "caller"
	LegAgent  = "agent"
)

// Provider is a room backend.
type Provider interface {
	Name() string
	CreateRoom(ctx context.Context, name string) error
	DeleteRoom(ctx context.Context, name string) error
	Mint(room, identity string, ttl time.Duration) (string, error)
}

// Grant is a signed, time-limited right to join one room with publish and
// subscribe capability.
type Grant struct {
	Leg       string    `json:"leg"`
	Identity  string    `json:"identity"`
	Room      string    `json:"room"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Allocation is a room plus one grant per leg.
type Allocation struct {
	Room   string `json:"room"`
	Caller Grant  `json:"caller"`
	Agent  Grant  `json:"agent"`
}

type Manager struct {
	Provider Provider
	TTL      time.Duration
	Now      func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Open creates room and mints the caller and agent grants. If minting fails
// the room is deleted again.
func (m *Manager) Open(ctx context.Context, room, callerIdentity, agentIdentity string) (*Allocation, error) {
	if m == nil || m.Provider == nil {
		return nil, errors.New("rooms: no provider configured")
	}
	room = strings.TrimSpace(room)
	if room == "" {
		return nil, errors.New("rooms: empty room name")
	}
	if err := m.Provider.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("rooms: create %s: %w", room, err)
	}

	caller, err := m.grant(room, LegCaller, callerIdentity)
	if err == nil {
		var agent Grant
		agent, err = m.grant(room, LegAgent, agentIdentity)
		if err == nil {
			return &Allocation{Room: room, Caller: caller, Agent: agent}, nil
		}
	}
	_ = m.Provider.DeleteRoom(context.WithoutCancel(ctx), room)
	return nil, err
}

// Close deletes the room.
func (m *Manager) Close(ctx context.Context, room string) error {
	if m == nil || m.Provider == nil || room == "" {
		return nil
	}
	if err := m.Provider.DeleteRoom(ctx, room); err != nil {
		return fmt.Errorf("rooms: delete %s: %w", room, err)
	}
	return nil
}

func (m *Manager) grant(room, leg, identity string) (Grant, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = leg + "-" + room
	}
	ttl := m.TTL
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}
	expires := m.now().Add(ttl)
	token, err := m.Provider.Mint(room, identity, ttl)
	if err != nil {
		return Grant{}, fmt.Errorf("rooms: mint %s grant: %w", leg, err)
	}
	return Grant{Leg: leg, Identity: identity, Room: room, Token: token, ExpiresAt: expires}, nil
}
