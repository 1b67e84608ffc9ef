package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Local keeps rooms in memory and signs grants itself. It serves
// deployments without a media server, where the only legs are the Twilio
// stream and the web speech endpoint.
type Local struct {
	Issuer string
	Secret []byte
	Now    func() time.Time

	mu    sync.Mutex
	rooms map[string]time.Time
}

// VideoClaim mirrors the LiveKit video grant so clients can treat both
// providers alike.
type VideoClaim struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type LocalClaims struct {
	Video VideoClaim `json:"video"`
	jwt.RegisteredClaims
}

func NewLocal(issuer string, secret []byte) *Local {
	return &Local{Issuer: issuer, Secret: secret, rooms: make(map[string]time.Time)}
}

func (l *Local) Name() string { return "local" }

func (l *Local) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Local) CreateRoom(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rooms == nil {
		l.rooms = make(map[string]time.Time)
	}
	if _, ok := l.rooms[name]; !ok {
		l.rooms[name] = l.now()
	}
	return nil
}

func (l *Local) DeleteRoom(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rooms, name)
	return nil
}

// Has reports whether room is open.
func (l *Local) Has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.rooms[name]
	return ok
}

func (l *Local) Mint(room, identity string, ttl time.Duration) (string, error) {
	if len(l.Secret) == 0 {
		return "", errors.New("local rooms: signing secret is not configured")
	}
	now := l.now()
	claims := LocalClaims{
		Video: VideoClaim{Room: room, RoomJoin: true, CanPublish: true, CanSubscribe: true},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    l.Issuer,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.Secret)
}

// Parse verifies a grant minted by Mint.
func (l *Local) Parse(token string) (*LocalClaims, error) {
	claims := &LocalClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return l.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(l.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
