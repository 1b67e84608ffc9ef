package rooms

import (
	"context"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

type roomService interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
}

// LiveKit allocates rooms on a LiveKit server.
type LiveKit struct {
	APIKey       string
	APISecret    string
	EmptyTimeout time.Duration

	svc roomService
}

func NewLiveKit(url, apiKey, apiSecret string) *LiveKit {
	return &LiveKit{
		APIKey:       apiKey,
		APISecret:    apiSecret,
		EmptyTimeout: DefaultEmptyTimeout,
		svc:          lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
	}
}

func (l *LiveKit) Name() string { return "livekit" }

func (l *LiveKit) CreateRoom(ctx context.Context, name string) error {
	_, err := l.svc.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            name,
		EmptyTimeout:    uint32(l.EmptyTimeout / time.Second),
		MaxParticipants: 2,
	})
	return err
}

func (l *LiveKit) DeleteRoom(ctx context.Context, name string) error {
	_, err := l.svc.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: name})
	return err
}

func (l *LiveKit) Mint(room, identity string, ttl time.Duration) (string, error) {
	grant := &auth.VideoGrant{RoomJoin: true, Room: room}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)

	at := auth.NewAccessToken(l.APIKey, l.APISecret)
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetValidFor(ttl)
	return at.ToJWT()
}
