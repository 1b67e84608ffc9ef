package media

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vango-go/voicebridge/pkg/core"
)

const (
	DefaultTokenTTL = 2 * time.Minute
	tokenIssuer     = "voicebridge"
	tokenAudience   = "media-stream"
)

// StreamClaims bind a media stream to the session the webhook created.
type StreamClaims struct {
	SessionID string `json:"sid"`
	CallID    string `json:"call"`
	jwt.RegisteredClaims
}

// StreamTokens mints and verifies the token carried as a <Parameter> on the
// <Stream> noun. A zero Secret disables verification.
type StreamTokens struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (s StreamTokens) Enabled() bool { return len(s.Secret) > 0 }

func (s StreamTokens) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Mint returns a signed token for sessionID/callID. With no secret it
// returns an empty string.
func (s StreamTokens) Mint(sessionID, callID string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.now()
	claims := StreamClaims{
		SessionID: sessionID,
		CallID:    callID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

// Verify checks the token and that it was minted for callID.
func (s StreamTokens) Verify(token, callID string) (*StreamClaims, error) {
	if !s.Enabled() {
		return &StreamClaims{CallID: callID}, nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, core.NewAuthenticationError("media stream token is missing")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	claims := &StreamClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.NewAuthenticationError("media stream token expired")
		}
		return nil, core.NewAuthenticationError("media stream token is invalid")
	}
	if callID != "" && claims.CallID != callID {
		return nil, core.NewAuthenticationError("media stream token was issued for another call")
	}
	return claims, nil
}
