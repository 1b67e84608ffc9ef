package media

import (
	"testing"
	"time"

	"github.com/vango-go/voicebridge/pkg/core"
)

func TestStreamTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tokens := StreamTokens{Secret: []byte("s3cret"), TTL: time.Minute, Now: func() time.Time { return now }}

	tok, err := tokens.Mint("sess_1", "CA1")
	if err != nil || tok == "" {
		t.Fatalf("Mint tok=%q err=%v", tok, err)
	}
	claims, err := tokens.Verify(tok, "CA1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SessionID != "sess_1" {
		t.Fatalf("session=%q", claims.SessionID)
	}

	if _, err := tokens.Verify(tok, "CA2"); !core.IsType(err, core.ErrAuthentication) {
		t.Fatalf("other call err=%v", err)
	}
	if _, err := tokens.Verify("", "CA1"); !core.IsType(err, core.ErrAuthentication) {
		t.Fatalf("empty err=%v", err)
	}

	other := StreamTokens{Secret: []byte("other"), Now: tokens.Now}
	if _, err := other.Verify(tok, "CA1"); !core.IsType(err, core.ErrAuthentication) {
		t.Fatalf("wrong secret err=%v", err)
	}

	later := StreamTokens{Secret: tokens.Secret, Now: func() time.Time { return now.Add(2 * time.Minute) }}
	_, err = later.Verify(tok, "CA1")
	if ce, ok := core.AsError(err); !ok || ce.Message != "media stream token expired" {
		t.Fatalf("expired err=%v", err)
	}
}

func TestStreamTokensDisabled(t *testing.T) {
	var tokens StreamTokens
	tok, err := tokens.Mint("sess_1", "CA1")
	if err != nil || tok != "" {
		t.Fatalf("Mint tok=%q err=%v", tok, err)
	}
	if _, err := tokens.Verify("", "CA1"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}
