// Package auth identifies callers of the /v1 web API by bearer API key.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// Principal is an authenticated caller.
type Principal struct {
	APIKey string
}

// KeyID is a short, non-reversible name for the caller's key. Logs and
// default user ids carry it instead of the key.
func (p *Principal) KeyID() string {
	if p == nil || p.APIKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(p.APIKey))
	return hex.EncodeToString(sum[:4])
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// Keyring is the fixed set of accepted API keys.
type Keyring struct {
	keys [][]byte
}

func NewKeyring(keys map[string]struct{}) *Keyring {
	k := &Keyring{keys: make([][]byte, 0, len(keys))}
	for key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			k.keys = append(k.keys, []byte(key))
		}
	}
	return k
}

func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.keys)
}

// Lookup compares token against every key in constant time.
func (k *Keyring) Lookup(token string) (*Principal, bool) {
	if k == nil || token == "" {
		return nil, false
	}
	candidate := []byte(token)
	found := 0
	for _, key := range k.keys {
		found |= subtle.ConstantTimeCompare(key, candidate)
	}
	if found == 0 {
		return nil, false
	}
	return &Principal{APIKey: token}, true
}

// ParseBearer extracts the token from an Authorization header. The scheme
// name is case-insensitive.
func ParseBearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
