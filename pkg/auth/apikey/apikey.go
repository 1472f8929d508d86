// Package apikey authenticates static API keys sent as a bearer token or
// in the X-API-Key header. Keys are kept only as SHA-256 hashes and
// compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"slices"

	"github.com/rhuss/tensorgate/pkg/auth"
)

// HeaderName is the alternative header carrying a raw key.
const HeaderName = "X-API-Key"

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

type keyEntry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates keys against a static key store.
type Authenticator struct {
	keys []keyEntry
}

// New creates an authenticator. Keys are hashed immediately.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{keys: make([]keyEntry, 0, len(entries))}
	for _, e := range entries {
		a.keys = append(a.keys, keyEntry{
			hash:     sha256.Sum256([]byte(e.Key)),
			identity: e.Identity,
		})
	}
	return a
}

// Authenticate abstains when no key is presented, and otherwise reports Yes
// for a known key and No for anything else.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	key, ok := auth.BearerToken(r)
	if !ok {
		key = r.Header.Get(HeaderName)
		if key == "" {
			return auth.AuthResult{Decision: auth.Abstain}
		}
	}
	if key == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	hash := sha256.Sum256([]byte(key))
	for _, entry := range a.keys {
		if subtle.ConstantTimeCompare(hash[:], entry.hash[:]) == 1 {
			id := entry.identity
			id.Scopes = slices.Clone(id.Scopes)
			id.Models = slices.Clone(id.Models)
			return auth.AuthResult{Decision: auth.Yes, Identity: &id}
		}
	}
	return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
}
