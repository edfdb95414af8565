package auth

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/VictoryV20/SecureChain/internal/ledger"
)

// Common errors returned by caller resolution.
var (
	ErrMissingCredentials = errors.New("missing caller credentials")
	ErrUnknownKey         = errors.New("unknown api key")
)

// Keyring maps static API keys to participant identities. How callers are
// actually authenticated is a host concern; the engine only ever sees the
// resolved opaque identity. An empty keyring runs in open mode and trusts
// the X-Caller-ID header, which is intended for development setups.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ledger.Identity
}

// NewKeyring builds a keyring from key/identity pairs.
func NewKeyring(entries map[string]ledger.Identity) *Keyring {
	keys := make(map[string]ledger.Identity, len(entries))
	for key, id := range entries {
		key = strings.TrimSpace(key)
		if key == "" || id == "" {
			continue
		}
		keys[key] = id
	}
	return &Keyring{keys: keys}
}

// Open reports whether the keyring has no keys configured.
func (k *Keyring) Open() bool {
	if k == nil {
		return true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) == 0
}

// Resolve maps an API key to a participant identity.
func (k *Keyring) Resolve(key string) (ledger.Identity, error) {
	if k == nil {
		return "", ErrUnknownKey
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if id, ok := k.keys[strings.TrimSpace(key)]; ok {
		return id, nil
	}
	return "", ErrUnknownKey
}

// ResolveRequest extracts the caller identity from an HTTP request, either
// via a configured API key or, in open mode, the X-Caller-ID header.
func (k *Keyring) ResolveRequest(r *http.Request) (ledger.Identity, error) {
	if k.Open() {
		if caller := strings.TrimSpace(r.Header.Get("X-Caller-ID")); caller != "" {
			return ledger.Identity(caller), nil
		}
		return "", ErrMissingCredentials
	}
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			key = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	if key == "" {
		return "", ErrMissingCredentials
	}
	return k.Resolve(key)
}

// Middleware resolves the caller identity and injects it into the request
// context, rejecting requests it cannot resolve.
func (k *Keyring) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := k.ResolveRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}
