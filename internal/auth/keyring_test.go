package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/VictoryV20/SecureChain/internal/ledger"
)

func TestKeyringResolve(t *testing.T) {
	keyring := NewKeyring(map[string]ledger.Identity{
		"key-acme":   "acme",
		"key-globex": "globex",
		"":           "ignored",
	})
	if keyring.Open() {
		t.Fatalf("keyring with keys must not be open")
	}

	id, err := keyring.Resolve("key-acme")
	if err != nil || id != "acme" {
		t.Fatalf("unexpected resolution: %s %v", id, err)
	}
	if _, err := keyring.Resolve("bogus"); err == nil {
		t.Fatalf("unknown key must fail")
	}
}

func TestResolveRequestWithKeys(t *testing.T) {
	keyring := NewKeyring(map[string]ledger.Identity{"key-acme": "acme"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "key-acme")
	id, err := keyring.ResolveRequest(req)
	if err != nil || id != "acme" {
		t.Fatalf("unexpected resolution via header: %s %v", id, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer key-acme")
	id, err = keyring.ResolveRequest(req)
	if err != nil || id != "acme" {
		t.Fatalf("unexpected resolution via bearer: %s %v", id, err)
	}

	// Caller hints are not trusted once keys are configured.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Caller-ID", "acme")
	if _, err := keyring.ResolveRequest(req); err == nil {
		t.Fatalf("caller header must not bypass configured keys")
	}
}

func TestResolveRequestOpenMode(t *testing.T) {
	keyring := NewKeyring(nil)
	if !keyring.Open() {
		t.Fatalf("empty keyring must run in open mode")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Caller-ID", "acme")
	id, err := keyring.ResolveRequest(req)
	if err != nil || id != "acme" {
		t.Fatalf("unexpected open mode resolution: %s %v", id, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := keyring.ResolveRequest(req); err == nil {
		t.Fatalf("missing caller header must fail")
	}
}

func TestMiddleware(t *testing.T) {
	keyring := NewKeyring(map[string]ledger.Identity{"key-acme": "acme"})

	var captured ledger.Identity
	handler := keyring.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "key-acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
	if captured != "acme" {
		t.Fatalf("expected caller acme in context, got %s", captured)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", rec.Code)
	}
}

func TestCallerContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := CallerFromContext(req.Context()); ok {
		t.Fatalf("fresh context must carry no caller")
	}

	ctx := WithCaller(req.Context(), "acme")
	id, ok := CallerFromContext(ctx)
	if !ok || id != "acme" {
		t.Fatalf("unexpected caller: %s %v", id, ok)
	}

	// Empty identities are never stored.
	if _, ok := CallerFromContext(WithCaller(req.Context(), "")); ok {
		t.Fatalf("empty identity must not be stored")
	}
}
