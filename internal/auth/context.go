package auth

import (
	"context"

	"github.com/VictoryV20/SecureChain/internal/ledger"
)

// callerKey is the context key type for the authenticated caller identity.
type callerKey struct{}

// WithCaller stores the authenticated participant identity in the context.
func WithCaller(ctx context.Context, id ledger.Identity) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, id)
}

// CallerFromContext extracts the authenticated participant identity.
func CallerFromContext(ctx context.Context) (ledger.Identity, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(callerKey{}).(ledger.Identity)
	return id, ok && id != ""
}
