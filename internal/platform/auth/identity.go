package auth

import (
	"context"
)

// Identity is the caller as the gateway verified it: the operator, lab
// tech or supervisor behind a kiosk session. Backend services never see
// credentials, only this.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

type ctxKeyIdentity struct{}

// ContextWithIdentity attaches the verified identity for handlers that
// stamp actors onto batches, samples and audit rows.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
