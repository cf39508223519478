package httpapi

import (
	"context"

	"rmcerp.io/internal/auth"
)

// Authenticator validates the credentials carried by request headers.
type Authenticator interface {
	ValidateHeaders(headers map[string]string) (auth.Principal, error)
}

// TokenIssuer is the part of the authenticator used by the auth endpoints.
type TokenIssuer interface {
	Authenticator
	GenerateToken(p auth.Principal) (string, error)
}

// authenticate validates req and attaches the principal to ctx so audit
// entries carry the acting user.
func authenticate(ctx context.Context, authn Authenticator, req *Request) (context.Context, auth.Principal, error) {
	p, err := authn.ValidateHeaders(req.Headers)
	if err != nil {
		return ctx, auth.Principal{}, err
	}
	return auth.ContextWithPrincipal(ctx, p), p, nil
}
