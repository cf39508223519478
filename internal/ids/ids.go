package ids

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// MaxRequestIDLen bounds inbound X-Request-ID values that are echoed back.
const MaxRequestIDLen = 64

type requestIDKey struct{}

// New returns a lexicographically sortable identifier.
func New() string {
	return ulid.Make().String()
}

// WithRequestID attaches the request identifier to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the identifier attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Sanitize accepts a caller-supplied request id when it is short and
// printable, and mints a fresh one otherwise.
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxRequestIDLen {
		return New()
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return New()
		}
	}
	return id
}
