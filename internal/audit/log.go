package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"rmcerp.io/internal/auth"
	"rmcerp.io/internal/ids"
)

// Logger writes audit entries for data mutations and sign-ins.
type Logger struct {
	log zerolog.Logger
}

// New returns an audit logger writing through log.
func New(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Str("type", "audit").Logger()}
}

// LogEvent writes an audit entry enriched with the request id and the
// authenticated user found in ctx. A nil Logger discards entries.
func (l *Logger) LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if l == nil {
		return nil
	}
	e := l.log.Info().Str("event", event)
	if rid := ids.RequestIDFromContext(ctx); rid != "" {
		e = e.Str("request_id", rid)
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		e = e.Int64("user_id", p.ID).Str("username", p.Username)
	}
	if len(fields) > 0 {
		e = e.Interface("fields", fields)
	} else {
		e = e.Dict("fields", zerolog.Dict())
	}
	e.Msg("audit")
	return nil
}
