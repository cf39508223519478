package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"rmcerp.io/internal/apperr"
)

// Endpoint is a wrapped handler: it always yields a response.
type Endpoint func(ctx context.Context, req *Request) Response

// Wrap turns fn into an Endpoint. Any failure, including a panic, is logged
// with its stack and rendered through Classify.
func Wrap(log zerolog.Logger, fn HandlerFunc) Endpoint {
	return func(ctx context.Context, req *Request) (resp Response) {
		defer func() {
			if rec := recover(); rec != nil {
				err := apperr.Unclassified(fmt.Errorf("panic: %v", rec))
				resp = failureResponse(log, req, err, string(debug.Stack()))
			}
		}()

		resp, err := fn(ctx, req)
		if err != nil {
			stack := apperr.StackOf(err)
			if stack == "" {
				stack = string(debug.Stack())
			}
			return failureResponse(log, req, err, stack)
		}
		return resp
	}
}

func failureResponse(log zerolog.Logger, req *Request, err error, stack string) Response {
	c := apperr.Classify(err)

	ev := log.Warn()
	if c.Status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	if req != nil {
		ev = ev.Str("request_id", req.ID).Str("method", req.Method).Str("path", req.Path)
	}
	ev.Err(err).
		Str("kind", apperr.KindOf(err).String()).
		Int("status", c.Status).
		Str("stack", stack).
		Msg("request failed")

	return Failure(c.Message, c.Status, c.Details)
}
