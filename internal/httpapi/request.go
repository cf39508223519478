package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"rmcerp.io/internal/apperr"
	"rmcerp.io/internal/ids"
)

// Request is the inbound event handed to endpoint functions. Multi-valued
// headers and query parameters keep their first value.
type Request struct {
	ID         string
	Method     string
	Path       string
	Headers    map[string]string
	PathParams map[string]string
	Query      map[string]string
	Body       []byte
}

// HandlerFunc is an endpoint body. Errors are classified by Wrap.
type HandlerFunc func(ctx context.Context, req *Request) (Response, error)

// newRequest builds the event from an HTTP request routed by chi.
func newRequest(r *http.Request) (*Request, error) {
	req := &Request{
		ID:         ids.RequestIDFromContext(r.Context()),
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    make(map[string]string, len(r.Header)),
		PathParams: map[string]string{},
		Query:      map[string]string{},
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			req.Headers[k] = v[0]
		}
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			req.Query[k] = v[0]
		}
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" || i >= len(rctx.URLParams.Values) {
				continue
			}
			req.PathParams[key] = rctx.URLParams.Values[i]
		}
	}
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return req, apperr.WithStatus(http.StatusRequestEntityTooLarge, "Request body too large", err)
			}
			return req, apperr.Validation("Request body could not be read")
		}
		req.Body = body
	}
	return req, nil
}

// pathID returns the positive integer id path parameter.
func (r *Request) pathID() (int64, error) {
	raw := strings.TrimSpace(r.PathParams["id"])
	if raw == "" {
		return 0, apperr.Validation("id is required", apperr.FieldError{Field: "id", Message: "is required"})
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("id must be a positive integer", apperr.FieldError{Field: "id", Message: "must be a positive integer"})
	}
	return id, nil
}

// queryInt returns the query parameter as a positive int, or def when it is
// absent, non-numeric or below 1.
func (r *Request) queryInt(name string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.Query[name]))
	if err != nil || n < 1 {
		return def
	}
	return n
}
