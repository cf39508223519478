package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// corsHeaders accompany every response so browser clients on other origins
// can call the API.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":      "*",
	"Access-Control-Allow-Credentials": "true",
	"Access-Control-Allow-Headers":     "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token",
	"Access-Control-Allow-Methods":     "GET,POST,PUT,DELETE,OPTIONS",
}

// Envelope is the JSON body shape of every business response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Response is the outbound event.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

func baseHeaders() map[string]string {
	h := make(map[string]string, len(corsHeaders)+1)
	h["Content-Type"] = "application/json"
	for k, v := range corsHeaders {
		h[k] = v
	}
	return h
}

func newResponse(status int, env Envelope) Response {
	body, err := json.Marshal(env)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(Envelope{Message: "An unexpected error occurred"})
	}
	return Response{StatusCode: status, Headers: baseHeaders(), Body: body}
}

// Success wraps data in a success envelope. A zero status means 200.
func Success(data any, status int) Response {
	if status == 0 {
		status = http.StatusOK
	}
	return newResponse(status, Envelope{Success: true, Data: data})
}

// Failure wraps a client-facing message in a failure envelope.
func Failure(message string, status int, details any) Response {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return newResponse(status, Envelope{Message: message, Details: details})
}

// preflightResponse answers CORS preflight requests.
func preflightResponse() Response {
	return Response{StatusCode: http.StatusNoContent, Headers: baseHeaders()}
}

// Write copies the response onto w.
func (r Response) Write(w http.ResponseWriter) {
	h := w.Header()
	for k, v := range r.Headers {
		h.Set(k, v)
	}
	if len(r.Body) > 0 {
		h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	w.WriteHeader(r.StatusCode)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}

// writeJSON is used by the operational endpoints that sit outside the envelope.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
