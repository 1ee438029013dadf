package pwned

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// ContentTypeJSON is the Content-Type of every locally generated response.
const ContentTypeJSON = "application/json"

// ErrorKind classifies a failed invocation.
type ErrorKind int

// Error kinds, each mapped to one HTTP status.
const (
	KindBadRequest ErrorKind = iota
	KindUnauthorized
	KindServerConfig
	KindInternal
)

// StatusCode returns the HTTP status reported for the kind.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindServerConfig:
		return "server_config"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a failed invocation. Message becomes the "error" field of the
// response body and Details, when set, the "details" field.
type Error struct {
	Kind    ErrorKind
	Message string
	Details any
}

func newError(kind ErrorKind, message string, details any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func (e *Error) Error() string {
	return e.Message
}

// Response converts the error into a response envelope.
func (e *Error) Response() *Response {
	return ErrorResponse(e.Kind.StatusCode(), e.Message, e.Details)
}

// ErrorResponse builds a JSON error envelope for the given status.
func ErrorResponse(status int, message string, details any) *Response {
	return &Response{
		StatusCode: status,
		Body:       encodeJSON(errorBody{Error: message, Details: details}),
		Headers:    map[string]string{"Content-Type": ContentTypeJSON},
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// Response is the envelope returned for every invocation.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers"`
}

// ContentType returns the Content-Type header of the response.
func (r *Response) ContentType() string {
	if ct, ok := r.Headers["Content-Type"]; ok {
		return ct
	}
	return ContentTypeJSON
}

func encodeJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// Only reachable with unencodable details; keep the envelope valid.
		return `{"error":"Internal Server Error"}`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
