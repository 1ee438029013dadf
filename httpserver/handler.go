// Package httpserver serves the breach lookup over plain HTTP, together with
// the health, drain and debug endpoints expected by a load balancer.
package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	pwned "github.com/kacy/pwned-proxy"
)

// maxBodySize is the maximum accepted request body size (64KB).
const maxBodySize = 64 * 1024

// Lookup runs one invocation. *pwned.Handler implements it.
type Lookup interface {
	Handle(ctx context.Context, req *pwned.InvocationRequest) *pwned.Response
	SetObserver(o pwned.Observer)
}

// Handler translates HTTP requests into invocations and writes the
// resulting envelopes back.
type Handler struct {
	lookup Lookup
	log    *slog.Logger
}

// NewHandler creates a Handler that forwards to lookup.
func NewHandler(lookup Lookup, log *slog.Logger) *Handler {
	return &Handler{lookup: lookup, log: log}
}

// HandleLookup accepts the lookup arguments as query parameters and, for
// POST, a JSON object body whose keys take precedence.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	req := requestFromQuery(r.URL.Query())

	if r.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeResponse(w, pwned.ErrorResponse(http.StatusRequestEntityTooLarge, "Request Entity Too Large", nil))
				return
			}
			h.log.Warn("failed to read request body", "err", err)
			writeResponse(w, pwned.ErrorResponse(http.StatusBadRequest, "Error reading request body", err.Error()))
			return
		}
		if len(body) > 0 {
			req.HTTP = &pwned.HTTPArgs{Body: base64.StdEncoding.EncodeToString(body)}
		}
	}

	writeResponse(w, h.lookup.Handle(r.Context(), req))
}

func requestFromQuery(q url.Values) *pwned.InvocationRequest {
	req := &pwned.InvocationRequest{
		Account:     q.Get("account"),
		DeviceToken: q.Get("device_token"),
		BundleID:    q.Get("bundle_id"),
		Platform:    q.Get("platform"),
	}
	if q.Has("dev") {
		dev := pwned.ParseFlag(q.Get("dev"))
		req.Dev = &dev
	}
	return req
}

func writeResponse(w http.ResponseWriter, resp *pwned.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", pwned.ContentTypeJSON)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write([]byte(resp.Body))
}
