package pwned

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kacy/pwned-proxy/android"
	"github.com/kacy/pwned-proxy/hibp"
)

// DeviceAttestor verifies the device token of a request.
type DeviceAttestor interface {
	Verify(ctx context.Context, params NormalizedParams) AttestationResult
}

// BreachLookup queries the breach API for an account.
type BreachLookup interface {
	BreachedAccount(ctx context.Context, account, apiKey string) (*hibp.Response, error)
}

// Observer is notified of every finished invocation. Platform is empty when
// the request was rejected before normalization completed.
type Observer interface {
	ObserveResponse(platform string, status int, elapsed time.Duration)
}

// Handler runs one lookup per invocation: normalize, attest, look up.
// It holds no per-request state and is safe for concurrent use.
type Handler struct {
	attestor DeviceAttestor
	lookup   BreachLookup
	apiKey   string
	log      *slog.Logger
	observer Observer
}

// NewHandler wires the production attestor and HIBP client from cfg.
// A nil log discards all output.
func NewHandler(ctx context.Context, cfg Config, log *slog.Logger) (*Handler, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	lookup, err := hibp.NewClient(hibp.Config{
		BaseURL:    cfg.HIBPBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.timeout()},
	})
	if err != nil {
		return nil, err
	}

	var integrity IntegrityVerifier
	if cfg.PlayIntegrity.Enabled {
		v, err := android.NewVerifier(ctx, cfg.PlayIntegrity.verifierConfig())
		if err != nil {
			log.Warn("Play Integrity unavailable, android platform disabled", "err", err)
		} else {
			integrity = v
		}
	}

	return NewHandlerWith(NewAttestor(cfg, integrity), lookup, cfg.HIBPAPIKey, log), nil
}

// NewHandlerWith creates a Handler from explicit collaborators.
func NewHandlerWith(attestor DeviceAttestor, lookup BreachLookup, apiKey string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		attestor: attestor,
		lookup:   lookup,
		apiKey:   apiKey,
		log:      log,
	}
}

// SetObserver registers o for every following invocation. It must be called
// before the handler is shared between goroutines.
func (h *Handler) SetObserver(o Observer) {
	h.observer = o
}

// Handle processes one invocation. Every outcome, including failures, is
// returned as a response envelope.
func (h *Handler) Handle(ctx context.Context, req *InvocationRequest) *Response {
	start := time.Now()
	var platform Platform

	resp, err := h.handle(ctx, req, &platform)
	if err != nil {
		h.log.Info("lookup rejected",
			"kind", err.Kind.String(),
			"status", err.Kind.StatusCode(),
			"duration", time.Since(start),
		)
		resp = err.Response()
	} else {
		h.log.Info("lookup completed",
			"status", resp.StatusCode,
			"duration", time.Since(start),
		)
	}

	if h.observer != nil {
		h.observer.ObserveResponse(string(platform), resp.StatusCode, time.Since(start))
	}
	return resp
}

func (h *Handler) handle(ctx context.Context, req *InvocationRequest, platform *Platform) (*Response, *Error) {
	params, err := Normalize(req)
	if err != nil {
		return nil, err.(*Error)
	}
	*platform = params.Platform

	log := h.log.With("platform", string(params.Platform), "bundle_id", params.BundleID, "dev", params.Dev)

	attestation := h.attestor.Verify(ctx, params)
	if !attestation.Valid {
		log.Debug("device attestation failed", "payload", attestation.Payload)
		return nil, newError(KindUnauthorized, msgValidationFailed, attestation.Payload)
	}

	if h.apiKey == "" {
		log.Error("breach API key not configured")
		return nil, newError(KindServerConfig, "Server Error: Missing HIBP_API_KEY environment variable", nil)
	}

	upstream, err := h.lookup.BreachedAccount(ctx, params.Account, h.apiKey)
	if err != nil {
		log.Error("breach lookup failed", "err", err)
		return nil, newError(KindInternal, "Internal Server Error", err.Error())
	}

	return &Response{
		StatusCode: upstream.StatusCode,
		Body:       upstream.Body,
		Headers:    map[string]string{"Content-Type": upstream.ContentType},
	}, nil
}
