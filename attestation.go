package pwned

import (
	"context"
	"net/http"

	"github.com/kacy/pwned-proxy/android"
	"github.com/kacy/pwned-proxy/ios"
)

// Attestation failure messages reported in the 401 details payload.
const (
	msgValidationFailed        = "Device token validation failed"
	msgMissingDeviceCheckCreds = "Server configuration error: Missing Apple DeviceCheck credentials."
	msgMissingPlayIntegrity    = "Server configuration error: Missing Google Play Integrity credentials."
)

// AttestationResult is the outcome of a device check. Payload is the
// verifier's response on success and the failure reason otherwise.
type AttestationResult struct {
	Valid   bool
	Payload map[string]any
}

// IntegrityVerifier verifies Play Integrity tokens.
type IntegrityVerifier interface {
	Verify(ctx context.Context, req *android.Request) (*android.Result, error)
}

// Attestor verifies device tokens against the platform attestation service.
type Attestor struct {
	creds      DeviceCheckCredentials
	prodURL    string
	devURL     string
	httpClient *http.Client
	android    IntegrityVerifier
}

// NewAttestor creates an Attestor. A nil android verifier leaves the android
// platform unconfigured.
func NewAttestor(cfg Config, integrity IntegrityVerifier) *Attestor {
	return &Attestor{
		creds:      cfg.DeviceCheck,
		prodURL:    cfg.DeviceCheckBaseURL,
		devURL:     cfg.DeviceCheckDevBaseURL,
		httpClient: &http.Client{Timeout: cfg.timeout()},
		android:    integrity,
	}
}

// Verify checks the device token for params.Platform. It never returns an
// error; every failure is reported as an invalid result with a payload
// describing the reason.
func (a *Attestor) Verify(ctx context.Context, params NormalizedParams) AttestationResult {
	if params.Platform == PlatformAndroid {
		return a.verifyAndroid(ctx, params)
	}
	return a.verifyIOS(ctx, params)
}

func (a *Attestor) verifyIOS(ctx context.Context, params NormalizedParams) AttestationResult {
	if !a.creds.Complete() {
		return invalid(map[string]any{"error": msgMissingDeviceCheckCreds})
	}

	baseURL := a.prodURL
	if params.Dev {
		baseURL = a.devURL
	}

	verifier, err := ios.NewVerifier(ios.Config{
		TeamID:      a.creds.TeamID,
		KeyID:       a.creds.KeyID,
		PrivateKey:  a.creds.PEM(),
		Development: params.Dev,
		BaseURL:     baseURL,
		HTTPClient:  a.httpClient,
	})
	if err != nil {
		return failed(err)
	}

	result, err := verifier.ValidateDeviceToken(ctx, params.DeviceToken)
	if err != nil {
		return failed(err)
	}
	return AttestationResult{Valid: true, Payload: result.Payload}
}

func (a *Attestor) verifyAndroid(ctx context.Context, params NormalizedParams) AttestationResult {
	if a.android == nil {
		return invalid(map[string]any{"error": msgMissingPlayIntegrity})
	}

	result, err := a.android.Verify(ctx, &android.Request{
		IntegrityToken: params.DeviceToken,
		PackageName:    params.BundleID,
	})
	if err != nil {
		return failed(err)
	}

	payload := map[string]any{
		"package_name":            result.PackageName,
		"app_recognition_verdict": result.AppRecognitionVerdict,
		"device_integrity":        result.DeviceIntegrityVerdicts,
	}
	if result.AccountDetails != nil {
		payload["licensing_verdict"] = result.AccountDetails.LicensingVerdict
	}
	return AttestationResult{Valid: true, Payload: payload}
}

func failed(err error) AttestationResult {
	return invalid(map[string]any{
		"error":   msgValidationFailed,
		"details": err.Error(),
	})
}

func invalid(payload map[string]any) AttestationResult {
	return AttestationResult{Valid: false, Payload: payload}
}
