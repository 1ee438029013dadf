// Package android provides Android Play Integrity verification.
//
// This package uses Google's official Play Integrity API to decode integrity
// tokens from Android devices and checks the app and device verdicts.
//
// See: https://developer.android.com/google/play/integrity
package android

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/playintegrity/v1"
)

// Config holds configuration for Android Play Integrity verification.
type Config struct {
	// PackageNames restricts which package names may be verified.
	// When empty, any package name supplied with the request is accepted.
	PackageNames []string

	// APKCertDigests is the list of allowed APK signing certificate SHA-256 digests.
	// Optional but recommended for additional security.
	APKCertDigests []string

	// CredentialsFile is the path to the service account credentials file.
	// If empty, uses Application Default Credentials.
	CredentialsFile string

	// TokenTimeout is the maximum age of a token (default: 5 minutes).
	TokenTimeout time.Duration

	// RequireStrongIntegrity requires MEETS_STRONG_INTEGRITY verdict.
	// When false, MEETS_DEVICE_INTEGRITY is sufficient.
	RequireStrongIntegrity bool

	// AllowBasicIntegrity allows MEETS_BASIC_INTEGRITY verdict.
	// Not recommended for sensitive operations.
	AllowBasicIntegrity bool

	// Endpoint overrides the Play Integrity API endpoint.
	Endpoint string

	// HTTPClient replaces the authenticated transport. Used with Endpoint in tests.
	HTTPClient *http.Client
}

// Verifier verifies Android Play Integrity tokens.
type Verifier struct {
	service        *playintegrity.Service
	packageNameSet map[string]struct{}
	certDigestSet  map[string]struct{}
	timeout        time.Duration
	requireStrong  bool
	allowBasic     bool
}

// Request represents an integrity verification request.
type Request struct {
	// IntegrityToken is the token from the Play Integrity API.
	IntegrityToken string

	// PackageName is the app package the token was requested for.
	PackageName string
}

// Result represents the result of integrity verification.
type Result struct {
	// Valid indicates whether the integrity token was verified successfully.
	Valid bool

	// PackageName is the verified package name.
	PackageName string

	// AppRecognitionVerdict is the app recognition result.
	AppRecognitionVerdict string

	// DeviceIntegrityVerdicts contains the device integrity verdicts.
	DeviceIntegrityVerdicts []string

	// AccountDetails contains the licensing information (if available).
	AccountDetails *AccountDetails

	// Timestamp is when the verification was performed.
	Timestamp time.Time
}

// AccountDetails contains Play Store licensing information.
type AccountDetails struct {
	// LicensingVerdict indicates the app licensing status.
	// Values: LICENSED, UNLICENSED, UNEVALUATED
	LicensingVerdict string
}

// Common errors.
var (
	ErrVerificationFailed = errors.New("verification failed")
	ErrInvalidPackageName = errors.New("invalid package name")
	ErrAttestationExpired = errors.New("attestation expired")
	ErrDeviceCompromised  = errors.New("device integrity check failed")
	ErrAppNotRecognized   = errors.New("app not recognized")
	ErrCertDigestMismatch = errors.New("APK certificate digest mismatch")
)

// NewVerifier creates a new Android Play Integrity verifier.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	service, err := playintegrity.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Play Integrity service: %w", err)
	}

	packageNameSet := make(map[string]struct{}, len(cfg.PackageNames))
	for _, name := range cfg.PackageNames {
		packageNameSet[name] = struct{}{}
	}

	certDigestSet := make(map[string]struct{}, len(cfg.APKCertDigests))
	for _, digest := range cfg.APKCertDigests {
		certDigestSet[strings.ToUpper(digest)] = struct{}{}
	}

	timeout := cfg.TokenTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	return &Verifier{
		service:        service,
		packageNameSet: packageNameSet,
		certDigestSet:  certDigestSet,
		timeout:        timeout,
		requireStrong:  cfg.RequireStrongIntegrity,
		allowBasic:     cfg.AllowBasicIntegrity,
	}, nil
}

// Verify verifies an Android Play Integrity token.
func (v *Verifier) Verify(ctx context.Context, req *Request) (*Result, error) {
	if req.IntegrityToken == "" {
		return nil, fmt.Errorf("%w: empty integrity token", ErrVerificationFailed)
	}
	if !v.packageAllowed(req.PackageName) {
		return nil, fmt.Errorf("%w: package_name=%s not in allowed set", ErrInvalidPackageName, req.PackageName)
	}

	decodeReq := &playintegrity.DecodeIntegrityTokenRequest{
		IntegrityToken: req.IntegrityToken,
	}

	call := v.service.V1.DecodeIntegrityToken(req.PackageName, decodeReq)
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode integrity token: %v", ErrVerificationFailed, err)
	}

	payload := resp.TokenPayloadExternal
	if payload == nil {
		return nil, fmt.Errorf("%w: empty token payload", ErrVerificationFailed)
	}

	if err := v.verifyRequestDetails(payload.RequestDetails, req); err != nil {
		return nil, err
	}

	if err := v.verifyAppIntegrity(payload.AppIntegrity, req.PackageName); err != nil {
		return nil, err
	}

	if err := v.verifyDeviceIntegrity(payload.DeviceIntegrity); err != nil {
		return nil, err
	}

	result := &Result{
		Valid:                   true,
		PackageName:             payload.AppIntegrity.PackageName,
		AppRecognitionVerdict:   payload.AppIntegrity.AppRecognitionVerdict,
		DeviceIntegrityVerdicts: payload.DeviceIntegrity.DeviceRecognitionVerdict,
		Timestamp:               time.Now(),
	}

	// Include account details if available
	if payload.AccountDetails != nil {
		result.AccountDetails = &AccountDetails{
			LicensingVerdict: payload.AccountDetails.AppLicensingVerdict,
		}
	}

	return result, nil
}

func (v *Verifier) packageAllowed(packageName string) bool {
	if packageName == "" {
		return false
	}
	if len(v.packageNameSet) == 0 {
		return true
	}
	_, ok := v.packageNameSet[packageName]
	return ok
}

func (v *Verifier) verifyRequestDetails(details *playintegrity.RequestDetails, req *Request) error {
	if details == nil {
		return fmt.Errorf("%w: missing request details", ErrVerificationFailed)
	}

	if details.RequestPackageName != req.PackageName {
		return fmt.Errorf("%w: unexpected package name: %s", ErrInvalidPackageName, details.RequestPackageName)
	}

	requestTime := time.UnixMilli(details.TimestampMillis)
	age := time.Since(requestTime)

	if age > v.timeout {
		return fmt.Errorf("%w: token too old (%v)", ErrAttestationExpired, age)
	}
	if age < -1*time.Minute {
		return fmt.Errorf("%w: token from the future", ErrAttestationExpired)
	}

	return nil
}

func (v *Verifier) verifyAppIntegrity(appIntegrity *playintegrity.AppIntegrity, packageName string) error {
	if appIntegrity == nil {
		return fmt.Errorf("%w: missing app integrity", ErrVerificationFailed)
	}

	verdict := appIntegrity.AppRecognitionVerdict
	switch verdict {
	case "PLAY_RECOGNIZED":
	case "UNRECOGNIZED_VERSION":
		return fmt.Errorf("%w: app version not recognized by Play Store", ErrAppNotRecognized)
	case "UNEVALUATED":
		return fmt.Errorf("%w: app integrity not evaluated", ErrAppNotRecognized)
	default:
		return fmt.Errorf("%w: unknown app recognition verdict: %s", ErrAppNotRecognized, verdict)
	}

	if appIntegrity.PackageName != packageName {
		return fmt.Errorf("%w: package name mismatch in app integrity", ErrInvalidPackageName)
	}

	if len(v.certDigestSet) > 0 {
		found := false
		for _, digest := range appIntegrity.CertificateSha256Digest {
			if _, ok := v.certDigestSet[strings.ToUpper(digest)]; ok {
				found = true
				break
			}
		}
		if !found {
			return ErrCertDigestMismatch
		}
	}

	return nil
}

func (v *Verifier) verifyDeviceIntegrity(deviceIntegrity *playintegrity.DeviceIntegrity) error {
	if deviceIntegrity == nil {
		return fmt.Errorf("%w: missing device integrity", ErrVerificationFailed)
	}

	verdicts := deviceIntegrity.DeviceRecognitionVerdict

	hasBasic := false
	hasDevice := false
	hasStrong := false

	for _, verdict := range verdicts {
		switch verdict {
		case "MEETS_BASIC_INTEGRITY":
			hasBasic = true
		case "MEETS_DEVICE_INTEGRITY":
			hasDevice = true
		case "MEETS_STRONG_INTEGRITY":
			hasStrong = true
		}
	}

	if v.requireStrong {
		if !hasStrong {
			return fmt.Errorf("%w: device does not meet strong integrity requirements (verdicts: %v)", ErrDeviceCompromised, verdicts)
		}
		return nil
	}

	if hasDevice || hasStrong {
		return nil
	}

	if hasBasic && v.allowBasic {
		return nil
	}

	if hasBasic {
		return fmt.Errorf("%w: device only meets basic integrity (may be rooted/modified)", ErrDeviceCompromised)
	}

	return fmt.Errorf("%w: device integrity check failed (verdicts: %v)", ErrDeviceCompromised, verdicts)
}
