package android

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenPayload struct {
	packageName    string
	requestPackage string
	nonce          string
	timestamp      time.Time
	appVerdict     string
	deviceVerdicts []string
	certDigest     string
}

func (p tokenPayload) JSON() string {
	verdicts := make([]string, len(p.deviceVerdicts))
	for i, v := range p.deviceVerdicts {
		verdicts[i] = fmt.Sprintf("%q", v)
	}
	return fmt.Sprintf(`{"tokenPayloadExternal":{
		"requestDetails":{"requestPackageName":%q,"nonce":%q,"timestampMillis":"%d"},
		"appIntegrity":{"appRecognitionVerdict":%q,"packageName":%q,"certificateSha256Digest":[%q]},
		"deviceIntegrity":{"deviceRecognitionVerdict":[%s]},
		"accountDetails":{"appLicensingVerdict":"LICENSED"}
	}}`, p.requestPackage, p.nonce, p.timestamp.UnixMilli(), p.appVerdict, p.packageName, p.certDigest, strings.Join(verdicts, ","))
}

func validPayload() tokenPayload {
	return tokenPayload{
		packageName:    "com.example.app",
		requestPackage: "com.example.app",
		nonce:          "bm9uY2U=",
		timestamp:      time.Now(),
		appVerdict:     "PLAY_RECOGNIZED",
		deviceVerdicts: []string{"MEETS_DEVICE_INTEGRITY"},
		certDigest:     "AA:BB",
	}
}

func newTestVerifier(t *testing.T, cfg Config, payload tokenPayload) (*Verifier, <-chan string) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case paths <- r.URL.Path:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload.JSON()))
	}))
	t.Cleanup(srv.Close)

	cfg.Endpoint = srv.URL + "/"
	cfg.HTTPClient = srv.Client()
	v, err := NewVerifier(context.Background(), cfg)
	require.NoError(t, err)
	return v, paths
}

func TestVerifier_Verify(t *testing.T) {
	v, paths := newTestVerifier(t, Config{}, validPayload())

	result, err := v.Verify(context.Background(), &Request{
		IntegrityToken: "integrity-token",
		PackageName:    "com.example.app",
	})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "com.example.app", result.PackageName)
	assert.Equal(t, "PLAY_RECOGNIZED", result.AppRecognitionVerdict)
	assert.Equal(t, []string{"MEETS_DEVICE_INTEGRITY"}, result.DeviceIntegrityVerdicts)
	require.NotNil(t, result.AccountDetails)
	assert.Equal(t, "LICENSED", result.AccountDetails.LicensingVerdict)
	assert.Equal(t, "/v1/com.example.app:decodeIntegrityToken", <-paths)
}

func TestVerifier_Verify_Failures(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		mutate  func(p *tokenPayload)
		wantErr error
	}{
		{
			name:    "package not in allowed set",
			config:  Config{PackageNames: []string{"com.other.app"}},
			wantErr: ErrInvalidPackageName,
		},
		{
			name:    "request package mismatch",
			mutate:  func(p *tokenPayload) { p.requestPackage = "com.evil.app" },
			wantErr: ErrInvalidPackageName,
		},
		{
			name:    "app integrity package mismatch",
			mutate:  func(p *tokenPayload) { p.packageName = "com.evil.app" },
			wantErr: ErrInvalidPackageName,
		},
		{
			name:    "unrecognized app",
			mutate:  func(p *tokenPayload) { p.appVerdict = "UNRECOGNIZED_VERSION" },
			wantErr: ErrAppNotRecognized,
		},
		{
			name:    "basic integrity only",
			mutate:  func(p *tokenPayload) { p.deviceVerdicts = []string{"MEETS_BASIC_INTEGRITY"} },
			wantErr: ErrDeviceCompromised,
		},
		{
			name:    "strong integrity required",
			config:  Config{RequireStrongIntegrity: true},
			wantErr: ErrDeviceCompromised,
		},
		{
			name:    "expired token",
			mutate:  func(p *tokenPayload) { p.timestamp = time.Now().Add(-time.Hour) },
			wantErr: ErrAttestationExpired,
		},
		{
			name:    "token from the future",
			mutate:  func(p *tokenPayload) { p.timestamp = time.Now().Add(time.Hour) },
			wantErr: ErrAttestationExpired,
		},
		{
			name:    "cert digest mismatch",
			config:  Config{APKCertDigests: []string{"cc:dd"}},
			wantErr: ErrCertDigestMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validPayload()
			if tt.mutate != nil {
				tt.mutate(&payload)
			}
			v, _ := newTestVerifier(t, tt.config, payload)

			_, err := v.Verify(context.Background(), &Request{
				IntegrityToken: "integrity-token",
				PackageName:    "com.example.app",
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifier_Verify_TokenTimeout(t *testing.T) {
	payload := validPayload()
	payload.timestamp = time.Now().Add(-10 * time.Minute)
	v, _ := newTestVerifier(t, Config{TokenTimeout: 15 * time.Minute}, payload)

	result, err := v.Verify(context.Background(), &Request{
		IntegrityToken: "integrity-token",
		PackageName:    "com.example.app",
	})
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestVerifier_Verify_AllowBasicIntegrity(t *testing.T) {
	payload := validPayload()
	payload.deviceVerdicts = []string{"MEETS_BASIC_INTEGRITY"}
	v, _ := newTestVerifier(t, Config{AllowBasicIntegrity: true}, payload)

	result, err := v.Verify(context.Background(), &Request{
		IntegrityToken: "integrity-token",
		PackageName:    "com.example.app",
	})
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestVerifier_Verify_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"Integrity token cannot be decoded"}}`))
	}))
	defer srv.Close()

	v, err := NewVerifier(context.Background(), Config{Endpoint: srv.URL + "/", HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), &Request{IntegrityToken: "garbage", PackageName: "com.example.app"})
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Contains(t, err.Error(), "cannot be decoded")
}

func TestVerifier_Verify_EmptyInput(t *testing.T) {
	v, _ := newTestVerifier(t, Config{}, validPayload())

	_, err := v.Verify(context.Background(), &Request{PackageName: "com.example.app"})
	assert.ErrorIs(t, err, ErrVerificationFailed)

	_, err = v.Verify(context.Background(), &Request{IntegrityToken: "token"})
	assert.ErrorIs(t, err, ErrInvalidPackageName)
}

func TestErrors(t *testing.T) {
	// Verify error types are distinct
	assert.NotEqual(t, ErrVerificationFailed, ErrInvalidPackageName)
	assert.NotEqual(t, ErrInvalidPackageName, ErrAttestationExpired)
	assert.NotEqual(t, ErrDeviceCompromised, ErrAppNotRecognized)
	assert.NotEqual(t, ErrCertDigestMismatch, ErrVerificationFailed)
}
