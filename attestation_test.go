package pwned

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacy/pwned-proxy/android"
)

func escapedTestKey(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return strings.ReplaceAll(string(block), "\n", `\n`)
}

func newDeviceCheckServer(t *testing.T, status int, body string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/validate_device_token", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func iosParams(dev bool) NormalizedParams {
	return NormalizedParams{
		Account:     "test@example.com",
		DeviceToken: "tok",
		BundleID:    "com.app",
		Platform:    PlatformIOS,
		Dev:         dev,
	}
}

func TestDeviceCheckCredentials(t *testing.T) {
	creds := DeviceCheckCredentials{TeamID: "TEAM", KeyID: "KEY", PrivateKey: `line1\nline2`}
	assert.True(t, creds.Complete())
	assert.Equal(t, "line1\nline2", creds.PEM())

	assert.False(t, DeviceCheckCredentials{KeyID: "KEY", PrivateKey: "k"}.Complete())
	assert.False(t, DeviceCheckCredentials{TeamID: "TEAM", PrivateKey: "k"}.Complete())
	assert.False(t, DeviceCheckCredentials{TeamID: "TEAM", KeyID: "KEY"}.Complete())
}

func TestAttestor_IOS(t *testing.T) {
	prod := newDeviceCheckServer(t, http.StatusOK, `{"is_valid":true}`)
	dev := newDeviceCheckServer(t, http.StatusOK, "")

	a := NewAttestor(Config{
		DeviceCheck:           DeviceCheckCredentials{TeamID: "TEAM", KeyID: "KEY", PrivateKey: escapedTestKey(t)},
		DeviceCheckBaseURL:    prod.URL + "/v1",
		DeviceCheckDevBaseURL: dev.URL + "/v1",
	}, nil)

	result := a.Verify(context.Background(), iosParams(false))
	assert.True(t, result.Valid)
	assert.Equal(t, map[string]any{"is_valid": true}, result.Payload)

	result = a.Verify(context.Background(), iosParams(true))
	assert.True(t, result.Valid)
	assert.Empty(t, result.Payload)
}

func TestAttestor_IOS_Rejected(t *testing.T) {
	srv := newDeviceCheckServer(t, http.StatusBadRequest, "Missing or incorrectly formatted device token payload")

	a := NewAttestor(Config{
		DeviceCheck:        DeviceCheckCredentials{TeamID: "TEAM", KeyID: "KEY", PrivateKey: escapedTestKey(t)},
		DeviceCheckBaseURL: srv.URL + "/v1",
	}, nil)

	result := a.Verify(context.Background(), iosParams(false))
	assert.False(t, result.Valid)
	assert.Equal(t, "Device token validation failed", result.Payload["error"])
	assert.Contains(t, result.Payload["details"], "incorrectly formatted")
}

func TestAttestor_IOS_MissingCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds DeviceCheckCredentials
	}{
		{name: "no team id", creds: DeviceCheckCredentials{KeyID: "KEY", PrivateKey: "key"}},
		{name: "no key id", creds: DeviceCheckCredentials{TeamID: "TEAM", PrivateKey: "key"}},
		{name: "no private key", creds: DeviceCheckCredentials{TeamID: "TEAM", KeyID: "KEY"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAttestor(Config{DeviceCheck: tt.creds}, nil)
			result := a.Verify(context.Background(), iosParams(false))
			assert.False(t, result.Valid)
			assert.Equal(t, map[string]any{
				"error": "Server configuration error: Missing Apple DeviceCheck credentials.",
			}, result.Payload)
		})
	}
}

func TestAttestor_IOS_MalformedKey(t *testing.T) {
	a := NewAttestor(Config{
		DeviceCheck: DeviceCheckCredentials{TeamID: "TEAM", KeyID: "KEY", PrivateKey: "not a pem"},
	}, nil)

	result := a.Verify(context.Background(), iosParams(false))
	assert.False(t, result.Valid)
	assert.Equal(t, "Device token validation failed", result.Payload["error"])
	assert.Contains(t, result.Payload["details"], "invalid DeviceCheck private key")
}

type fakeIntegrity struct {
	result *android.Result
	err    error
	got    *android.Request
}

func (f *fakeIntegrity) Verify(_ context.Context, req *android.Request) (*android.Result, error) {
	f.got = req
	return f.result, f.err
}

func androidParams() NormalizedParams {
	p := iosParams(false)
	p.Platform = PlatformAndroid
	return p
}

func TestAttestor_Android(t *testing.T) {
	fake := &fakeIntegrity{result: &android.Result{
		Valid:                   true,
		PackageName:             "com.app",
		AppRecognitionVerdict:   "PLAY_RECOGNIZED",
		DeviceIntegrityVerdicts: []string{"MEETS_DEVICE_INTEGRITY"},
		AccountDetails:          &android.AccountDetails{LicensingVerdict: "LICENSED"},
	}}
	a := NewAttestor(Config{}, fake)

	result := a.Verify(context.Background(), androidParams())
	require.True(t, result.Valid)
	assert.Equal(t, "com.app", result.Payload["package_name"])
	assert.Equal(t, "LICENSED", result.Payload["licensing_verdict"])
	assert.Equal(t, &android.Request{IntegrityToken: "tok", PackageName: "com.app"}, fake.got)

	// The payload must be relayable as JSON.
	_, err := json.Marshal(result.Payload)
	assert.NoError(t, err)
}

func TestAttestor_Android_Failures(t *testing.T) {
	a := NewAttestor(Config{}, nil)
	result := a.Verify(context.Background(), androidParams())
	assert.False(t, result.Valid)
	assert.Equal(t, map[string]any{
		"error": "Server configuration error: Missing Google Play Integrity credentials.",
	}, result.Payload)

	a = NewAttestor(Config{}, &fakeIntegrity{err: errors.New("device integrity check failed")})
	result = a.Verify(context.Background(), androidParams())
	assert.False(t, result.Valid)
	assert.Equal(t, map[string]any{
		"error":   "Device token validation failed",
		"details": "device integrity check failed",
	}, result.Payload)
}
