package pwned

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kacy/pwned-proxy/android"
)

// Environment variables read by LoadConfigFromEnv.
const (
	EnvAppleTeamID                  = "APPLE_TEAM_ID"
	EnvAppleKeyID                   = "APPLE_KEY_ID"
	EnvApplePrivateKey              = "APPLE_PRIVATE_KEY"
	EnvHIBPAPIKey                   = "HIBP_API_KEY"
	EnvHIBPBaseURL                  = "HIBP_BASE_URL"
	EnvDeviceCheckBaseURL           = "DEVICECHECK_BASE_URL"
	EnvDeviceCheckDevBaseURL        = "DEVICECHECK_DEV_BASE_URL"
	EnvPlayIntegrityEnabled         = "PLAY_INTEGRITY_ENABLED"
	EnvPlayIntegrityCredentialsFile = "PLAY_INTEGRITY_CREDENTIALS_FILE"
	EnvPlayIntegrityPackageNames    = "PLAY_INTEGRITY_PACKAGE_NAMES"
	EnvPlayIntegrityCertDigests     = "PLAY_INTEGRITY_CERT_DIGESTS"
	EnvPlayIntegrityTokenTimeout    = "PLAY_INTEGRITY_TOKEN_TIMEOUT"
	EnvPlayIntegrityRequireStrong   = "PLAY_INTEGRITY_REQUIRE_STRONG"
	EnvPlayIntegrityAllowBasic      = "PLAY_INTEGRITY_ALLOW_BASIC"
	EnvUpstreamTimeout              = "UPSTREAM_TIMEOUT"
)

// DefaultUpstreamTimeout bounds each outbound call.
const DefaultUpstreamTimeout = 5 * time.Second

// DeviceCheckCredentials is the Apple DeviceCheck signing material.
type DeviceCheckCredentials struct {
	TeamID string
	KeyID  string

	// PrivateKey is the PEM key. Literal \n sequences are accepted and
	// unescaped before use.
	PrivateKey string
}

// Complete reports whether all three credentials are set.
func (c DeviceCheckCredentials) Complete() bool {
	return c.TeamID != "" && c.KeyID != "" && c.PrivateKey != ""
}

// PEM returns the private key with escaped newlines restored.
func (c DeviceCheckCredentials) PEM() string {
	return strings.ReplaceAll(c.PrivateKey, `\n`, "\n")
}

// PlayIntegrityConfig enables Android verification.
type PlayIntegrityConfig struct {
	// Enabled turns on the android platform.
	Enabled bool

	// CredentialsFile is the service account file. If empty, uses
	// Application Default Credentials.
	CredentialsFile string

	// PackageNames restricts which bundle ids may be verified. Empty allows any.
	PackageNames []string

	// CertDigests lists the allowed APK signing certificate SHA-256 digests.
	CertDigests []string

	// TokenTimeout is the maximum token age (default: 5 minutes).
	TokenTimeout time.Duration

	// RequireStrong requires MEETS_STRONG_INTEGRITY.
	RequireStrong bool

	// AllowBasic accepts MEETS_BASIC_INTEGRITY.
	AllowBasic bool
}

func (c PlayIntegrityConfig) verifierConfig() android.Config {
	return android.Config{
		PackageNames:           c.PackageNames,
		APKCertDigests:         c.CertDigests,
		CredentialsFile:        c.CredentialsFile,
		TokenTimeout:           c.TokenTimeout,
		RequireStrongIntegrity: c.RequireStrong,
		AllowBasicIntegrity:    c.AllowBasic,
	}
}

// Config holds the server-side secrets and upstream settings.
// It is built once at startup and only read afterwards.
type Config struct {
	// DeviceCheck holds the Apple credentials. Missing values are reported
	// per request, not at startup.
	DeviceCheck DeviceCheckCredentials

	// DeviceCheckBaseURL overrides the production DeviceCheck endpoint.
	DeviceCheckBaseURL string

	// DeviceCheckDevBaseURL overrides the sandbox DeviceCheck endpoint.
	DeviceCheckDevBaseURL string

	// PlayIntegrity configures the android platform.
	PlayIntegrity PlayIntegrityConfig

	// HIBPAPIKey is the breach API subscription key.
	HIBPAPIKey string

	// HIBPBaseURL overrides the HIBP API root.
	HIBPBaseURL string

	// UpstreamTimeout bounds each outbound call (default: 5 seconds).
	UpstreamTimeout time.Duration
}

// LoadConfigFromEnv builds a Config from the process environment.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		DeviceCheck: DeviceCheckCredentials{
			TeamID:     os.Getenv(EnvAppleTeamID),
			KeyID:      os.Getenv(EnvAppleKeyID),
			PrivateKey: os.Getenv(EnvApplePrivateKey),
		},
		DeviceCheckBaseURL:    os.Getenv(EnvDeviceCheckBaseURL),
		DeviceCheckDevBaseURL: os.Getenv(EnvDeviceCheckDevBaseURL),
		PlayIntegrity: PlayIntegrityConfig{
			CredentialsFile: os.Getenv(EnvPlayIntegrityCredentialsFile),
			PackageNames:    splitList(os.Getenv(EnvPlayIntegrityPackageNames)),
			CertDigests:     splitList(os.Getenv(EnvPlayIntegrityCertDigests)),
		},
		HIBPAPIKey:      os.Getenv(EnvHIBPAPIKey),
		HIBPBaseURL:     os.Getenv(EnvHIBPBaseURL),
		UpstreamTimeout: DefaultUpstreamTimeout,
	}

	for key, dst := range map[string]*bool{
		EnvPlayIntegrityEnabled:       &cfg.PlayIntegrity.Enabled,
		EnvPlayIntegrityRequireStrong: &cfg.PlayIntegrity.RequireStrong,
		EnvPlayIntegrityAllowBasic:    &cfg.PlayIntegrity.AllowBasic,
	} {
		if err := envBool(key, dst); err != nil {
			return Config{}, err
		}
	}

	for key, dst := range map[string]*time.Duration{
		EnvUpstreamTimeout:           &cfg.UpstreamTimeout,
		EnvPlayIntegrityTokenTimeout: &cfg.PlayIntegrity.TokenTimeout,
	} {
		if err := envDuration(key, dst); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// envBool leaves *dst untouched when key is unset.
func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = b
	return nil
}

// envDuration leaves *dst untouched when key is unset. Durations must be positive.
func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	*dst = d
	return nil
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c Config) timeout() time.Duration {
	if c.UpstreamTimeout <= 0 {
		return DefaultUpstreamTimeout
	}
	return c.UpstreamTimeout
}
