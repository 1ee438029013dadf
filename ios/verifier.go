// Package ios provides Apple DeviceCheck device token validation.
//
// A device token is generated on the device by DCDevice.generateToken and is
// validated server-side against Apple's validate_device_token endpoint. Requests
// are authenticated with an ES256 JWT signed by a DeviceCheck private key (.p8).
//
// See: https://developer.apple.com/documentation/devicecheck/accessing_and_modifying_per-device_data
package ios

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DeviceCheck API endpoints.
const (
	ProductionBaseURL  = "https://api.devicecheck.apple.com/v1"
	DevelopmentBaseURL = "https://api.development.devicecheck.apple.com/v1"
)

const validatePath = "/validate_device_token"

// maxResponseBytes bounds how much of an Apple response body is read.
const maxResponseBytes = 1 << 20

// Config holds configuration for DeviceCheck validation.
type Config struct {
	// TeamID is your Apple Developer Team ID (JWT issuer).
	TeamID string

	// KeyID is the identifier of the DeviceCheck private key (JWT kid).
	KeyID string

	// PrivateKey is the PEM-encoded DeviceCheck private key (.p8 contents).
	PrivateKey string

	// Development selects the sandbox endpoint instead of production.
	Development bool

	// BaseURL overrides the endpoint selected by Development.
	BaseURL string

	// HTTPClient is used for requests to Apple (default: 5 second timeout).
	HTTPClient *http.Client
}

// Verifier validates DeviceCheck device tokens.
type Verifier struct {
	teamID   string
	keyID    string
	key      *ecdsa.PrivateKey
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// Result represents a successful device token validation.
type Result struct {
	// Payload is the JSON object returned by Apple, empty when Apple returns no body.
	Payload map[string]any

	// TransactionID is the identifier sent with the validation request.
	TransactionID string

	// Timestamp is when the validation was performed.
	Timestamp time.Time
}

// Common errors.
var (
	ErrMissingCredentials = errors.New("missing DeviceCheck credentials")
	ErrInvalidPrivateKey  = errors.New("invalid DeviceCheck private key")
	ErrInvalidDeviceToken = errors.New("invalid device token")
	ErrVerificationFailed = errors.New("device token validation failed")
)

// NewVerifier creates a new DeviceCheck verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.TeamID == "" {
		return nil, fmt.Errorf("%w: team ID is required", ErrMissingCredentials)
	}
	if cfg.KeyID == "" {
		return nil, fmt.Errorf("%w: key ID is required", ErrMissingCredentials)
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: private key is required", ErrMissingCredentials)
	}

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = ProductionBaseURL
		if cfg.Development {
			endpoint = DevelopmentBaseURL
		}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	return &Verifier{
		teamID:   cfg.TeamID,
		keyID:    cfg.KeyID,
		key:      key,
		endpoint: strings.TrimRight(endpoint, "/") + validatePath,
		client:   client,
		now:      time.Now,
	}, nil
}

type validateRequest struct {
	DeviceToken   string `json:"device_token"`
	TransactionID string `json:"transaction_id"`
	Timestamp     int64  `json:"timestamp"`
}

// ValidateDeviceToken asks Apple whether the device token was issued to a
// genuine device running an app from this team.
func (v *Verifier) ValidateDeviceToken(ctx context.Context, deviceToken string) (*Result, error) {
	if deviceToken == "" {
		return nil, fmt.Errorf("%w: device token is empty", ErrInvalidDeviceToken)
	}

	now := v.now()
	bearer, err := v.authToken(now)
	if err != nil {
		return nil, err
	}

	transactionID := uuid.NewString()
	body, err := json.Marshal(validateRequest{
		DeviceToken:   deviceToken,
		TransactionID: transactionID,
		Timestamp:     now.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode validation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrVerificationFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrVerificationFailed, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return &Result{
		Payload:       parsePayload(respBody),
		TransactionID: transactionID,
		Timestamp:     now,
	}, nil
}

// authToken signs the provider token Apple expects in the Authorization header.
func (v *Verifier) authToken(now time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": v.teamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = v.keyID

	signed, err := tok.SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("%w: failed to sign provider token: %v", ErrInvalidPrivateKey, err)
	}
	return signed, nil
}

// Apple answers a valid token with 200 and an empty body or a plain-text
// status; only a JSON object is kept as payload.
func parsePayload(body []byte) map[string]any {
	payload := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return payload
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil && obj != nil {
		return obj
	}
	return payload
}
