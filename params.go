package pwned

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Platform represents the mobile platform that issued the device token.
type Platform string

// Platform constants for iOS and Android.
const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Flag is a loosely-typed boolean argument. JSON booleans are kept as-is,
// strings are true only when they read "true" after trimming and lowercasing,
// and any other JSON value is false.
type Flag bool

// ParseFlag coerces a string argument into a Flag.
func ParseFlag(s string) Flag {
	return Flag(strings.ToLower(strings.TrimSpace(s)) == "true")
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = Flag(t)
	case string:
		*f = ParseFlag(t)
	default:
		*f = false
	}
	return nil
}

// BoolPtr returns a pointer to a Flag, for building requests in code.
func BoolPtr(b bool) *Flag {
	f := Flag(b)
	return &f
}

// InvocationRequest is the argument bag handed over by the dispatcher.
// Keys are matched exactly; differently cased keys are ignored.
type InvocationRequest struct {
	Account     string    `json:"account,omitempty"`
	DeviceToken string    `json:"device_token,omitempty"`
	BundleID    string    `json:"bundle_id,omitempty"`
	Dev         *Flag     `json:"dev,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	HTTP        *HTTPArgs `json:"http,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *InvocationRequest) UnmarshalJSON(data []byte) error {
	var args arguments
	if err := json.Unmarshal(data, &args); err != nil {
		return err
	}

	req := InvocationRequest{}
	for key, dst := range map[string]*string{
		"account":      &req.Account,
		"device_token": &req.DeviceToken,
		"bundle_id":    &req.BundleID,
		"platform":     &req.Platform,
	} {
		if err := args.str(key, dst); err != nil {
			return err
		}
	}

	dev, err := args.flag("dev")
	if err != nil {
		return err
	}
	req.Dev = dev

	if raw, ok := args["http"]; ok {
		if err := json.Unmarshal(raw, &req.HTTP); err != nil {
			return err
		}
	}

	*r = req
	return nil
}

// HTTPArgs carries the raw HTTP request details of a web invocation.
type HTTPArgs struct {
	// Body is the base64-encoded request body.
	Body string `json:"body,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *HTTPArgs) UnmarshalJSON(data []byte) error {
	var args arguments
	if err := json.Unmarshal(data, &args); err != nil {
		return err
	}
	var body string
	if err := args.str("body", &body); err != nil {
		return err
	}
	*a = HTTPArgs{Body: body}
	return nil
}

// arguments is a JSON object keyed by exact argument name. A key that is
// present with a null value is distinct from an absent key.
type arguments map[string]json.RawMessage

// str sets *dst when key is present. null sets the empty string.
func (a arguments) str(key string, dst *string) error {
	raw, ok := a[key]
	if !ok {
		return nil
	}
	*dst = ""
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// flag returns nil when key is absent. null reads as false.
func (a arguments) flag(key string) (*Flag, error) {
	raw, ok := a[key]
	if !ok {
		return nil, nil
	}
	var f Flag
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &f, nil
}

// NormalizedParams are the validated inputs of one lookup.
// Field order is the order required fields are checked in.
type NormalizedParams struct {
	Account     string   `json:"account" validate:"required"`
	DeviceToken string   `json:"device_token" validate:"required"`
	BundleID    string   `json:"bundle_id" validate:"required"`
	Platform    Platform `json:"platform" validate:"oneof=ios android"`
	Dev         bool     `json:"dev"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize merges the top-level arguments with the optional encoded body and
// validates the result. Body decoding errors are reported before any field
// checks. Every returned error is an *Error of kind KindBadRequest.
func Normalize(req *InvocationRequest) (NormalizedParams, error) {
	if req == nil {
		req = &InvocationRequest{}
	}

	params := NormalizedParams{
		Account:     req.Account,
		DeviceToken: req.DeviceToken,
		BundleID:    req.BundleID,
		Platform:    Platform(req.Platform),
	}
	dev := req.Dev

	if req.HTTP != nil && req.HTTP.Body != "" {
		body, err := decodeBody(req.HTTP.Body)
		if err == nil {
			err = mergeBody(&params, &dev, body)
		}
		if err != nil {
			return NormalizedParams{}, newError(KindBadRequest, "Error decoding request body: "+err.Error(), nil)
		}
	}

	if dev != nil {
		params.Dev = bool(*dev)
	}
	if params.Platform == "" {
		params.Platform = PlatformIOS
	}

	if err := validate.Struct(params); err != nil {
		return NormalizedParams{}, validationError(err)
	}
	return params, nil
}

func decodeBody(encoded string) (arguments, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(raw) {
		return nil, errors.New("body is not valid UTF-8")
	}

	var body arguments
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("body is not a JSON object")
	}
	return body, nil
}

// mergeBody applies every key present in the body over the top-level value.
func mergeBody(params *NormalizedParams, dev **Flag, body arguments) error {
	platform := string(params.Platform)
	for key, dst := range map[string]*string{
		"account":      &params.Account,
		"device_token": &params.DeviceToken,
		"bundle_id":    &params.BundleID,
		"platform":     &platform,
	} {
		if err := body.str(key, dst); err != nil {
			return err
		}
	}
	params.Platform = Platform(platform)

	f, err := body.flag("dev")
	if err != nil {
		return err
	}
	if f != nil {
		*dev = f
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return newError(KindBadRequest, "Bad Request: "+err.Error(), nil)
	}

	fe := verrs[0]
	if fe.Tag() == "required" {
		return newError(KindBadRequest, fmt.Sprintf("Bad Request: Missing %q parameter", fe.Field()), nil)
	}
	return newError(KindBadRequest, fmt.Sprintf("Bad Request: Invalid %q parameter", fe.Field()), nil)
}
