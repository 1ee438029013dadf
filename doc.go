// Package pwned implements a credential-shielding proxy for the Have I Been
// Pwned breached-account API.
//
// Mobile clients never hold the HIBP API key. They send an account together
// with a device token, the proxy checks the token with the platform
// attestation service, and only then performs the lookup with the server-held
// key and relays the answer.
//
// # Platforms
//
// iOS device tokens are validated with Apple DeviceCheck (see package ios).
// Android integrity tokens are decoded with Google Play Integrity (see
// package android) when enabled.
//
// # Basic Usage
//
//	cfg, err := pwned.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	handler, err := pwned.NewHandler(ctx, cfg, slog.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp := handler.Handle(ctx, &pwned.InvocationRequest{
//	    Account:     "test@example.com",
//	    DeviceToken: deviceToken,
//	    BundleID:    "com.example.app",
//	})
//
// Every outcome is a Response envelope with a status code, a JSON body and
// headers:
//
//   - 400 for a malformed body or a missing parameter
//   - 401 when device attestation fails, including missing attestation credentials
//   - 500 when the HIBP key is missing or the lookup cannot reach HIBP
//   - the upstream status and body otherwise
//
// # Subpackages
//
//   - ios: Apple DeviceCheck device token validation
//   - android: Android Play Integrity verification
//   - hibp: HIBP breached-account client
//   - httpserver: standalone HTTP server exposing the handler
//   - lambdafn: AWS Lambda (API Gateway proxy) adapter
package pwned
