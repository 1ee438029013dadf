// Package lambdafn adapts the lookup handler to AWS Lambda.
//
// HandleAPIGateway serves API Gateway proxy events. HandleInvocation serves
// direct invocations whose payload is the argument bag itself:
//
//	{"account": "a@b.com", "device_token": "...", "bundle_id": "com.example.app", "dev": "true"}
package lambdafn

import (
	"context"
	"encoding/base64"

	"github.com/aws/aws-lambda-go/events"

	pwned "github.com/kacy/pwned-proxy"
)

// Lookup runs one invocation. *pwned.Handler implements it.
type Lookup interface {
	Handle(ctx context.Context, req *pwned.InvocationRequest) *pwned.Response
}

// Function adapts Lambda events to lookup invocations.
type Function struct {
	lookup Lookup
}

// New creates a Function backed by lookup.
func New(lookup Lookup) *Function {
	return &Function{lookup: lookup}
}

// HandleInvocation serves a direct invocation. The envelope is returned as
// the function result and the error is always nil.
func (f *Function) HandleInvocation(ctx context.Context, req pwned.InvocationRequest) (*pwned.Response, error) {
	return f.lookup.Handle(ctx, &req), nil
}

// HandleAPIGateway serves an API Gateway proxy event. Query string parameters
// become top-level arguments and the request body, if any, the encoded body.
func (f *Function) HandleAPIGateway(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	resp := f.lookup.Handle(ctx, requestFromEvent(event))
	return events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
	}, nil
}

func requestFromEvent(event events.APIGatewayProxyRequest) *pwned.InvocationRequest {
	q := event.QueryStringParameters
	req := &pwned.InvocationRequest{
		Account:     q["account"],
		DeviceToken: q["device_token"],
		BundleID:    q["bundle_id"],
		Platform:    q["platform"],
	}
	if v, ok := q["dev"]; ok {
		dev := pwned.ParseFlag(v)
		req.Dev = &dev
	}

	if event.Body != "" {
		body := event.Body
		if !event.IsBase64Encoded {
			body = base64.StdEncoding.EncodeToString([]byte(body))
		}
		req.HTTP = &pwned.HTTPArgs{Body: body}
	}
	return req
}
