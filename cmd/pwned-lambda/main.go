// AWS Lambda entry point
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	pwned "github.com/kacy/pwned-proxy"
	"github.com/kacy/pwned-proxy/common"
	"github.com/kacy/pwned-proxy/lambdafn"
)

func main() {
	logger := common.SetupLogger(&common.LoggingOpts{
		JSON:    true,
		Debug:   os.Getenv("LOG_DEBUG") == "true",
		Service: common.PackageName,
		Version: common.Version,
	})

	cfg, err := pwned.LoadConfigFromEnv()
	if err != nil {
		panic("Invalid configuration: " + err.Error())
	}

	handler, err := pwned.NewHandler(context.Background(), cfg, logger)
	if err != nil {
		panic("Failed to create handler: " + err.Error())
	}

	fn := lambdafn.New(handler)
	if os.Getenv("LAMBDA_DIRECT_INVOKE") == "true" {
		lambda.Start(fn.HandleInvocation)
		return
	}
	lambda.Start(fn.HandleAPIGateway)
}
