package trigger

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"
)

// LambdaHandler returns the function registered with the Lambda runtime. It
// never returns an error, so the platform does not retry the invocation.
func LambdaHandler(h PayloadHandler, logr *zap.Logger) func(context.Context, json.RawMessage) error {
	if logr == nil {
		logr = zap.NewNop()
	}
	return func(ctx context.Context, payload json.RawMessage) error {
		source := "lambda"
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			source = "lambda " + lc.AwsRequestID
		}
		report, err := h.HandlePayload(ctx, payload)
		logReport(logr, source, report, err)
		return nil
	}
}

// StartLambda hands control to the Lambda runtime. It does not return.
func StartLambda(h PayloadHandler, logr *zap.Logger) {
	lambda.Start(LambdaHandler(h, logr))
}
