// Package trigger connects a stage to the platform that delivers its events:
// a Kafka topic, an HTTP webhook or an AWS Lambda invocation. Every adapter
// hands the raw payload to the stage and absorbs record failures, which the
// stage has already logged, counted and reported.
package trigger

import (
	"context"

	"go.uber.org/zap"

	"github.com/your-org/vodpipeline/internal/pipeline"
)

// PayloadHandler is implemented by each stage.
type PayloadHandler interface {
	HandlePayload(ctx context.Context, payload []byte) (pipeline.Report, error)
}

// PayloadHandlerFunc adapts a function to PayloadHandler.
type PayloadHandlerFunc func(ctx context.Context, payload []byte) (pipeline.Report, error)

func (f PayloadHandlerFunc) HandlePayload(ctx context.Context, payload []byte) (pipeline.Report, error) {
	return f(ctx, payload)
}

func logReport(logr *zap.Logger, source string, report pipeline.Report, err error) {
	if err != nil {
		logr.Error("event rejected", zap.String("source", source), zap.Error(err))
		return
	}
	if len(report.Failures) > 0 || report.Abandoned > 0 {
		logr.Warn("event handled with failures",
			zap.String("source", source),
			zap.Int("failed", len(report.Failures)),
			zap.Int("abandoned", report.Abandoned),
			zap.Error(report.Err()),
		)
	}
}
