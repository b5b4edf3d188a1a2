package trigger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/vodpipeline/pkg/kafka"
)

// MessageSource is satisfied by *kafka.Consumer.
type MessageSource interface {
	Run(ctx context.Context, handle kafka.HandlerFunc) error
}

// KafkaHandler returns a consumer callback that runs the stage on each
// message value under its own deadline. Record failures are absorbed. It
// returns an error, leaving the offset uncommitted for redelivery, when ctx
// ended mid-message or the deadline cut the batch short.
func KafkaHandler(h PayloadHandler, timeout time.Duration, logr *zap.Logger) kafka.HandlerFunc {
	if logr == nil {
		logr = zap.NewNop()
	}
	return func(ctx context.Context, msg kafka.Message) error {
		source := fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		handleCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			handleCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		report, err := h.HandlePayload(handleCtx, msg.Value)
		logReport(logr, source, report, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if report.Abandoned > 0 && handleCtx.Err() != nil {
			return fmt.Errorf("%s: %d of %d records not attempted: %w", source, report.Abandoned, report.Total, handleCtx.Err())
		}
		return nil
	}
}

// RunKafka consumes from src until ctx is cancelled.
func RunKafka(ctx context.Context, src MessageSource, h PayloadHandler, timeout time.Duration, logr *zap.Logger) error {
	return src.Run(ctx, KafkaHandler(h, timeout, logr))
}
