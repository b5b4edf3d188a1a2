package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/vodpipeline/pkg/metrics"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome is the result of handling one record.
type Outcome struct {
	Stage   string
	Ref     string
	Status  Status
	Err     error
	Elapsed time.Duration
}

// Reporter receives every record outcome.
type Reporter interface {
	Report(ctx context.Context, o Outcome)
}

type NopReporter struct{}

func (NopReporter) Report(context.Context, Outcome) {}

// Reporters fans an outcome out to several reporters.
type Reporters []Reporter

func (rs Reporters) Report(ctx context.Context, o Outcome) {
	for _, r := range rs {
		r.Report(ctx, o)
	}
}

// MetricsReporter counts outcomes in Prometheus.
type MetricsReporter struct {
	Metrics *metrics.Metrics
}

func (m MetricsReporter) Report(_ context.Context, o Outcome) {
	m.Metrics.ObserveRecord(o.Stage, string(o.Status), o.Elapsed)
	if o.Status == StatusFailed {
		m.Metrics.ObserveFailure(o.Stage, Kind(o.Err))
	}
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any, headers map[string]string) error
}

// FailureEvent is published for every failed record.
type FailureEvent struct {
	Stage      string    `json:"stage"`
	Record     string    `json:"record"`
	Kind       string    `json:"kind"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FailurePublisher forwards failed outcomes to the event bus so they can be
// alerted on or replayed. Publishing errors are logged and dropped.
type FailurePublisher struct {
	Publisher Publisher
	Logger    *zap.Logger
}

func (f FailurePublisher) Report(ctx context.Context, o Outcome) {
	if o.Status != StatusFailed {
		return
	}
	event := FailureEvent{
		Stage:      o.Stage,
		Record:     o.Ref,
		Kind:       Kind(o.Err),
		Error:      o.Err.Error(),
		OccurredAt: time.Now().UTC(),
	}
	headers := map[string]string{
		"event_type": "pipeline.failure",
		"stage":      o.Stage,
	}
	if err := f.Publisher.PublishJSON(ctx, o.Ref, event, headers); err != nil && f.Logger != nil {
		f.Logger.Warn("publish failure event", zap.String("record", o.Ref), zap.Error(err))
	}
}
