// Package pipeline holds the per-record batch runner shared by the three
// stages together with the error taxonomy and failure reporting.
//
// A stage never hands an error back to whatever delivered its event. Every
// record outcome ends up in a Report, in the logs, in metrics and optionally
// on a failures topic.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/vodpipeline/pkg/tracing"
)

// ErrPanic wraps a recovered panic from a record handler.
var ErrPanic = errors.New("record handler panicked")

// Policy decides what happens to the rest of a batch after a record fails.
type Policy int

const (
	// Isolate keeps processing the remaining records.
	Isolate Policy = iota
	// Abort abandons the remaining records, matching the historical
	// behaviour of the manifest and batch-copy handlers.
	Abort
)

func (p Policy) String() string {
	if p == Abort {
		return "abort"
	}
	return "isolate"
}

// ParsePolicy maps FAILURE_POLICY values.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "isolate":
		return Isolate, nil
	case "abort":
		return Abort, nil
	default:
		return Isolate, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Failure is one record that could not be processed.
type Failure struct {
	Index int
	Ref   string
	Err   error
}

// Report summarises one batch.
type Report struct {
	Stage     string
	Total     int
	Succeeded int
	Skipped   int
	Failures  []Failure
	// Abandoned counts records never attempted because the batch aborted.
	Abandoned int
}

// Err joins all record failures, or returns nil.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Ref, f.Err))
	}
	return errors.Join(errs...)
}

// Runner processes a batch of records one at a time.
type Runner struct {
	Stage    string
	Policy   Policy
	Logger   *zap.Logger
	Reporter Reporter
}

// Run calls fn for each item in order. fn returning an error wrapping
// ErrSkipped counts as a deliberate skip, not a failure.
func Run[T any](ctx context.Context, r Runner, items []T, ref func(T) string, fn func(context.Context, T) error) Report {
	logr := r.Logger
	if logr == nil {
		logr = zap.NewNop()
	}
	reporter := r.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}

	report := Report{Stage: r.Stage, Total: len(items)}
	for i, item := range items {
		id := ref(item)
		if err := ctx.Err(); err != nil {
			report.Abandoned = len(items) - i
			logr.Warn("batch interrupted", zap.Error(err), zap.Int("abandoned", report.Abandoned))
			break
		}

		start := time.Now()
		err := runOne(ctx, r.Stage, id, item, fn)
		outcome := Outcome{Stage: r.Stage, Ref: id, Elapsed: time.Since(start), Err: err}

		switch {
		case err == nil:
			report.Succeeded++
			outcome.Status = StatusSucceeded
		case errors.Is(err, ErrSkipped):
			report.Skipped++
			outcome.Status = StatusSkipped
			logr.Info("record skipped", zap.String("record", id), zap.String("reason", err.Error()))
		default:
			report.Failures = append(report.Failures, Failure{Index: i, Ref: id, Err: err})
			outcome.Status = StatusFailed
			logr.Error("record failed",
				zap.String("record", id),
				zap.String("kind", Kind(err)),
				zap.Error(err),
			)
		}
		reporter.Report(ctx, outcome)

		if outcome.Status == StatusFailed && r.Policy == Abort {
			report.Abandoned = len(items) - i - 1
			if report.Abandoned > 0 {
				logr.Warn("abandoning rest of batch", zap.Int("abandoned", report.Abandoned))
			}
			break
		}
	}

	logr.Info("batch processed",
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)),
		zap.Int("abandoned", report.Abandoned),
	)
	return report
}

func runOne[T any](ctx context.Context, stage, id string, item T, fn func(context.Context, T) error) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, stage+".record",
		trace.WithAttributes(tracing.StageKey.String(stage), attribute.String("pipeline.record", id)))
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
		if err != nil && !errors.Is(err, ErrSkipped) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return fn(ctx, item)
}
