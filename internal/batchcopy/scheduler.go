package batchcopy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/vodpipeline/internal/inbound"
	"github.com/your-org/vodpipeline/internal/manifest"
	"github.com/your-org/vodpipeline/internal/pipeline"
	"github.com/your-org/vodpipeline/pkg/batchjobs"
	"github.com/your-org/vodpipeline/pkg/metrics"
	"github.com/your-org/vodpipeline/pkg/storage/objectquery"
	"github.com/your-org/vodpipeline/pkg/storage/objectstore"
)

// Stage is the name used in logs, metrics and spans.
const Stage = "schedule-copy"

const (
	// SelectExpression projects the container and key columns of a manifest.
	SelectExpression = "SELECT s._1, s._2 FROM s3object s"

	ReportPrefix = "reports"
	JobPriority  = 10
)

// Token modes for the batch job idempotency token.
const (
	TokenRandom  = "random"
	TokenContent = "content"
)

// Result is what a query returns: a byte stream that knows whether the
// server signalled the end of the result set. *objectquery.Stream satisfies it.
type Result interface {
	io.ReadCloser
	Complete() bool
}

// Querier runs the projection query over a manifest.
type Querier interface {
	Query(ctx context.Context, req objectquery.Request) (Result, error)
}

// QueryClient adapts *objectquery.Client to Querier.
type QueryClient struct {
	Client *objectquery.Client
}

func (q QueryClient) Query(ctx context.Context, req objectquery.Request) (Result, error) {
	stream, err := q.Client.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Writer stores the copy-manifest. objectstore.Client satisfies it.
type Writer interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts objectstore.PutOptions) (objectstore.PutResult, error)
}

// JobSubmitter is satisfied by *batchjobs.Client.
type JobSubmitter interface {
	Submit(ctx context.Context, req batchjobs.JobRequest) (string, error)
}

type Settings struct {
	AccountID      string
	ManifestPrefix string
	OutputBucket   string
	RoleARN        string
	TokenMode      string
	// ListingPrefix is where stage 2 writes manifests. When set it must
	// not fall under ManifestPrefix, whose keys are skipped as our own.
	ListingPrefix string
}

func (s Settings) Validate() error {
	if err := pipeline.RequireSettings(map[string]string{
		"ACCOUNT_ID":      s.AccountID,
		"MANIFEST_PREFIX": s.ManifestPrefix,
		"OUTPUT_BUCKET":   s.OutputBucket,
		"IAM_ROLE_ARN":    s.RoleARN,
	}); err != nil {
		return err
	}
	if s.ListingPrefix != "" && underPrefix(s.ListingPrefix, s.ManifestPrefix) {
		return fmt.Errorf("%w: FILE_LISTS_PREFIX %q must not equal or sit under MANIFEST_PREFIX %q", pipeline.ErrMissingConfig, s.ListingPrefix, s.ManifestPrefix)
	}
	switch s.TokenMode {
	case "", TokenRandom, TokenContent:
		return nil
	default:
		return fmt.Errorf("%w: BATCH_TOKEN_MODE must be %q or %q, got %q", pipeline.ErrMissingConfig, TokenRandom, TokenContent, s.TokenMode)
	}
}

// underPrefix reports whether key equals prefix or lies below it as a
// "/"-separated path.
func underPrefix(key, prefix string) bool {
	key = strings.TrimRight(key, "/")
	prefix = strings.TrimRight(prefix, "/")
	return key == prefix || strings.HasPrefix(key, prefix+"/")
}

type Params struct {
	Settings Settings
	Querier  Querier
	Writer   Writer
	Jobs     JobSubmitter
	Policy   pipeline.Policy
	Logger   *zap.Logger
	Reporter pipeline.Reporter
	Metrics  *metrics.Metrics
}

// Scheduler turns a newly written manifest into a bulk copy job.
type Scheduler struct {
	settings Settings
	querier  Querier
	writer   Writer
	jobs     JobSubmitter
	logger   *zap.Logger
	metrics  *metrics.Metrics
	runner   pipeline.Runner
}

func NewScheduler(p Params) (*Scheduler, error) {
	if err := p.Settings.Validate(); err != nil {
		return nil, err
	}
	if p.Querier == nil || p.Writer == nil || p.Jobs == nil {
		return nil, errors.New("copy scheduler requires a querier, an object store and a batch jobs client")
	}
	if p.Settings.TokenMode == "" {
		p.Settings.TokenMode = TokenRandom
	}
	logr := p.Logger
	if logr == nil {
		logr = zap.NewNop()
	}
	return &Scheduler{
		settings: p.Settings,
		querier:  p.Querier,
		writer:   p.Writer,
		jobs:     p.Jobs,
		logger:   logr,
		metrics:  p.Metrics,
		runner: pipeline.Runner{
			Stage:    Stage,
			Policy:   p.Policy,
			Logger:   logr,
			Reporter: p.Reporter,
		},
	}, nil
}

// HandlePayload decodes an object store notification and handles its records.
func (s *Scheduler) HandlePayload(ctx context.Context, payload []byte) (pipeline.Report, error) {
	refs, err := inbound.DecodeObjectEvents(payload)
	if err != nil {
		return pipeline.Report{Stage: Stage}, err
	}
	return s.Handle(ctx, refs), nil
}

func (s *Scheduler) Handle(ctx context.Context, refs []inbound.ObjectRef) pipeline.Report {
	s.logger.Info("received manifest event", zap.Int("records", len(refs)))
	return pipeline.Run(ctx, s.runner, refs, inbound.ObjectRef.String, s.Process)
}

// Process schedules the copy job for one manifest.
func (s *Scheduler) Process(ctx context.Context, ref inbound.ObjectRef) error {
	if !ref.Created() {
		return fmt.Errorf("%w: event %s", pipeline.ErrSkipped, ref.EventName)
	}
	if ref.Bucket == "" || ref.Key == "" || strings.HasSuffix(ref.Key, "/") {
		return fmt.Errorf("%w: manifest record does not name a file: %q", pipeline.ErrMalformedEvent, ref.String())
	}
	// the copy-manifest is written next to the manifests and may raise the
	// same notification.
	if underPrefix(ref.Key, s.settings.ManifestPrefix) {
		return fmt.Errorf("%w: %s is a copy-manifest", pipeline.ErrSkipped, ref.Key)
	}

	logr := s.logger.With(zap.String("bucket", ref.Bucket), zap.String("key", ref.Key))
	records, err := s.query(ctx, ref)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: manifest %s lists no objects", pipeline.ErrSkipped, ref.String())
	}
	logr.Info("manifest query complete", zap.Int("records", len(records)))

	name := manifest.SourceName(ref.Key)
	copyKey := manifest.CopyManifestKey(s.settings.ManifestPrefix, name)
	payload := manifest.EncodeCopyRecords(records)
	put, err := s.writer.Put(ctx, ref.Bucket, copyKey, bytes.NewReader(payload), int64(len(payload)), objectstore.PutOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("write copy-manifest %s: %w", copyKey, err)
	}
	logr.Info("copy-manifest written", zap.String("copy_manifest", copyKey), zap.String("etag", put.ETag))

	req := BuildJobRequest(s.settings, ref.Bucket, copyKey, put.ETag, name)
	jobID, err := s.jobs.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("create batch job for %s: %w", copyKey, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveSubmission("s3control")
	}
	logr.Info("batch copy job created", zap.String("job_id", jobID), zap.String("token", req.ClientRequestToken))
	return nil
}

// query reads the whole projection and refuses to return it unless the
// server's end marker was seen.
func (s *Scheduler) query(ctx context.Context, ref inbound.ObjectRef) ([]manifest.CopyRecord, error) {
	result, err := s.querier.Query(ctx, objectquery.Request{
		Bucket:     ref.Bucket,
		Key:        ref.Key,
		Expression: SelectExpression,
	})
	if err != nil {
		return nil, err
	}
	defer result.Close()

	body, err := io.ReadAll(result)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", pipeline.ErrIncompleteQuery, ref.String(), err)
	}
	if !result.Complete() {
		return nil, fmt.Errorf("%w: %s ended after %d bytes without an end marker", pipeline.ErrIncompleteQuery, ref.String(), len(body))
	}
	records, err := manifest.DecodeCopyRecords(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrMalformedEvent, err)
	}
	return records, nil
}

// BuildJobRequest describes a copy of every object listed in the
// copy-manifest into the output bucket.
func BuildJobRequest(settings Settings, bucket, copyKey, etag, name string) batchjobs.JobRequest {
	return batchjobs.JobRequest{
		AccountID: settings.AccountID,
		Operation: batchjobs.CopyOperation{
			TargetBucketARN:   bucketARN(settings.OutputBucket),
			MetadataDirective: batchjobs.MetadataDirectiveCopy,
			StorageClass:      batchjobs.StorageClassStandard,
		},
		Manifest: batchjobs.ManifestSpec{
			ObjectARN: bucketARN(bucket) + "/" + copyKey,
			ETag:      etag,
			Format:    batchjobs.ManifestFormatCSV,
			Fields:    []string{"Bucket", "Key"},
		},
		Report: batchjobs.ReportSpec{
			BucketARN: bucketARN(bucket),
			Prefix:    ReportPrefix,
			Format:    batchjobs.ReportFormatCSV,
			Enabled:   true,
			Scope:     batchjobs.ReportScopeAll,
		},
		RoleARN:              settings.RoleARN,
		ClientRequestToken:   RequestToken(settings.TokenMode, bucket, copyKey, etag),
		Priority:             JobPriority,
		Description:          "Copying final transcoded videos for " + name,
		ConfirmationRequired: false,
	}
}

// RequestToken returns a fresh token in random mode. In content mode the
// token is derived from the copy-manifest identity, so a redelivered event
// maps to the job already created for it.
func RequestToken(mode, bucket, copyKey, etag string) string {
	if mode == TokenContent {
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte("s3://"+bucket+"/"+copyKey+"#"+etag)).String()
	}
	return uuid.NewString()
}

func bucketARN(bucket string) string {
	return "arn:aws:s3:::" + bucket
}
