package transcode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/vodpipeline/internal/inbound"
	"github.com/your-org/vodpipeline/internal/manifest"
	"github.com/your-org/vodpipeline/internal/pipeline"
	"github.com/your-org/vodpipeline/pkg/metrics"
	"github.com/your-org/vodpipeline/pkg/transcoder"
)

// Stage is the name used in logs, metrics and spans.
const Stage = "schedule-transcode"

const (
	// HLS400kPresetID is the Elastic Transcoder system preset "HLS 400k".
	HLS400kPresetID  = "1351620000001-200050"
	SegmentDuration  = "2"
	PlaylistFormat   = "HLSv3"
	JobIDMetadataKey = "et-job-id"
)

// JobSubmitter is satisfied by *transcoder.Client.
type JobSubmitter interface {
	Submit(ctx context.Context, req transcoder.JobRequest) (string, error)
}

// MetadataUpdater is satisfied by objectstore.Client.
type MetadataUpdater interface {
	UpdateMetadata(ctx context.Context, bucket, key string, metadata map[string]string) error
}

// Settings are the configuration values this stage reads.
type Settings struct {
	PipelineID   string
	OutputPrefix string
}

func (s Settings) Validate() error {
	return pipeline.RequireSettings(map[string]string{
		"ELASTIC_TRANSCODER_PIPELINE_ID": s.PipelineID,
		"TRANSCODED_VIDEOS_PREFIX":       s.OutputPrefix,
	})
}

type Params struct {
	Settings   Settings
	Transcoder JobSubmitter
	Store      MetadataUpdater
	Logger     *zap.Logger
	Reporter   pipeline.Reporter
	Metrics    *metrics.Metrics
}

// Scheduler submits one transcoding job per uploaded source video and tags
// the source with the resulting job id.
type Scheduler struct {
	settings   Settings
	transcoder JobSubmitter
	store      MetadataUpdater
	logger     *zap.Logger
	metrics    *metrics.Metrics
	runner     pipeline.Runner
}

// NewScheduler validates settings and constructs a Scheduler.
func NewScheduler(p Params) (*Scheduler, error) {
	if err := p.Settings.Validate(); err != nil {
		return nil, err
	}
	if p.Transcoder == nil || p.Store == nil {
		return nil, errors.New("transcode scheduler requires a transcoder and an object store")
	}
	logr := p.Logger
	if logr == nil {
		logr = zap.NewNop()
	}
	return &Scheduler{
		settings:   p.Settings,
		transcoder: p.Transcoder,
		store:      p.Store,
		logger:     logr,
		metrics:    p.Metrics,
		// uploads are independent of each other, so one bad record never
		// stops the rest regardless of FAILURE_POLICY.
		runner: pipeline.Runner{
			Stage:    Stage,
			Policy:   pipeline.Isolate,
			Logger:   logr,
			Reporter: p.Reporter,
		},
	}, nil
}

// HandlePayload decodes an object store notification and handles its records.
func (s *Scheduler) HandlePayload(ctx context.Context, payload []byte) (pipeline.Report, error) {
	uploads, err := inbound.DecodeObjectEvents(payload)
	if err != nil {
		return pipeline.Report{Stage: Stage}, err
	}
	return s.Handle(ctx, uploads), nil
}

// Handle processes each upload independently.
func (s *Scheduler) Handle(ctx context.Context, uploads []inbound.ObjectRef) pipeline.Report {
	s.logger.Info("received upload event", zap.Int("records", len(uploads)))
	return pipeline.Run(ctx, s.runner, uploads, inbound.ObjectRef.String, s.process)
}

func (s *Scheduler) process(ctx context.Context, up inbound.ObjectRef) error {
	if !up.Created() {
		return fmt.Errorf("%w: event %s", pipeline.ErrSkipped, up.EventName)
	}
	if up.Bucket == "" || up.Key == "" || strings.HasSuffix(up.Key, "/") {
		return fmt.Errorf("%w: upload record does not name a file: %q", pipeline.ErrMalformedEvent, up.String())
	}

	req := BuildJobRequest(s.settings, up.Key)
	logr := s.logger.With(zap.String("bucket", up.Bucket), zap.String("key", up.Key))
	logr.Info("processing upload", zap.String("output_prefix", req.OutputKeyPrefix))

	jobID, err := s.transcoder.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("submit transcoding job for %s: %w", up.Key, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveSubmission("elastictranscoder")
	}
	logr.Info("transcoding job created", zap.String("job_id", jobID))

	if err := s.store.UpdateMetadata(ctx, up.Bucket, up.Key, map[string]string{JobIDMetadataKey: jobID}); err != nil {
		return fmt.Errorf("tag %s with job %s: %w", up.String(), jobID, err)
	}
	logr.Info("source object tagged", zap.String("job_id", jobID))
	return nil
}

// BuildJobRequest describes a single HLS rendition plus its playlist. All
// outputs live under a prefix namespaced by the source file name so uploads
// with equal output names never collide.
func BuildJobRequest(settings Settings, key string) transcoder.JobRequest {
	name := manifest.SourceName(key)
	output := transcoder.Output{
		Key:              "hls0400k/" + name,
		PresetID:         HLS400kPresetID,
		SegmentDuration:  SegmentDuration,
		ThumbnailPattern: "thumbnails/{count}-" + name,
	}
	return transcoder.JobRequest{
		PipelineID:      settings.PipelineID,
		InputKey:        key,
		OutputKeyPrefix: OutputKeyPrefix(settings.OutputPrefix, name),
		Outputs:         []transcoder.Output{output},
		Playlists: []transcoder.Playlist{{
			Name:       "hls_playlist_" + name,
			Format:     PlaylistFormat,
			OutputKeys: []string{output.Key},
		}},
	}
}

// OutputKeyPrefix is the namespace all of one source's outputs are written to.
func OutputKeyPrefix(prefix, sourceName string) string {
	return strings.TrimRight(prefix, "/") + "/" + sourceName + "/"
}
