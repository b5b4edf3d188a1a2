package listing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/your-org/vodpipeline/internal/inbound"
	"github.com/your-org/vodpipeline/internal/manifest"
	"github.com/your-org/vodpipeline/internal/pipeline"
	"github.com/your-org/vodpipeline/pkg/metrics"
	"github.com/your-org/vodpipeline/pkg/storage/objectstore"
)

// Stage is the name used in logs, metrics and spans.
const Stage = "generate-manifest"

// Store is the subset of objectstore.Client the generator uses.
type Store interface {
	ListPage(ctx context.Context, bucket, prefix, token string, limit int) (objectstore.Page, error)
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts objectstore.PutOptions) (objectstore.PutResult, error)
}

type Settings struct {
	InputBucket     string
	FileListsPrefix string
	PageSize        int
	MaxPages        int
}

func (s Settings) Validate() error {
	if err := pipeline.RequireSettings(map[string]string{
		"INPUT_BUCKET":      s.InputBucket,
		"FILE_LISTS_PREFIX": s.FileListsPrefix,
	}); err != nil {
		return err
	}
	if s.MaxPages <= 0 {
		return fmt.Errorf("%w: LIST_MAX_PAGES must be positive", pipeline.ErrMissingConfig)
	}
	return nil
}

type Params struct {
	Settings Settings
	Store    Store
	Policy   pipeline.Policy
	Logger   *zap.Logger
	Reporter pipeline.Reporter
	Metrics  *metrics.Metrics
}

// Generator writes one manifest per completed transcoding job listing every
// object the job produced.
type Generator struct {
	settings Settings
	store    Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	runner   pipeline.Runner
}

func NewGenerator(p Params) (*Generator, error) {
	if err := p.Settings.Validate(); err != nil {
		return nil, err
	}
	if p.Store == nil {
		return nil, errors.New("manifest generator requires an object store")
	}
	logr := p.Logger
	if logr == nil {
		logr = zap.NewNop()
	}
	return &Generator{
		settings: p.Settings,
		store:    p.Store,
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

type message struct {
	raw          string
	notification Notification
	err          error
}

func (m message) ref() string {
	if m.notification.JobID != "" {
		return m.notification.JobID
	}
	return truncateRef(m.raw, maxRefLen)
}

const maxRefLen = 64

// truncateRef cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRef(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// HandlePayload unwraps a bus delivery and handles each notification in it.
func (g *Generator) HandlePayload(ctx context.Context, payload []byte) (pipeline.Report, error) {
	msgs, err := inbound.DecodeBusMessages(payload)
	if err != nil {
		return pipeline.Report{Stage: Stage}, err
	}
	return g.HandleMessages(ctx, msgs), nil
}

// HandleMessages parses every message up front so an undecodable message is
// reported as that record's failure.
func (g *Generator) HandleMessages(ctx context.Context, msgs []string) pipeline.Report {
	items := make([]message, 0, len(msgs))
	for _, raw := range msgs {
		n, err := ParseNotification(raw)
		items = append(items, message{raw: raw, notification: n, err: err})
	}
	g.logger.Info("received job status event", zap.Int("records", len(items)))
	return pipeline.Run(ctx, g.runner, items, message.ref, func(ctx context.Context, m message) error {
		if m.err != nil {
			return m.err
		}
		return g.Process(ctx, m.notification)
	})
}

// Handle processes already decoded notifications.
func (g *Generator) Handle(ctx context.Context, notifications []Notification) pipeline.Report {
	return pipeline.Run(ctx, g.runner, notifications,
		func(n Notification) string { return n.JobID },
		g.Process)
}

// Process writes the manifest for one notification.
func (g *Generator) Process(ctx context.Context, n Notification) error {
	logr := g.logger.With(
		zap.String("job_id", n.JobID),
		zap.String("pipeline_id", n.PipelineID),
		zap.String("state", n.State),
	)
	if n.State != StateCompleted {
		logr.Info("job not completed, no manifest written",
			zap.Int("error_code", n.ErrorCode),
			zap.String("details", n.MessageDetails),
		)
		return fmt.Errorf("%w: job state %s", pipeline.ErrSkipped, n.State)
	}
	if err := n.validate(); err != nil {
		return err
	}

	summaries, pages, err := g.collect(ctx, n.OutputKeyPrefix)
	if err != nil {
		return err
	}
	logr.Info("listing complete",
		zap.String("bucket", g.settings.InputBucket),
		zap.String("prefix", n.OutputKeyPrefix),
		zap.Int("pages", pages),
		zap.Int("objects", len(summaries)),
	)

	records := make([]manifest.Record, 0, len(summaries))
	for _, s := range summaries {
		records = append(records, manifest.Record{Container: s.Bucket, Key: s.Key, Size: s.Size})
	}
	payload := manifest.EncodeRecords(records)
	key := manifest.ListingKey(g.settings.FileListsPrefix, manifest.SourceName(n.Input.Key))

	if _, err := g.store.Put(ctx, g.settings.InputBucket, key, bytes.NewReader(payload), int64(len(payload)), objectstore.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"transcoder-job-id": n.JobID},
	}); err != nil {
		return fmt.Errorf("write manifest %s: %w", key, err)
	}
	if g.metrics != nil {
		g.metrics.ObserveListing(pages, len(records))
	}
	logr.Info("manifest written", zap.String("key", key), zap.Int("records", len(records)))
	return nil
}

// collect lists every object under prefix. It fails rather than returning a
// partial list when the store keeps reporting more pages without a usable
// continuation token or beyond MaxPages.
func (g *Generator) collect(ctx context.Context, prefix string) ([]objectstore.ObjectSummary, int, error) {
	var (
		all   []objectstore.ObjectSummary
		token string
	)
	for pages := 1; ; pages++ {
		if pages > g.settings.MaxPages {
			return nil, pages - 1, fmt.Errorf("%w: %s still truncated after %d pages", pipeline.ErrIncompleteListing, prefix, g.settings.MaxPages)
		}
		page, err := g.store.ListPage(ctx, g.settings.InputBucket, prefix, token, g.settings.PageSize)
		if err != nil {
			return nil, pages, fmt.Errorf("list page %d of %s: %w", pages, prefix, err)
		}
		all = append(all, page.Objects...)
		if !page.Truncated {
			return all, pages, nil
		}
		if page.NextToken == "" || page.NextToken == token {
			return nil, pages, fmt.Errorf("%w: page %d of %s is truncated without a new continuation token", pipeline.ErrIncompleteListing, pages, prefix)
		}
		token = page.NextToken
	}
}
