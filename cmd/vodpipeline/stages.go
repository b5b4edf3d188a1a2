package main

import (
	"context"
	"fmt"

	"github.com/your-org/vodpipeline/internal/batchcopy"
	"github.com/your-org/vodpipeline/internal/listing"
	"github.com/your-org/vodpipeline/internal/transcode"
	"github.com/your-org/vodpipeline/internal/trigger"
	"github.com/your-org/vodpipeline/pkg/batchjobs"
	"github.com/your-org/vodpipeline/pkg/config"
	"github.com/your-org/vodpipeline/pkg/storage/objectquery"
	"github.com/your-org/vodpipeline/pkg/transcoder"
)

type stage struct {
	name  string
	short string
	topic func(config.KafkaConfig) string
	build func(ctx context.Context, rt *runtime) (trigger.PayloadHandler, error)
}

func stages() []stage {
	return []stage{
		{
			name:  transcode.Stage,
			short: "Submit a transcoding job for every uploaded source video",
			topic: func(k config.KafkaConfig) string { return k.UploadsTopic },
			build: buildTranscode,
		},
		{
			name:  listing.Stage,
			short: "Write the file manifest of every completed transcoding job",
			topic: func(k config.KafkaConfig) string { return k.JobStatusTopic },
			build: buildListing,
		},
		{
			name:  batchcopy.Stage,
			short: "Submit a batch copy job for every new manifest",
			topic: func(k config.KafkaConfig) string { return k.ManifestsTopic },
			build: buildBatchCopy,
		},
	}
}

func buildTranscode(ctx context.Context, rt *runtime) (trigger.PayloadHandler, error) {
	settings := transcode.Settings{
		PipelineID:   rt.cfg.Pipeline.TranscoderPipelineID,
		OutputPrefix: rt.cfg.Pipeline.TranscodedPrefix,
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	store, err := rt.objectStore()
	if err != nil {
		return nil, err
	}
	tc, err := transcoder.New(ctx, rt.cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("init transcoder: %w", err)
	}
	s, err := transcode.NewScheduler(transcode.Params{
		Settings:   settings,
		Transcoder: tc,
		Store:      store,
		Logger:     rt.logger,
		Reporter:   rt.reporter,
		Metrics:    rt.metrics,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func buildListing(_ context.Context, rt *runtime) (trigger.PayloadHandler, error) {
	settings := listing.Settings{
		InputBucket:     rt.cfg.Pipeline.InputBucket,
		FileListsPrefix: rt.cfg.Pipeline.FileListsPrefix,
		PageSize:        rt.cfg.Pipeline.ListPageSize,
		MaxPages:        rt.cfg.Pipeline.ListMaxPages,
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	policy, err := rt.policy()
	if err != nil {
		return nil, err
	}
	store, err := rt.objectStore()
	if err != nil {
		return nil, err
	}
	g, err := listing.NewGenerator(listing.Params{
		Settings: settings,
		Store:    store,
		Policy:   policy,
		Logger:   rt.logger,
		Reporter: rt.reporter,
		Metrics:  rt.metrics,
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func buildBatchCopy(ctx context.Context, rt *runtime) (trigger.PayloadHandler, error) {
	settings := batchcopy.Settings{
		AccountID:      rt.cfg.Pipeline.AccountID,
		ManifestPrefix: rt.cfg.Pipeline.ManifestPrefix,
		OutputBucket:   rt.cfg.Pipeline.OutputBucket,
		RoleARN:        rt.cfg.Pipeline.RoleARN,
		TokenMode:      rt.cfg.Pipeline.TokenMode,
		ListingPrefix:  rt.cfg.Pipeline.FileListsPrefix,
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	policy, err := rt.policy()
	if err != nil {
		return nil, err
	}
	store, err := rt.objectStore()
	if err != nil {
		return nil, err
	}
	query, err := objectquery.New(ctx, objectquery.Config{
		Region:   rt.cfg.AWS.Region,
		Endpoint: rt.cfg.AWS.S3Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("init object query: %w", err)
	}
	jobs, err := batchjobs.New(ctx, rt.cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("init batch jobs: %w", err)
	}
	s, err := batchcopy.NewScheduler(batchcopy.Params{
		Settings: settings,
		Querier:  batchcopy.QueryClient{Client: query},
		Writer:   store,
		Jobs:     jobs,
		Policy:   policy,
		Logger:   rt.logger,
		Reporter: rt.reporter,
		Metrics:  rt.metrics,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
