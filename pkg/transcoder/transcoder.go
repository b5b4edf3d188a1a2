// Package transcoder submits jobs to AWS Elastic Transcoder.
package transcoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/elastictranscoder"
	"github.com/aws/aws-sdk-go-v2/service/elastictranscoder/types"
)

// Output is one encoded rendition of the input.
type Output struct {
	Key              string
	PresetID         string
	SegmentDuration  string
	ThumbnailPattern string
}

// Playlist groups outputs into an adaptive-bitrate master playlist.
type Playlist struct {
	Name       string
	Format     string
	OutputKeys []string
}

// JobRequest is everything needed to transcode one source object.
type JobRequest struct {
	PipelineID      string
	InputKey        string
	OutputKeyPrefix string
	Outputs         []Output
	Playlists       []Playlist
}

type api interface {
	CreateJob(ctx context.Context, params *elastictranscoder.CreateJobInput, optFns ...func(*elastictranscoder.Options)) (*elastictranscoder.CreateJobOutput, error)
}

// Client wraps the Elastic Transcoder API.
type Client struct {
	api api
}

// New builds a Client from the default AWS credential chain.
func New(ctx context.Context, region string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{api: elastictranscoder.NewFromConfig(cfg)}, nil
}

// Submit creates the job and returns its identifier.
func (c *Client) Submit(ctx context.Context, req JobRequest) (string, error) {
	out, err := c.api.CreateJob(ctx, buildInput(req))
	if err != nil {
		return "", fmt.Errorf("create transcoder job: %w", err)
	}
	if out.Job == nil || aws.ToString(out.Job.Id) == "" {
		return "", errors.New("create transcoder job: response carried no job id")
	}
	return aws.ToString(out.Job.Id), nil
}

func buildInput(req JobRequest) *elastictranscoder.CreateJobInput {
	in := &elastictranscoder.CreateJobInput{
		PipelineId:      aws.String(req.PipelineID),
		Input:           &types.JobInput{Key: aws.String(req.InputKey)},
		OutputKeyPrefix: aws.String(req.OutputKeyPrefix),
	}
	for _, o := range req.Outputs {
		in.Outputs = append(in.Outputs, types.CreateJobOutput{
			Key:              aws.String(o.Key),
			PresetId:         aws.String(o.PresetID),
			SegmentDuration:  aws.String(o.SegmentDuration),
			ThumbnailPattern: aws.String(o.ThumbnailPattern),
		})
	}
	for _, p := range req.Playlists {
		in.Playlists = append(in.Playlists, types.CreateJobPlaylist{
			Name:       aws.String(p.Name),
			Format:     aws.String(p.Format),
			OutputKeys: p.OutputKeys,
		})
	}
	return in
}
