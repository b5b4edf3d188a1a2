// Package batchjobs submits S3 Batch Operations jobs through S3 Control.
package batchjobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"github.com/aws/aws-sdk-go-v2/service/s3control/types"
)

const (
	ManifestFormatCSV = "S3BatchOperations_CSV_20180820"
	ReportFormatCSV   = "Report_CSV_20180820"
	ReportScopeAll    = "AllTasks"

	MetadataDirectiveCopy = "COPY"
	StorageClassStandard  = "STANDARD"
)

// CopyOperation copies every manifest entry into TargetBucketARN.
type CopyOperation struct {
	TargetBucketARN   string
	MetadataDirective string
	StorageClass      string
}

// ManifestSpec locates the CSV manifest driving the job.
type ManifestSpec struct {
	ObjectARN string
	ETag      string
	Format    string
	Fields    []string
}

// ReportSpec controls the completion report.
type ReportSpec struct {
	BucketARN string
	Prefix    string
	Format    string
	Enabled   bool
	Scope     string
}

// JobRequest describes one batch copy job.
type JobRequest struct {
	AccountID            string
	Operation            CopyOperation
	Manifest             ManifestSpec
	Report               ReportSpec
	RoleARN              string
	ClientRequestToken   string
	Priority             int32
	Description          string
	ConfirmationRequired bool
}

type api interface {
	CreateJob(ctx context.Context, params *s3control.CreateJobInput, optFns ...func(*s3control.Options)) (*s3control.CreateJobOutput, error)
}

// Client wraps the S3 Control API.
type Client struct {
	api api
}

// New builds a Client from the default AWS credential chain.
func New(ctx context.Context, region string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{api: s3control.NewFromConfig(cfg)}, nil
}

// Submit creates the job and returns its identifier.
func (c *Client) Submit(ctx context.Context, req JobRequest) (string, error) {
	out, err := c.api.CreateJob(ctx, buildInput(req))
	if err != nil {
		return "", fmt.Errorf("create batch job: %w", err)
	}
	if aws.ToString(out.JobId) == "" {
		return "", errors.New("create batch job: response carried no job id")
	}
	return aws.ToString(out.JobId), nil
}

func buildInput(req JobRequest) *s3control.CreateJobInput {
	fields := make([]types.JobManifestFieldName, 0, len(req.Manifest.Fields))
	for _, f := range req.Manifest.Fields {
		fields = append(fields, types.JobManifestFieldName(f))
	}

	return &s3control.CreateJobInput{
		AccountId: aws.String(req.AccountID),
		Operation: &types.JobOperation{
			S3PutObjectCopy: &types.S3CopyObjectOperation{
				TargetResource:    aws.String(req.Operation.TargetBucketARN),
				MetadataDirective: types.S3MetadataDirective(req.Operation.MetadataDirective),
				StorageClass:      types.S3StorageClass(req.Operation.StorageClass),
			},
		},
		Manifest: &types.JobManifest{
			Spec: &types.JobManifestSpec{
				Format: types.JobManifestFormat(req.Manifest.Format),
				Fields: fields,
			},
			Location: &types.JobManifestLocation{
				ObjectArn: aws.String(req.Manifest.ObjectARN),
				ETag:      aws.String(req.Manifest.ETag),
			},
		},
		Report: &types.JobReport{
			Bucket:      aws.String(req.Report.BucketARN),
			Prefix:      aws.String(req.Report.Prefix),
			Format:      types.JobReportFormat(req.Report.Format),
			Enabled:     req.Report.Enabled,
			ReportScope: types.JobReportScope(req.Report.Scope),
		},
		Priority:             aws.Int32(req.Priority),
		RoleArn:              aws.String(req.RoleARN),
		ClientRequestToken:   aws.String(req.ClientRequestToken),
		Description:          aws.String(req.Description),
		ConfirmationRequired: aws.Bool(req.ConfirmationRequired),
	}
}
