package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config contains the information required to talk to an object store.
type Config struct {
	Provider  string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// ObjectSummary describes one object found under a listing prefix.
type ObjectSummary struct {
	Bucket string
	Key    string
	Size   int64
}

// Page is one page of a prefix listing. NextToken is only meaningful when
// Truncated is set.
type Page struct {
	Objects   []ObjectSummary
	Truncated bool
	NextToken string
}

// PutOptions carries optional attributes for a put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// PutResult reports what the store recorded for a put.
type PutResult struct {
	ETag      string
	VersionID string
}

// Client represents the object store capabilities the pipeline stages use.
type Client interface {
	ListPage(ctx context.Context, bucket, prefix, token string, limit int) (Page, error)
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) (PutResult, error)
	UpdateMetadata(ctx context.Context, bucket, key string, metadata map[string]string) error
	Close() error
}

// New creates an object store client based on the given configuration.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "minio", "s3":
		return newMinioClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported object store provider: %s", cfg.Provider)
	}
}

type minioClient struct {
	core minio.Core
}

func newMinioClient(cfg Config) (*minioClient, error) {
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	if cfg.AccessKey == "" {
		creds = credentials.NewIAM("")
	}

	cl, err := minio.New(host, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &minioClient{core: minio.Core{Client: cl}}, nil
}

// splitEndpoint accepts either a bare host[:port] or a URL and returns the
// host minio expects plus whether TLS should be used.
func splitEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, errors.New("object store endpoint is empty")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse object store endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		return u.Host, false, nil
	case "https":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme: %s", u.Scheme)
	}
}

func (m *minioClient) ListPage(ctx context.Context, bucket, prefix, token string, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	res, err := m.core.ListObjectsV2(bucket, prefix, "", token, "", limit)
	if err != nil {
		return Page{}, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}

	page := Page{
		Objects:   make([]ObjectSummary, 0, len(res.Contents)),
		Truncated: res.IsTruncated,
		NextToken: res.NextContinuationToken,
	}
	for _, obj := range res.Contents {
		page.Objects = append(page.Objects, ObjectSummary{Bucket: bucket, Key: obj.Key, Size: obj.Size})
	}
	return page, nil
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) (PutResult, error) {
	info, err := m.core.Client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return PutResult{}, err
	}
	return PutResult{ETag: info.ETag, VersionID: info.VersionID}, nil
}

// UpdateMetadata replaces the user metadata of an existing object in place.
// The object's content is untouched.
func (m *minioClient) UpdateMetadata(ctx context.Context, bucket, key string, metadata map[string]string) error {
	_, err := m.core.Client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          bucket,
			Object:          key,
			UserMetadata:    metadata,
			ReplaceMetadata: true,
		},
		minio.CopySrcOptions{Bucket: bucket, Object: key},
	)
	return err
}

func (m *minioClient) Close() error {
	return nil
}
