// Package objectquery runs structured queries against object content using
// S3 Select and exposes the result as a byte stream that remembers whether
// the server's end-of-results marker was seen.
package objectquery

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config selects the region and optional endpoint override.
type Config struct {
	Region   string
	Endpoint string
}

// Request describes one query over a CSV object.
type Request struct {
	Bucket     string
	Key        string
	Expression string
}

// EventStream is the subset of the S3 Select event stream the decoder reads.
// *s3.SelectObjectContentEventStream satisfies it.
type EventStream interface {
	Events() <-chan types.SelectObjectContentEventStream
	Err() error
	Close() error
}

// Client issues S3 Select requests.
type Client struct {
	s3 *s3.Client
}

// New builds a Client from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	cl := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{s3: cl}, nil
}

// Query starts a CSV-in, CSV-out SQL query. The caller must Close the stream.
func (c *Client) Query(ctx context.Context, req Request) (*Stream, error) {
	out, err := c.s3.SelectObjectContent(ctx, buildInput(req))
	if err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", req.Bucket, req.Key, err)
	}
	return NewStream(out.GetStream()), nil
}

func buildInput(req Request) *s3.SelectObjectContentInput {
	return &s3.SelectObjectContentInput{
		Bucket:         aws.String(req.Bucket),
		Key:            aws.String(req.Key),
		Expression:     aws.String(req.Expression),
		ExpressionType: types.ExpressionTypeSql,
		InputSerialization: &types.InputSerialization{
			CSV:             &types.CSVInput{},
			CompressionType: types.CompressionTypeNone,
		},
		OutputSerialization: &types.OutputSerialization{
			CSV: &types.CSVOutput{},
		},
	}
}

// Stream concatenates the payloads of Records events. Read returns io.EOF once
// the event channel closes; Complete reports whether an End event arrived
// before that, which is the only way to tell a finished result from a
// connection that dropped mid-stream.
type Stream struct {
	events        EventStream
	buf           []byte
	complete      bool
	err           error
	bytesReturned int64
}

// NewStream wraps an event stream.
func NewStream(events EventStream) *Stream {
	return &Stream{events: events}
}

func (s *Stream) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		ev, ok := <-s.events.Events()
		if !ok {
			s.err = io.EOF
			if err := s.events.Err(); err != nil {
				s.err = err
			}
			continue
		}
		switch v := ev.(type) {
		case *types.SelectObjectContentEventStreamMemberRecords:
			s.buf = v.Value.Payload
		case *types.SelectObjectContentEventStreamMemberStats:
			if v.Value.Details != nil && v.Value.Details.BytesReturned != nil {
				s.bytesReturned = *v.Value.Details.BytesReturned
			}
		case *types.SelectObjectContentEventStreamMemberEnd:
			s.complete = true
		}
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Complete reports whether the End event was observed.
func (s *Stream) Complete() bool {
	return s.complete
}

// BytesReturned is the server-reported result size from the Stats event, or
// zero if none was received.
func (s *Stream) BytesReturned() int64 {
	return s.bytesReturned
}

func (s *Stream) Close() error {
	return s.events.Close()
}
