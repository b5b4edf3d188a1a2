// Package inbound decodes the event envelopes that trigger pipeline stages.
// Object store notifications use the S3 event shape whether they arrive
// from S3 via Lambda or from MinIO via Kafka or webhook.
package inbound

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/your-org/vodpipeline/internal/pipeline"
)

// ObjectRef identifies an object named in an object store notification.
type ObjectRef struct {
	Bucket    string
	Key       string
	EventName string
}

func (o ObjectRef) String() string {
	return o.Bucket + "/" + o.Key
}

// Created reports whether the notification was for a newly written object.
// MinIO prefixes event names with "s3:", S3 does not.
func (o ObjectRef) Created() bool {
	name := strings.TrimPrefix(o.EventName, "s3:")
	return name == "" || strings.HasPrefix(name, "ObjectCreated:")
}

// DecodeObjectEvents extracts object references from an S3 event document.
// Keys are URL-decoded. A document with no records, such as the s3:TestEvent
// S3 sends when a notification is configured, yields an empty slice.
func DecodeObjectEvents(payload []byte) ([]ObjectRef, error) {
	var ev events.S3Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: decode s3 event: %v", pipeline.ErrMalformedEvent, err)
	}

	refs := make([]ObjectRef, 0, len(ev.Records))
	for _, rec := range ev.Records {
		key := rec.S3.Object.URLDecodedKey
		if key == "" {
			key = rec.S3.Object.Key
		}
		refs = append(refs, ObjectRef{
			Bucket:    rec.S3.Bucket.Name,
			Key:       key,
			EventName: rec.EventName,
		})
	}
	return refs, nil
}

// DecodeBusMessages unwraps an SNS delivery into its message bodies. Any other
// JSON document is taken to be a single bare message, which is how the
// notification arrives when it is relayed onto Kafka.
func DecodeBusMessages(payload []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("%w: payload is not JSON", pipeline.ErrMalformedEvent)
	}

	var envelope events.SNSEvent
	if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil && len(envelope.Records) > 0 {
		msgs := make([]string, 0, len(envelope.Records))
		for _, rec := range envelope.Records {
			msgs = append(msgs, rec.SNS.Message)
		}
		return msgs, nil
	}
	return []string{trimmed}, nil
}
