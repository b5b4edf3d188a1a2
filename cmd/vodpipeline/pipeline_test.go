package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/your-org/vodpipeline/internal/batchcopy"
	"github.com/your-org/vodpipeline/internal/listing"
	"github.com/your-org/vodpipeline/internal/manifest"
	"github.com/your-org/vodpipeline/internal/transcode"
	"github.com/your-org/vodpipeline/pkg/batchjobs"
	"github.com/your-org/vodpipeline/pkg/storage/objectquery"
	"github.com/your-org/vodpipeline/pkg/storage/objectstore"
	"github.com/your-org/vodpipeline/pkg/transcoder"
)

// memStore is an in-memory object store keyed by bucket then key.
type memStore struct {
	mu       sync.Mutex
	objects  map[string]map[string][]byte
	metadata map[string]map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string]map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (s *memStore) put(bucket, key string, body []byte) {
	if s.objects[bucket] == nil {
		s.objects[bucket] = map[string][]byte{}
	}
	s.objects[bucket][key] = body
}

func (s *memStore) ListPage(_ context.Context, bucket, prefix, token string, limit int) (objectstore.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects[bucket] {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	page := objectstore.Page{}
	if len(keys) > limit {
		keys = keys[:limit]
		page.Truncated = true
		page.NextToken = keys[len(keys)-1]
	}
	for _, k := range keys {
		page.Objects = append(page.Objects, objectstore.ObjectSummary{Bucket: bucket, Key: k, Size: int64(len(s.objects[bucket][k]))})
	}
	return page, nil
}

func (s *memStore) Put(_ context.Context, bucket, key string, reader io.Reader, _ int64, _ objectstore.PutOptions) (objectstore.PutResult, error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return objectstore.PutResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(bucket, key, body)
	return objectstore.PutResult{ETag: fmt.Sprintf("%x", len(body))}, nil
}

func (s *memStore) UpdateMetadata(_ context.Context, bucket, key string, md map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[bucket][key]; !ok {
		return fmt.Errorf("no such object %s/%s", bucket, key)
	}
	s.metadata[bucket+"/"+key] = md
	return nil
}

// selectResult projects the first two columns of a stored manifest and
// always reports the end marker.
type selectResult struct {
	io.Reader
}

func (selectResult) Complete() bool { return true }
func (selectResult) Close() error   { return nil }

type memQuerier struct {
	store *memStore
}

func (q memQuerier) Query(_ context.Context, req objectquery.Request) (batchcopy.Result, error) {
	q.store.mu.Lock()
	body := q.store.objects[req.Bucket][req.Key]
	q.store.mu.Unlock()
	var out bytes.Buffer
	for _, line := range strings.Split(string(body), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		out.WriteString(fields[0] + "," + fields[1] + "\n")
	}
	return selectResult{Reader: &out}, nil
}

// fakeTranscoder "runs" each job immediately by writing its outputs.
type fakeTranscoder struct {
	store  *memStore
	bucket string
	jobs   []transcoder.JobRequest
}

func (t *fakeTranscoder) Submit(_ context.Context, req transcoder.JobRequest) (string, error) {
	t.jobs = append(t.jobs, req)
	out := req.Outputs[0]
	name := manifest.SourceName(req.InputKey)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.put(t.bucket, req.OutputKeyPrefix+out.Key+".m3u8", []byte("#EXTM3U"))
	t.store.put(t.bucket, req.OutputKeyPrefix+out.Key+"00000.ts", []byte("segment"))
	t.store.put(t.bucket, req.OutputKeyPrefix+req.Playlists[0].Name+".m3u8", []byte("#EXTM3U master"))
	t.store.put(t.bucket, req.OutputKeyPrefix+"thumbnails/00001-"+name+".png", []byte("png"))
	return fmt.Sprintf("job-%d", len(t.jobs)), nil
}

type recordedJobs struct {
	requests []batchjobs.JobRequest
}

func (j *recordedJobs) Submit(_ context.Context, req batchjobs.JobRequest) (string, error) {
	j.requests = append(j.requests, req)
	return "batch-1", nil
}

func TestDemoVideoFlowsThroughAllStages(t *testing.T) {
	ctx := context.Background()
	const bucket = "media-in"
	store := newMemStore()
	store.put(bucket, "videos/demo.mp4", []byte("source"))

	tc := &fakeTranscoder{store: store, bucket: bucket}
	stage1, err := transcode.NewScheduler(transcode.Params{
		Settings:   transcode.Settings{PipelineID: "1111111111111-abcde1", OutputPrefix: "transcoded"},
		Transcoder: tc,
		Store:      store,
	})
	if err != nil {
		t.Fatal(err)
	}
	stage2, err := listing.NewGenerator(listing.Params{
		Settings: listing.Settings{InputBucket: bucket, FileListsPrefix: "manifests", PageSize: 3, MaxPages: 10},
		Store:    store,
	})
	if err != nil {
		t.Fatal(err)
	}
	jobs := &recordedJobs{}
	stage3, err := batchcopy.NewScheduler(batchcopy.Params{
		Settings: batchcopy.Settings{
			AccountID:      "123456789012",
			ManifestPrefix: "copy-manifests",
			OutputBucket:   "cdn-origin",
			RoleARN:        "arn:aws:iam::123456789012:role/batch-copy",
		},
		Querier: memQuerier{store: store},
		Writer:  store,
		Jobs:    jobs,
	})
	if err != nil {
		t.Fatal(err)
	}

	upload := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"media-in"},"object":{"key":"videos/demo.mp4"}}}]}`
	if report, err := stage1.HandlePayload(ctx, []byte(upload)); err != nil || report.Succeeded != 1 {
		t.Fatalf("stage 1: report=%+v err=%v", report, err)
	}
	if len(tc.jobs) != 1 || tc.jobs[0].OutputKeyPrefix != "transcoded/demo.mp4/" || tc.jobs[0].Outputs[0].Key != "hls0400k/demo.mp4" {
		t.Fatalf("stage 1 jobs = %+v", tc.jobs)
	}
	if store.metadata[bucket+"/videos/demo.mp4"][transcode.JobIDMetadataKey] != "job-1" {
		t.Fatalf("source not tagged: %v", store.metadata)
	}

	status := fmt.Sprintf(`{"state":"COMPLETED","jobId":"job-1","pipelineId":"1111111111111-abcde1","outputKeyPrefix":%q,"input":{"key":"videos/demo.mp4"}}`, tc.jobs[0].OutputKeyPrefix)
	if report, err := stage2.HandlePayload(ctx, []byte(status)); err != nil || report.Succeeded != 1 {
		t.Fatalf("stage 2: report=%+v err=%v", report, err)
	}
	listed := store.objects[bucket]["manifests/demo.mp4.csv"]
	if got := strings.Count(string(listed), "\n") + 1; got != 4 {
		t.Fatalf("manifest has %d lines:\n%s", got, listed)
	}

	created := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"media-in"},"object":{"key":"manifests/demo.mp4.csv"}}}]}`
	if report, err := stage3.HandlePayload(ctx, []byte(created)); err != nil || report.Succeeded != 1 {
		t.Fatalf("stage 3: report=%+v err=%v", report, err)
	}
	copyManifest := store.objects[bucket]["copy-manifests/demo.mp4.csv"]
	pairs, err := manifest.DecodeCopyRecords(bytes.NewReader(copyManifest))
	if err != nil || len(pairs) != 4 {
		t.Fatalf("copy-manifest pairs=%d err=%v", len(pairs), err)
	}
	if len(jobs.requests) != 1 {
		t.Fatalf("batch jobs = %d", len(jobs.requests))
	}
	job := jobs.requests[0]
	if job.Priority != 10 || job.ConfirmationRequired || job.Manifest.ObjectARN != "arn:aws:s3:::media-in/copy-manifests/demo.mp4.csv" {
		t.Fatalf("batch job = %+v", job)
	}
}
