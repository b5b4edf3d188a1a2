package listing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/your-org/vodpipeline/internal/manifest"
	"github.com/your-org/vodpipeline/internal/pipeline"
	"github.com/your-org/vodpipeline/pkg/storage/objectstore"
)

type listCall struct {
	bucket, prefix, token string
	limit                 int
}

type written struct {
	bucket, key string
	body        []byte
	opts        objectstore.PutOptions
}

// pagedStore serves pages in order. A page whose token is empty ends the
// listing unless endless is set.
type pagedStore struct {
	pages   []objectstore.Page
	endless bool
	calls   []listCall
	puts    []written
	listErr error
}

func (s *pagedStore) ListPage(_ context.Context, bucket, prefix, token string, limit int) (objectstore.Page, error) {
	s.calls = append(s.calls, listCall{bucket, prefix, token, limit})
	if s.listErr != nil {
		return objectstore.Page{}, s.listErr
	}
	if s.endless {
		n := len(s.calls)
		return objectstore.Page{
			Objects:   []objectstore.ObjectSummary{{Bucket: bucket, Key: fmt.Sprintf("%s/seg%d.ts", prefix, n), Size: 1}},
			Truncated: true,
			NextToken: fmt.Sprintf("t%d", n),
		}, nil
	}
	return s.pages[len(s.calls)-1], nil
}

func (s *pagedStore) Put(_ context.Context, bucket, key string, reader io.Reader, size int64, opts objectstore.PutOptions) (objectstore.PutResult, error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return objectstore.PutResult{}, err
	}
	if int64(len(body)) != size {
		return objectstore.PutResult{}, fmt.Errorf("size %d does not match body %d", size, len(body))
	}
	s.puts = append(s.puts, written{bucket: bucket, key: key, body: body, opts: opts})
	return objectstore.PutResult{ETag: "etag"}, nil
}

var testSettings = Settings{InputBucket: "media-in", FileListsPrefix: "manifests", PageSize: 2, MaxPages: 5}

func newTestGenerator(t *testing.T, store Store, policy pipeline.Policy) *Generator {
	t.Helper()
	g, err := NewGenerator(Params{Settings: testSettings, Store: store, Policy: policy})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func completed(jobID, input string) Notification {
	return Notification{
		State:           StateCompleted,
		JobID:           jobID,
		PipelineID:      "1111111111111-abcde1",
		OutputKeyPrefix: "transcoded/" + manifest.SourceName(input) + "/",
		Input:           InputRef{Key: input},
	}
}

func demoPages() []objectstore.Page {
	obj := func(key string, size int64) objectstore.ObjectSummary {
		return objectstore.ObjectSummary{Bucket: "media-in", Key: "transcoded/demo.mp4/" + key, Size: size}
	}
	return []objectstore.Page{
		{Objects: []objectstore.ObjectSummary{obj("hls0400k/demo.mp4.m3u8", 210), obj("hls0400k/demo.mp400000.ts", 51200)}, Truncated: true, NextToken: "t1"},
		{Objects: []objectstore.ObjectSummary{obj("hls_playlist_demo.mp4.m3u8", 120), obj("thumbnails/00001-demo.mp4.png", 4096)}},
	}
}

func TestProcessWritesCompleteManifest(t *testing.T) {
	store := &pagedStore{pages: demoPages()}
	g := newTestGenerator(t, store, pipeline.Isolate)

	if err := g.Process(context.Background(), completed("job-1", "videos/demo.mp4")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(store.calls) != 2 {
		t.Fatalf("list calls = %d", len(store.calls))
	}
	if store.calls[0].token != "" || store.calls[1].token != "t1" {
		t.Errorf("tokens = %q, %q", store.calls[0].token, store.calls[1].token)
	}
	if store.calls[0].prefix != "transcoded/demo.mp4/" || store.calls[0].limit != 2 {
		t.Errorf("first call = %+v", store.calls[0])
	}
	if len(store.puts) != 1 {
		t.Fatalf("puts = %d", len(store.puts))
	}
	put := store.puts[0]
	if put.bucket != "media-in" || put.key != "manifests/demo.mp4.csv" {
		t.Errorf("written to %s/%s", put.bucket, put.key)
	}
	if put.opts.ContentType != "text/csv" || put.opts.Metadata["transcoder-job-id"] != "job-1" {
		t.Errorf("opts = %+v", put.opts)
	}
	want := "media-in,transcoded/demo.mp4/hls0400k/demo.mp4.m3u8,210\n" +
		"media-in,transcoded/demo.mp4/hls0400k/demo.mp400000.ts,51200\n" +
		"media-in,transcoded/demo.mp4/hls_playlist_demo.mp4.m3u8,120\n" +
		"media-in,transcoded/demo.mp4/thumbnails/00001-demo.mp4.png,4096"
	if string(put.body) != want {
		t.Fatalf("manifest =\n%s\nwant\n%s", put.body, want)
	}
	records, err := manifest.DecodeRecords(bytes.NewReader(put.body))
	if err != nil || len(records) != 4 {
		t.Fatalf("decoded %d records, err=%v", len(records), err)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	first := &pagedStore{pages: demoPages()}
	second := &pagedStore{pages: demoPages()}
	n := completed("job-1", "videos/demo.mp4")

	if err := newTestGenerator(t, first, pipeline.Isolate).Process(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	if err := newTestGenerator(t, second, pipeline.Isolate).Process(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	if first.puts[0].key != second.puts[0].key || !bytes.Equal(first.puts[0].body, second.puts[0].body) {
		t.Fatal("re-running the same notification must produce the same manifest")
	}
}

func TestProcessEmptyListingWritesEmptyManifest(t *testing.T) {
	store := &pagedStore{pages: []objectstore.Page{{}}}
	g := newTestGenerator(t, store, pipeline.Isolate)

	if err := g.Process(context.Background(), completed("job-2", "videos/empty.mp4")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(store.puts) != 1 || len(store.puts[0].body) != 0 {
		t.Fatalf("puts = %+v", store.puts)
	}
}

func TestProcessNeverWritesPartialListing(t *testing.T) {
	cases := map[string]*pagedStore{
		"exceeds max pages": {endless: true},
		"missing token":     {pages: []objectstore.Page{{Objects: demoPages()[0].Objects, Truncated: true}}},
		"repeated token": {pages: []objectstore.Page{
			{Truncated: true, NextToken: "t1"},
			{Truncated: true, NextToken: "t1"},
		}},
	}
	for name, store := range cases {
		t.Run(name, func(t *testing.T) {
			g := newTestGenerator(t, store, pipeline.Isolate)
			err := g.Process(context.Background(), completed("job-3", "videos/long.mp4"))
			if !errors.Is(err, pipeline.ErrIncompleteListing) {
				t.Fatalf("err = %v", err)
			}
			if len(store.puts) != 0 {
				t.Fatalf("partial manifest written: %+v", store.puts)
			}
		})
	}
}

func TestProcessListError(t *testing.T) {
	boom := errors.New("access denied")
	store := &pagedStore{listErr: boom}
	err := newTestGenerator(t, store, pipeline.Isolate).Process(context.Background(), completed("job-4", "videos/a.mp4"))
	if !errors.Is(err, boom) || len(store.puts) != 0 {
		t.Fatalf("err=%v puts=%d", err, len(store.puts))
	}
}

func TestProcessSkipsUnfinishedJobs(t *testing.T) {
	for _, state := range []string{StateProgressing, StateWarning, StateError} {
		store := &pagedStore{}
		n := completed("job-5", "videos/a.mp4")
		n.State = state
		err := newTestGenerator(t, store, pipeline.Isolate).Process(context.Background(), n)
		if !errors.Is(err, pipeline.ErrSkipped) {
			t.Errorf("%s: err = %v", state, err)
		}
		if len(store.calls) != 0 || len(store.puts) != 0 {
			t.Errorf("%s: store touched", state)
		}
	}
}

func TestProcessRejectsMissingPrefix(t *testing.T) {
	store := &pagedStore{}
	n := completed("job-6", "videos/a.mp4")
	n.OutputKeyPrefix = ""
	err := newTestGenerator(t, store, pipeline.Isolate).Process(context.Background(), n)
	if !errors.Is(err, pipeline.ErrMalformedEvent) || len(store.calls) != 0 {
		t.Fatalf("err=%v calls=%d", err, len(store.calls))
	}
}

func TestHandlePayloadSNSEnvelope(t *testing.T) {
	store := &pagedStore{pages: demoPages()}
	g := newTestGenerator(t, store, pipeline.Isolate)

	payload := `{"Records":[
	  {"Sns":{"Message":"{\"state\":\"PROGRESSING\",\"jobId\":\"job-0\"}"}},
	  {"Sns":{"Message":"{\"state\":\"COMPLETED\",\"jobId\":\"job-1\",\"pipelineId\":\"p\",\"outputKeyPrefix\":\"transcoded/demo.mp4/\",\"input\":{\"key\":\"videos/demo.mp4\"}}"}},
	  {"Sns":{"Message":"not json"}}
	]}`
	report, err := g.HandlePayload(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("HandlePayload: %v", err)
	}
	if report.Total != 3 || report.Skipped != 1 || report.Succeeded != 1 || len(report.Failures) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if !errors.Is(report.Failures[0].Err, pipeline.ErrMalformedEvent) {
		t.Errorf("failure = %v", report.Failures[0].Err)
	}
	if len(store.puts) != 1 || store.puts[0].key != "manifests/demo.mp4.csv" {
		t.Fatalf("puts = %+v", store.puts)
	}
}

func TestHandleAbortPolicyStopsBatch(t *testing.T) {
	store := &pagedStore{listErr: errors.New("throttled")}
	g := newTestGenerator(t, store, pipeline.Abort)

	report := g.Handle(context.Background(), []Notification{
		completed("job-a", "videos/a.mp4"),
		completed("job-b", "videos/b.mp4"),
	})
	if len(report.Failures) != 1 || report.Abandoned != 1 || len(store.calls) != 1 {
		t.Fatalf("report=%+v calls=%d", report, len(store.calls))
	}
}

func TestNewGeneratorValidatesSettings(t *testing.T) {
	_, err := NewGenerator(Params{Settings: Settings{InputBucket: "b", MaxPages: 1}, Store: &pagedStore{}})
	if !errors.Is(err, pipeline.ErrMissingConfig) {
		t.Fatalf("err = %v", err)
	}
	_, err = NewGenerator(Params{Settings: Settings{InputBucket: "b", FileListsPrefix: "m"}, Store: &pagedStore{}})
	if !errors.Is(err, pipeline.ErrMissingConfig) {
		t.Fatalf("max pages err = %v", err)
	}
}

func TestTruncateRefKeepsRunesWhole(t *testing.T) {
	raw := strings.Repeat("a", 62) + "日本語"
	got := truncateRef(raw, maxRefLen)
	if !utf8.ValidString(got) || len(got) > maxRefLen {
		t.Fatalf("truncateRef = %q (%d bytes)", got, len(got))
	}
	if got != strings.Repeat("a", 62) {
		t.Errorf("truncateRef = %q", got)
	}
	if short := "job-1"; truncateRef(short, maxRefLen) != short {
		t.Errorf("short ref changed")
	}

	msg := message{raw: strings.Repeat("é", 40)}
	if ref := msg.ref(); !utf8.ValidString(ref) || len(ref) != 64 {
		t.Errorf("ref = %q (%d bytes)", ref, len(ref))
	}
}
