package objectquery

import (
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeEvents struct {
	ch     chan types.SelectObjectContentEventStream
	err    error
	closed bool
}

func newFakeEvents(err error, evs ...types.SelectObjectContentEventStream) *fakeEvents {
	ch := make(chan types.SelectObjectContentEventStream, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return &fakeEvents{ch: ch, err: err}
}

func (f *fakeEvents) Events() <-chan types.SelectObjectContentEventStream { return f.ch }
func (f *fakeEvents) Err() error                                          { return f.err }
func (f *fakeEvents) Close() error {
	f.closed = true
	return nil
}

func records(payload string) types.SelectObjectContentEventStream {
	return &types.SelectObjectContentEventStreamMemberRecords{Value: types.RecordsEvent{Payload: []byte(payload)}}
}

func TestStreamCompleteWithEndEvent(t *testing.T) {
	events := newFakeEvents(nil,
		records("b,k1\n"),
		&types.SelectObjectContentEventStreamMemberProgress{},
		records("b,k2\n"),
		&types.SelectObjectContentEventStreamMemberStats{Value: types.StatsEvent{Details: &types.Stats{BytesReturned: aws.Int64(10)}}},
		&types.SelectObjectContentEventStreamMemberEnd{},
	)
	stream := NewStream(events)

	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "b,k1\nb,k2\n" {
		t.Fatalf("payload = %q", got)
	}
	if !stream.Complete() {
		t.Fatal("expected stream to be complete")
	}
	if stream.BytesReturned() != 10 {
		t.Errorf("BytesReturned = %d", stream.BytesReturned())
	}
	if err := stream.Close(); err != nil || !events.closed {
		t.Fatalf("Close: %v closed=%v", err, events.closed)
	}
}

func TestStreamWithoutEndEventIsIncomplete(t *testing.T) {
	stream := NewStream(newFakeEvents(nil, records("b,k1\n")))

	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "b,k1\n" {
		t.Fatalf("payload = %q", got)
	}
	if stream.Complete() {
		t.Fatal("stream without End event must not be complete")
	}
}

func TestStreamSurfacesTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	stream := NewStream(newFakeEvents(boom, records("b,k1\n")))

	_, err := io.ReadAll(stream)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if _, err := stream.Read(make([]byte, 4)); !errors.Is(err, boom) {
		t.Fatalf("second read err = %v", err)
	}
}

func TestBuildInput(t *testing.T) {
	in := buildInput(Request{Bucket: "media", Key: "manifests/demo.mp4.csv", Expression: "SELECT s._1, s._2 FROM s3object s"})
	if aws.ToString(in.Bucket) != "media" || aws.ToString(in.Key) != "manifests/demo.mp4.csv" {
		t.Fatalf("unexpected target %v/%v", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	if in.ExpressionType != types.ExpressionTypeSql {
		t.Errorf("ExpressionType = %v", in.ExpressionType)
	}
	if in.InputSerialization.CSV == nil || in.InputSerialization.CompressionType != types.CompressionTypeNone {
		t.Errorf("unexpected input serialization %+v", in.InputSerialization)
	}
	if in.OutputSerialization.CSV == nil {
		t.Error("expected CSV output serialization")
	}
}
