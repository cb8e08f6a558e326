package chatclient

import (
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/domain"
)

// chunkedReader hands out at most n bytes per Read so frames arrive split at
// arbitrary boundaries, including mid-JSON.
type chunkedReader struct {
	data   string
	n      int
	pos    int
	closed atomic.Int64
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.n
	if end > len(r.data) {
		end = len(r.data)
	}
	if end > r.pos+len(p) {
		end = r.pos + len(p)
	}
	copied := copy(p, r.data[r.pos:end])
	r.pos += copied
	return copied, nil
}

func (r *chunkedReader) Close() error {
	r.closed.Add(1)
	return nil
}

func collectEvents(t *testing.T, d *StreamDecoder) ([]domain.StreamEvent, *ServiceError) {
	t.Helper()
	var events []domain.StreamEvent
	for event, serr := range d.Events() {
		if serr != nil {
			return events, serr
		}
		events = append(events, event)
	}
	return events, nil
}

func TestDecoderParsesFrames(t *testing.T) {
	t.Parallel()

	stream := "data: {\"type\":\"progress\",\"message\":\"Computing initial response...\",\"is_final\":false}\n\n" +
		"data: {\"type\":\"progress\",\"message\":\"Checking validity...\",\"is_final\":false}\n\n" +
		"data: {\"type\":\"final\",\"is_final\":true,\"assistant_response\":\"The heart rate is 72 bpm.\",\"valid\":\"true\"}\n\n"

	for _, chunk := range []int{1, 3, 7, len(stream)} {
		reader := &chunkedReader{data: stream, n: chunk}
		events, serr := collectEvents(t, NewStreamDecoder(reader, nil))
		if serr != nil {
			t.Fatalf("chunk size %d: %v", chunk, serr)
		}
		if len(events) != 3 {
			t.Fatalf("chunk size %d: got %d events, want 3", chunk, len(events))
		}
		if events[0].Message != "Computing initial response..." {
			t.Errorf("chunk size %d: first event message %q", chunk, events[0].Message)
		}
		if !events[2].IsFinal || events[2].AssistantResponse != "The heart rate is 72 bpm." {
			t.Errorf("chunk size %d: final event not parsed: %+v", chunk, events[2])
		}
		if got := reader.closed.Load(); got != 1 {
			t.Errorf("chunk size %d: reader closed %d times, want 1", chunk, got)
		}
	}
}

func TestDecoderSkipsNonDataLines(t *testing.T) {
	t.Parallel()

	stream := ": keep-alive\n" +
		"event: message\n" +
		"\n" +
		"data: {\"type\":\"final\",\"is_final\":true,\"assistant_response\":\"ok\"}\n\n"

	reader := &chunkedReader{data: stream, n: len(stream)}
	events, serr := collectEvents(t, NewStreamDecoder(reader, nil))
	if serr != nil {
		t.Fatal(serr)
	}
	if len(events) != 1 || events[0].AssistantResponse != "ok" {
		t.Fatalf("got %+v, want one final event", events)
	}
}

func TestDecoderDropsMalformedFrame(t *testing.T) {
	t.Parallel()

	stream := "data: {not valid json\n\n" +
		"data: {\"type\":\"progress\",\"message\":\"still here\",\"is_final\":false}\n\n" +
		"data: {\"type\":\"final\",\"is_final\":true,\"assistant_response\":\"ok\"}\n\n"

	reader := &chunkedReader{data: stream, n: len(stream)}
	events, serr := collectEvents(t, NewStreamDecoder(reader, nil))
	if serr != nil {
		t.Fatal(serr)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (malformed frame dropped)", len(events))
	}
	if events[0].Message != "still here" {
		t.Errorf("frame after the malformed one was lost: %+v", events[0])
	}
}

func TestDecoderStopsAtFinal(t *testing.T) {
	t.Parallel()

	stream := "data: {\"type\":\"final\",\"is_final\":true,\"assistant_response\":\"first\"}\n\n" +
		"data: {\"type\":\"final\",\"is_final\":true,\"assistant_response\":\"second\"}\n\n"

	reader := &chunkedReader{data: stream, n: len(stream)}
	events, serr := collectEvents(t, NewStreamDecoder(reader, nil))
	if serr != nil {
		t.Fatal(serr)
	}
	if len(events) != 1 || events[0].AssistantResponse != "first" {
		t.Fatalf("decoding continued past the final event: %+v", events)
	}
	if got := reader.closed.Load(); got != 1 {
		t.Errorf("reader closed %d times, want 1", got)
	}
}

func TestDecoderFinalWithoutTrailingNewline(t *testing.T) {
	t.Parallel()

	stream := "data: {\"type\":\"final\",\"is_final\":true,\"assistant_response\":\"ok\"}"
	reader := &chunkedReader{data: stream, n: len(stream)}
	events, serr := collectEvents(t, NewStreamDecoder(reader, nil))
	if serr != nil {
		t.Fatal(serr)
	}
	if len(events) != 1 || events[0].AssistantResponse != "ok" {
		t.Fatalf("unterminated final frame not parsed: %+v", events)
	}
}

func TestDecoderEarlyBreakClosesReader(t *testing.T) {
	t.Parallel()

	stream := "data: {\"type\":\"progress\",\"message\":\"one\",\"is_final\":false}\n\n" +
		"data: {\"type\":\"progress\",\"message\":\"two\",\"is_final\":false}\n\n"

	reader := &chunkedReader{data: stream, n: len(stream)}
	d := NewStreamDecoder(reader, nil)
	for range d.Events() {
		break
	}
	if got := reader.closed.Load(); got != 1 {
		t.Errorf("reader closed %d times after early break, want 1", got)
	}

	// Close after iteration must not double-close.
	d.Close()
	if got := reader.closed.Load(); got != 1 {
		t.Errorf("reader closed %d times after explicit Close, want 1", got)
	}
}

type failingReader struct {
	data string
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset")
}

func (r *failingReader) Close() error { return nil }

func TestDecoderReadError(t *testing.T) {
	t.Parallel()

	reader := &failingReader{data: "data: {\"type\":\"progress\",\"message\":\"one\",\"is_final\":false}\n\n"}
	events, serr := collectEvents(t, NewStreamDecoder(reader, nil))
	if len(events) != 1 {
		t.Fatalf("got %d events before the failure, want 1", len(events))
	}
	if serr == nil {
		t.Fatal("expected a stream error")
	}
	if serr.Kind != KindNetworkError {
		t.Errorf("got kind %s, want %s", serr.Kind, KindNetworkError)
	}
	if !strings.Contains(serr.Message, "connection reset") {
		t.Errorf("underlying cause missing from message: %q", serr.Message)
	}
}

func TestDecoderEmptyStream(t *testing.T) {
	t.Parallel()

	reader := &chunkedReader{data: "", n: 1}
	events, serr := collectEvents(t, NewStreamDecoder(reader, nil))
	if serr != nil {
		t.Fatal(serr)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events from an empty stream", len(events))
	}
	if got := reader.closed.Load(); got != 1 {
		t.Errorf("reader closed %d times, want 1", got)
	}
}
