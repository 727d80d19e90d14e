package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkReader yields the input in fixed-size pieces to exercise frames that
// straddle read boundaries.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func drain(t *testing.T, d *Decoder) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := d.Next(context.Background())
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next returned unexpected error: %v", err)
		}
		events = append(events, ev)
	}
}

func TestDecoder_BasicSequence(t *testing.T) {
	body := strings.NewReader(
		"data: {\"event\":\"token\",\"data\":{\"content\":\"Hel\"}}\n\n" +
			"data: {\"event\":\"token\",\"data\":{\"content\":\"lo\"}}\n\n" +
			"data: {\"event\":\"end\",\"data\":{\"thread_id\":\"t1\"}}\n\n")

	events := drain(t, NewDecoder(body))
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[0].Name != EventToken || events[2].Name != EventEnd {
		t.Errorf("Unexpected event names: %q, %q", events[0].Name, events[2].Name)
	}

	end, err := events[2].End()
	if err != nil {
		t.Fatalf("End payload failed to parse: %v", err)
	}
	if end.ThreadID != "t1" {
		t.Errorf("Expected thread_id=t1, got %q", end.ThreadID)
	}
}

func TestDecoder_FramesSplitAcrossReads(t *testing.T) {
	raw := "data: {\"event\":\"token\",\"data\":{\"content\":\"abc\"}}\n\n" +
		"data: {\"event\":\"token\",\"data\":{\"content\":\"def\"}}\n\n"

	for _, size := range []int{1, 3, 7, 64} {
		events := drain(t, NewDecoder(&chunkReader{data: []byte(raw), size: size}))
		if len(events) != 2 {
			t.Fatalf("Chunk size %d: expected 2 events, got %d", size, len(events))
		}
		tok, err := events[1].Token()
		if err != nil {
			t.Fatalf("Chunk size %d: token payload failed: %v", size, err)
		}
		if tok.Content.Text != "def" {
			t.Errorf("Chunk size %d: expected text def, got %q", size, tok.Content.Text)
		}
	}
}

func TestDecoder_MalformedFrameDropped(t *testing.T) {
	body := strings.NewReader(
		"data: {\"event\":\"token\",\"data\":{\"content\":\"ok\"}}\n\n" +
			"data: {not json at all\n\n" +
			"data: {\"event\":\"end\"}\n\n")

	events := drain(t, NewDecoder(body))
	if len(events) != 2 {
		t.Fatalf("Expected malformed frame to be dropped, got %d events", len(events))
	}
	if events[1].Name != EventEnd {
		t.Errorf("Expected stream to continue past malformed frame, got %q", events[1].Name)
	}
}

func TestDecoder_UnknownEventDropped(t *testing.T) {
	body := strings.NewReader(
		"data: {\"event\":\"heartbeat\",\"data\":{}}\n\n" +
			"data: {\"event\":\"end\"}\n\n")

	events := drain(t, NewDecoder(body))
	if len(events) != 1 || events[0].Name != EventEnd {
		t.Fatalf("Expected only the end event, got %v", events)
	}
}

func TestDecoder_NonDataFrameDropped(t *testing.T) {
	body := strings.NewReader(
		": keepalive comment\n\n" +
			"event: ping\n\n" +
			"data: {\"event\":\"end\"}\n\n")

	events := drain(t, NewDecoder(body))
	if len(events) != 1 || events[0].Name != EventEnd {
		t.Fatalf("Expected only the end event, got %v", events)
	}
}

func TestDecoder_TrailingPartialFrameParsedAtEOF(t *testing.T) {
	// No terminating delimiter, but the leftover is a complete data line.
	body := strings.NewReader("data: {\"event\":\"end\",\"data\":{\"thread_id\":\"t9\"}}")

	events := drain(t, NewDecoder(body))
	if len(events) != 1 {
		t.Fatalf("Expected final partial frame to parse, got %d events", len(events))
	}
	end, _ := events[0].End()
	if end.ThreadID != "t9" {
		t.Errorf("Expected thread_id=t9, got %q", end.ThreadID)
	}
}

func TestDecoder_TrailingGarbageIgnoredAtEOF(t *testing.T) {
	body := strings.NewReader(
		"data: {\"event\":\"end\"}\n\n" +
			"data: {\"event\":\"tok")

	events := drain(t, NewDecoder(body))
	if len(events) != 1 {
		t.Fatalf("Expected incomplete trailing frame to be ignored, got %d events", len(events))
	}
}

// dataThenErrorReader returns all of its data and the error in one Read
// call, the way a torn connection delivers its final bytes.
type dataThenErrorReader struct {
	data []byte
	err  error
	used bool
}

func (r *dataThenErrorReader) Read(p []byte) (int, error) {
	if r.used {
		return 0, r.err
	}
	r.used = true
	return copy(p, r.data), r.err
}

func TestDecoder_ReadErrorSurfacesAfterBufferedEvents(t *testing.T) {
	reset := errors.New("read tcp: connection reset by peer")
	body := &dataThenErrorReader{
		data: []byte(
			"data: {\"event\":\"token\",\"data\":{\"content\":\"hi\"}}\n\n" +
				"data: {\"event\":\"token\",\"data\":{\"content\":\"there\"}}"),
		err: reset,
	}
	d := NewDecoder(body)

	// Every event received before the failure is handed out first, the
	// trailing partial frame included.
	for i, want := range []string{"hi", "there"} {
		ev, err := d.Next(context.Background())
		if err != nil {
			t.Fatalf("Event %d: expected buffered event before the error, got %v", i, err)
		}
		tok, err := ev.Token()
		if err != nil {
			t.Fatalf("Event %d: token payload failed: %v", i, err)
		}
		if tok.Content.Text != want {
			t.Errorf("Event %d: expected text %q, got %q", i, want, tok.Content.Text)
		}
	}

	if _, err := d.Next(context.Background()); !errors.Is(err, reset) {
		t.Fatalf("Expected the transport error once drained, got %v", err)
	}
}

func TestDecoder_CancellationEndsStreamWithoutError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDecoder(strings.NewReader("data: {\"event\":\"token\",\"data\":{\"content\":\"x\"}}\n\n"))
	if _, err := d.Next(ctx); err != io.EOF {
		t.Fatalf("Expected io.EOF on cancelled context, got %v", err)
	}
	// The decoder stays terminated afterwards.
	if _, err := d.Next(context.Background()); err != io.EOF {
		t.Fatalf("Expected decoder to remain terminated, got %v", err)
	}
}

func TestTokenContent_StructuredArray(t *testing.T) {
	ev := Event{Name: EventToken, Data: []byte(`{"content":[{"text":"hi"},{"text":"ignored"}]}`)}
	tok, err := ev.Token()
	if err != nil {
		t.Fatalf("Token payload failed: %v", err)
	}
	if tok.Content.Text != "hi" {
		t.Errorf("Expected first entry text, got %q", tok.Content.Text)
	}

	ev = Event{Name: EventToken, Data: []byte(`{"content":["plain"]}`)}
	tok, err = ev.Token()
	if err != nil {
		t.Fatalf("Token payload failed: %v", err)
	}
	if tok.Content.Text != "plain" {
		t.Errorf("Expected bare string entry, got %q", tok.Content.Text)
	}
}
