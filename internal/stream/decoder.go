// Package stream decodes the chunked event feed produced by an agent
// response into a lazy sequence of typed events.
//
// The transport frames events as "data: <json>\n\n". Malformed frames and
// unknown event names are dropped rather than surfaced: a bad frame is a
// recoverable condition and must never terminate the stream early.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog/log"
)

const dataMarker = "data: "

// frameDelimiter separates complete frames on the wire.
var frameDelimiter = []byte("\n\n")

// Decoder pulls typed events out of a raw response body. It is not safe for
// concurrent use; one goroutine consumes one stream.
type Decoder struct {
	body    io.Reader
	buf     bytes.Buffer
	read    [4096]byte
	done    bool
	readErr error
}

// NewDecoder wraps a response body. The caller retains ownership of the body
// and closes it when consumption ends.
func NewDecoder(body io.Reader) *Decoder {
	return &Decoder{body: body}
}

// Next returns the next decoded event. It returns io.EOF when the stream is
// exhausted, including when ctx is cancelled mid-read: cancellation is a
// normal way for a stream to end, not an error surfaced to the caller. A
// transport failure mid-stream surfaces as the terminal error, but only
// after every event already received has been handed out.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := d.nextBuffered(); ok {
			return ev, nil
		}
		if d.done {
			if ev, ok := d.finalFrame(); ok {
				return ev, nil
			}
			if d.readErr != nil && d.readErr != io.EOF && ctx.Err() == nil {
				return Event{}, d.readErr
			}
			return Event{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			d.done = true
			return Event{}, io.EOF
		}

		// A Read may legally return data alongside an error; buffer the data
		// first so the loop drains it before the error is reported.
		n, err := d.body.Read(d.read[:])
		if n > 0 {
			d.buf.Write(d.read[:n])
		}
		if err != nil {
			d.done = true
			d.readErr = err
		}
	}
}

// nextBuffered consumes complete frames already sitting in the buffer until
// one yields a valid event. The trailing partial frame stays buffered.
func (d *Decoder) nextBuffered() (Event, bool) {
	for {
		raw := d.buf.Bytes()
		idx := bytes.Index(raw, frameDelimiter)
		if idx < 0 {
			return Event{}, false
		}
		frame := make([]byte, idx)
		copy(frame, raw[:idx])
		d.buf.Next(idx + len(frameDelimiter))

		if ev, ok := parseFrame(frame); ok {
			return ev, true
		}
	}
}

// finalFrame handles a stream that ended without a trailing delimiter: if the
// leftover happens to be a complete data line, parse it.
func (d *Decoder) finalFrame() (Event, bool) {
	if ev, ok := d.nextBuffered(); ok {
		return ev, true
	}
	rest := bytes.TrimSpace(d.buf.Bytes())
	d.buf.Reset()
	if len(rest) == 0 {
		return Event{}, false
	}
	return parseFrame(rest)
}

// parseFrame decodes one delimited frame. Frames without the data marker,
// frames that fail to parse, and events outside the recognized set are all
// dropped.
func parseFrame(frame []byte) (Event, bool) {
	frame = bytes.TrimSpace(frame)
	if !bytes.HasPrefix(frame, []byte(dataMarker)) {
		return Event{}, false
	}
	payload := bytes.TrimSpace(frame[len(dataMarker):])

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Debug().Err(err).Int("frame_bytes", len(frame)).Msg("Dropping malformed stream frame")
		return Event{}, false
	}
	if !knownEvent(ev.Name) {
		log.Debug().Str("event", ev.Name).Msg("Dropping unrecognized stream event")
		return Event{}, false
	}
	return ev, true
}
