// Package streaming converts provider event streams into the line-framed event
// protocol read by the browser client.
package streaming

import (
	"bytes"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxLineBytes bounds a single provider line.
const MaxLineBytes = 1 << 20

// ErrLineTooLong is returned when a provider line exceeds MaxLineBytes.
var ErrLineTooLong = errors.New("streaming: provider line exceeds limit")

// EventKind identifies a decoded provider event.
type EventKind int

const (
	EventToken EventKind = iota + 1
	EventDone
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one decoded provider message.
type Event struct {
	Kind EventKind
	Text string
}

// Decoder reassembles provider lines from arbitrarily split chunks. Lines are
// only interpreted once complete, so multi-byte characters split across
// chunks survive intact. A Decoder is not safe for concurrent use.
type Decoder struct {
	tokenPath string
	buf       []byte
	done      bool
}

// NewDecoder returns a decoder that reads tokens from tokenPath, a gjson path
// into each JSON payload.
func NewDecoder(tokenPath string) *Decoder {
	return &Decoder{tokenPath: tokenPath}
}

// Write feeds chunk into the decoder and returns the events completed by it.
// Events after a done event are discarded.
func (d *Decoder) Write(chunk []byte) ([]Event, error) {
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > MaxLineBytes {
			return events, ErrLineTooLong
		}
		events = d.appendLine(events, d.buf[:idx])
		d.buf = d.buf[idx+1:]
	}

	if len(d.buf) > MaxLineBytes {
		return events, ErrLineTooLong
	}
	// Reclaim the consumed prefix once the pending tail is empty.
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	return events, nil
}

// Close flushes a final line that was not newline-terminated.
func (d *Decoder) Close() ([]Event, error) {
	if len(d.buf) == 0 {
		return nil, nil
	}
	line := d.buf
	d.buf = nil
	return d.appendLine(nil, line), nil
}

// Done reports whether the provider signalled the end of the stream.
func (d *Decoder) Done() bool {
	return d.done
}

func (d *Decoder) appendLine(events []Event, raw []byte) []Event {
	if d.done {
		return events
	}
	line := strings.TrimSuffix(string(raw), "\r")

	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		// Blank lines, comments and event/id/retry fields carry nothing.
		return events
	}
	payload = strings.TrimPrefix(payload, " ")

	ev, ok := d.parsePayload(payload)
	if !ok {
		return events
	}
	if ev.Kind == EventDone {
		d.done = true
	}
	return append(events, ev)
}

func (d *Decoder) parsePayload(payload string) (Event, bool) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "[DONE]" {
		return Event{Kind: EventDone}, true
	}
	if trimmed == "" {
		return Event{}, false
	}

	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return Event{Kind: EventToken, Text: payload}, true
	}

	if msg, ok := providerError(trimmed); ok {
		return Event{Kind: EventError, Text: msg}, true
	}

	token := gjson.Get(trimmed, d.tokenPath)
	if token.Type != gjson.String || token.Str == "" {
		return Event{}, false
	}
	return Event{Kind: EventToken, Text: token.Str}, true
}

func providerError(payload string) (string, bool) {
	if e := gjson.Get(payload, "error"); e.Exists() && e.Type != gjson.Null && e.Type != gjson.False {
		if msg := e.Get("message"); msg.Exists() {
			return msg.String(), true
		}
		return e.String(), true
	}
	if msg := gjson.Get(payload, "errors.0.message"); msg.Exists() {
		return msg.String(), true
	}
	return "", false
}
