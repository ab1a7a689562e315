package streaming

import (
	"encoding/json"
	"io"
	"net/http"
)

// ProviderFailure is the message sent to the client when inference fails.
const ProviderFailure = "AI processing failed"

// SetHeaders prepares h for an event stream response.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

type tokenFrame struct {
	Token string `json:"token"`
}

type doneFrame struct {
	Done bool `json:"done"`
}

type errorFrame struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Encoder writes client frames as "data: <json>\n\n" and flushes each one.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder wraps w. When w implements http.Flusher every frame is flushed.
func NewEncoder(w io.Writer) *Encoder {
	f, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: f}
}

// Token writes a token frame.
func (e *Encoder) Token(text string) error {
	return e.write(tokenFrame{Token: text})
}

// Done writes the terminal success frame.
func (e *Encoder) Done() error {
	return e.write(doneFrame{Done: true})
}

// Error writes the terminal failure frame.
func (e *Encoder) Error(message, details string) error {
	return e.write(errorFrame{Error: message, Details: details})
}

func (e *Encoder) write(frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	if _, err := e.w.Write(buf); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
