package streaming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workersStream = "data: {\"response\":\"Hel\"}\n\n" +
	"data: {\"response\":\"lo, \"}\r\n\r\n" +
	": keep-alive\n" +
	"event: message\n" +
	"data: {\"response\":\"wörld 🌍\"}\n\n" +
	"data: {\"response\":\"\",\"usage\":{\"prompt_tokens\":3}}\n\n" +
	"data: [DONE]\n\n" +
	"data: {\"response\":\"ignored\"}\n\n"

func decodeAll(t *testing.T, d *Decoder, chunks ...string) []Event {
	t.Helper()
	var out []Event
	for _, c := range chunks {
		events, err := d.Write([]byte(c))
		require.NoError(t, err)
		out = append(out, events...)
	}
	events, err := d.Close()
	require.NoError(t, err)
	return append(out, events...)
}

func tokens(events []Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Kind == EventToken {
			sb.WriteString(ev.Text)
		}
	}
	return sb.String()
}

func TestDecoderWorkersStream(t *testing.T) {
	d := NewDecoder("response")
	events := decodeAll(t, d, workersStream)

	require.Len(t, events, 4)
	assert.Equal(t, "Hello, wörld 🌍", tokens(events))
	assert.Equal(t, EventDone, events[3].Kind)
	assert.True(t, d.Done())
}

func TestDecoderSplitAtEveryOffset(t *testing.T) {
	whole := decodeAll(t, NewDecoder("response"), workersStream)

	for i := 1; i < len(workersStream); i++ {
		got := decodeAll(t, NewDecoder("response"), workersStream[:i], workersStream[i:])
		require.Equal(t, whole, got, "split at %d", i)
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	d := NewDecoder("response")
	var chunks []string
	for i := 0; i < len(workersStream); i++ {
		chunks = append(chunks, workersStream[i:i+1])
	}
	assert.Equal(t, "Hello, wörld 🌍", tokens(decodeAll(t, d, chunks...)))
}

func TestDecoderOpenAIPath(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n" +
		"data: [DONE]\n\n"
	events := decodeAll(t, NewDecoder("choices.0.delta.content"), stream)
	assert.Equal(t, "Hi there", tokens(events))
	assert.Len(t, events, 3)
}

func TestDecoderErrorPayloads(t *testing.T) {
	events := decodeAll(t, NewDecoder("response"),
		"data: {\"error\":{\"message\":\"quota exceeded\"}}\n",
		"data: {\"errors\":[{\"message\":\"bad model\"}]}\n",
		"data: {\"error\":\"plain\"}\n",
	)
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, EventError, ev.Kind)
	}
	assert.Equal(t, "quota exceeded", events[0].Text)
	assert.Equal(t, "bad model", events[1].Text)
	assert.Equal(t, "plain", events[2].Text)
}

func TestDecoderRawFallbackAndFinalFlush(t *testing.T) {
	events := decodeAll(t, NewDecoder("response"), "data: plain text\n", "data:no-space")
	require.Len(t, events, 2)
	assert.Equal(t, "plain text", events[0].Text)
	assert.Equal(t, "no-space", events[1].Text)
}

func TestDecoderLineTooLong(t *testing.T) {
	d := NewDecoder("response")
	_, err := d.Write([]byte("data: " + strings.Repeat("x", MaxLineBytes)))
	assert.ErrorIs(t, err, ErrLineTooLong)

	d = NewDecoder("response")
	_, err = d.Write([]byte("data: " + strings.Repeat("x", MaxLineBytes) + "\n"))
	assert.ErrorIs(t, err, ErrLineTooLong)
}
