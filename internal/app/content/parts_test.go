package content

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTextOnly(t *testing.T) {
	assert.Empty(t, Parse(""))
	assert.Equal(t, []Part{{Type: KindText, Content: "plain answer"}}, Parse("plain answer"))
}

func TestParseChartBetweenText(t *testing.T) {
	text := "Here is BTC:\n:::chart{\"type\":\"line\",\"data\":[1,2,3]}:::\nLooks bullish."
	parts := Parse(text)

	require.Len(t, parts, 3)
	assert.Equal(t, Part{Type: KindText, Content: "Here is BTC:\n"}, parts[0])
	assert.Equal(t, KindChart, parts[1].Type)
	assert.JSONEq(t, `{"type":"line","data":[1,2,3]}`, string(parts[1].Data))
	assert.Equal(t, "\nLooks bullish.", parts[2].Content)
}

func TestParseMultilineAndInvalidBlocks(t *testing.T) {
	text := ":::chart\n{\n  \"type\": \"bar\"\n}\n::::::chart{oops}:::"
	parts := Parse(text)

	require.Len(t, parts, 2)
	assert.Equal(t, KindChart, parts[0].Type)
	assert.Equal(t, Part{Type: KindText, Content: ":::chart{oops}:::"}, parts[1])
}

func TestPartJSONShape(t *testing.T) {
	raw, err := json.Marshal(Parse(":::chart{\"a\":1}:::"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"chart","data":{"a":1}}]`, string(raw))
}
