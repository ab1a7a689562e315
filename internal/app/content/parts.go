// Package content splits assistant text into renderable parts.
package content

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Part kinds.
const (
	KindText  = "text"
	KindChart = "chart"
)

// Part is either a run of text or an inline chart definition.
type Part struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var chartBlock = regexp.MustCompile(`(?s):::chart(.*?):::`)

// Parse splits text on :::chart<json>::: blocks. A block whose body is not
// valid JSON stays in the output as text. Empty input yields no parts.
func Parse(text string) []Part {
	var parts []Part
	last := 0
	for _, loc := range chartBlock.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		body := strings.TrimSpace(text[loc[2]:loc[3]])

		if start > last {
			parts = append(parts, Part{Type: KindText, Content: text[last:start]})
		}
		if body != "" && gjson.Valid(body) {
			parts = append(parts, Part{Type: KindChart, Data: json.RawMessage(body)})
		} else {
			parts = append(parts, Part{Type: KindText, Content: text[start:end]})
		}
		last = end
	}
	if last < len(text) {
		parts = append(parts, Part{Type: KindText, Content: text[last:]})
	}
	return parts
}
