package nitro

import (
	"encoding/json"
	"regexp"
	"strings"
)

// NoResponsePlaceholder stands in for an answer with no text content.
const NoResponsePlaceholder = "No response received from Nitro AI"

// ToolMarkerPattern matches the tool-invocation markers the backend embeds
// in answers, e.g. {"tool":"books"}. They are never shown to users.
var ToolMarkerPattern = regexp.MustCompile(`\{"tool":"[^"]+"\}`)

type toolResult struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// StripToolMarkers removes tool-invocation markers and trims the result.
func StripToolMarkers(text string) string {
	return strings.TrimSpace(ToolMarkerPattern.ReplaceAllString(text, ""))
}

// extractText joins the text blocks of a tools/call result. A result without
// usable text yields NoResponsePlaceholder.
func extractText(result json.RawMessage) string {
	var tr toolResult
	if err := json.Unmarshal(result, &tr); err != nil || len(tr.Content) == 0 {
		return NoResponsePlaceholder
	}

	parts := make([]string, 0, len(tr.Content))
	for _, block := range tr.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}

	text := StripToolMarkers(strings.Join(parts, "\n"))
	if text == "" {
		return NoResponsePlaceholder
	}
	return text
}
