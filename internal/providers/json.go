package providers

import (
	"errors"
	"strings"
)

// ErrNoJSONObject is returned when a reply contains no {...} object.
var ErrNoJSONObject = errors.New("no JSON object in reply")

// ExtractJSONObject pulls the outermost JSON object out of a model reply,
// dropping markdown code fences and any prose around it.
func ExtractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSONObject
	}
	return text[start : end+1], nil
}
