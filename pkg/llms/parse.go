package llms

import (
	"encoding/json"
	"strings"

	"github.com/acelabs/ace-go/pkg/errors"
)

// ParseJSONResponse attempts to parse a model response as a JSON object.
// Markdown code fences around the payload are stripped first, since
// models frequently wrap JSON in them despite instructions.
func ParseJSONResponse(response string) (map[string]interface{}, error) {
	cleaned := StripCodeFences(response)

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "failed to parse response as JSON")
	}
	return result, nil
}

// StripCodeFences removes a surrounding markdown code fence, if any.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line.
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
