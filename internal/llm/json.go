package llm

import (
	"fmt"
	"strings"
)

// ExtractJSON returns the first JSON object or array embedded in a model
// response, tolerating surrounding prose and markdown fences. It returns an
// error if no balanced JSON value is found; it never fabricates one.
func ExtractJSON(response string) (string, error) {
	objStart := strings.Index(response, "{")
	arrStart := strings.Index(response, "[")

	start := objStart
	end := strings.LastIndex(response, "}")
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		start = arrStart
		end = strings.LastIndex(response, "]")
	}

	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no valid JSON found in response: %s", truncate(response, 200))
	}
	return response[start : end+1], nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
