// Package llmutil contains helpers for parsing LLM responses, which arrive
// with unpredictable formatting (markdown fences, conversational padding).
package llmutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	// Regex definitions use \x60 for backticks because Go raw strings
	// cannot contain them.

	// jsonObjectRegex extracts a JSON object wrapped in a markdown fence.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")

	// codeBlockRegex extracts content wrapped in a fenced code block with
	// any language tag.
	codeBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")
)

// ParseJSONResponse parses an LLM response string into a target Go type,
// tolerating the common formatting quirks: fenced code blocks and JSON
// embedded in surrounding prose.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	jsonString := response

	if strings.HasPrefix(response, "\x60\x60\x60") {
		if m := jsonObjectRegex.FindStringSubmatch(response); len(m) > 1 {
			jsonString = m[1]
		}
	} else if !strings.HasPrefix(response, "{") {
		// The object may be buried in conversational text.
		fb := strings.Index(response, "{")
		lb := strings.LastIndex(response, "}")
		if fb != -1 && lb > fb {
			jsonString = response[fb : lb+1]
		}
	}

	var result T
	if err := json.Unmarshal([]byte(jsonString), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncate(jsonString, 500))
	}
	return &result, nil
}

// CleanCodeOutput strips a surrounding markdown fence from a code snippet.
func CleanCodeOutput(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "\x60\x60\x60") {
		if m := codeBlockRegex.FindStringSubmatch(content); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return content
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
