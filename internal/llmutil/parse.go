package llmutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripMarkdownJSON extracts JSON from a model response that may contain
// markdown code fences or leading text. It strips ```json and ``` fences and
// returns the text from the first '{' or '[' that is not part of a '{{'
// template reference.
func StripMarkdownJSON(text string) (string, error) {
	content := strings.TrimSpace(text)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := -1
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '{':
			if i+1 < len(content) && content[i+1] == '{' {
				i++
				continue
			}
			start = i
		case '[':
			start = i
		}
		if start >= 0 {
			break
		}
	}

	if start < 0 {
		return "", fmt.Errorf("no JSON document found in text")
	}

	return content[start:], nil
}

// DecodeJSON strips fences and leading prose, then decodes the first JSON
// value in text. Trailing prose after the value is ignored.
func DecodeJSON(text string) (any, error) {
	content, err := StripMarkdownJSON(text)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.NewDecoder(strings.NewReader(content)).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return v, nil
}
