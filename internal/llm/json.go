package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleanJSON removes markdown code fences from a model response.
func CleanJSON(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

// ExtractJSON finds the first balanced JSON object in a response,
// skipping braces inside string literals.
func ExtractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}

// Decode strips fences, extracts the first JSON object and unmarshals
// it into v. Prose before the object is returned as preamble, which
// models sometimes emit as free-form reasoning.
func Decode(response string, v interface{}) (preamble string, err error) {
	cleaned := CleanJSON(response)
	jsonStr := ExtractJSON(cleaned)
	if jsonStr == "" {
		return "", fmt.Errorf("no JSON object found in response")
	}
	if idx := strings.Index(cleaned, jsonStr); idx > 0 {
		preamble = strings.TrimSpace(cleaned[:idx])
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return preamble, fmt.Errorf("JSON parse failed: %w", err)
	}
	return preamble, nil
}
