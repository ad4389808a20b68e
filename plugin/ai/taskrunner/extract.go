package taskrunner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON returns the first balanced brace-delimited object in s.
// Braces inside JSON strings are ignored.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end := matchBrace(s, start); end > 0 {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at open, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parsePayload extracts the task payload from agent stdout and forces its
// type field to want. The agent's JSON envelope, whose "result" field holds
// the model text, is unwrapped when present. An envelope flagged is_error,
// or one whose text holds no valid object, is a parse failure.
func parsePayload(stdout string, want TaskType) (json.RawMessage, bool, error) {
	raw, ok := extractJSON(stdout)
	if !ok {
		return nil, false, ErrNoJSON
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, false, err
	}

	if failed, _ := obj["is_error"].(bool); failed {
		msg, _ := obj["result"].(string)
		return nil, false, fmt.Errorf("%w: %s", ErrAgentReported, truncate(msg))
	}
	if inner, ok := obj["result"].(string); ok {
		innerRaw, found := extractJSON(inner)
		if !found {
			return nil, false, ErrNoJSON
		}
		var innerObj map[string]any
		if err := json.Unmarshal([]byte(innerRaw), &innerObj); err != nil {
			return nil, false, err
		}
		obj = innerObj
	}

	corrected := false
	if got, _ := obj["type"].(string); got != string(want) {
		obj["type"] = string(want)
		corrected = true
	}

	payload, err := json.Marshal(obj)
	if err != nil {
		return nil, false, err
	}
	return payload, corrected, nil
}
