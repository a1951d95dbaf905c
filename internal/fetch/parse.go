package fetch

import (
	"encoding/json"
	"strings"
)

// ParseBody decodes a response body tolerantly. JSON content types are
// decoded as JSON; other bodies are returned as text unless they look like
// JSON and decode cleanly. A body that fails to decode is returned as text,
// never as an error. The bool reports whether the result is decoded JSON.
func ParseBody(contentType string, raw []byte) (any, bool) {
	text := string(raw)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text, false
	}
	if !strings.Contains(strings.ToLower(contentType), "json") && !LooksLikeJSON(trimmed) {
		return text, false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return text, false
	}
	return v, true
}

// LooksLikeJSON reports whether s starts like a JSON object or array.
func LooksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// messageFrom extracts a human message from a decoded error body.
func messageFrom(body any) string {
	switch v := body.(type) {
	case map[string]any:
		for _, k := range []string{"message", "error", "error_description"} {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
		if e, ok := v["error"].(map[string]any); ok {
			if s, ok := e["message"].(string); ok {
				return s
			}
		}
	case string:
		if len(v) > 200 {
			return v[:200]
		}
		return v
	}
	return ""
}
