package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// marshalDoc converts a value or metadata mapping to JSON TEXT for storage.
// HTML escaping is disabled so stored documents round-trip byte-for-byte.
func marshalDoc(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// UnmarshalDoc parses a stored JSON TEXT document.
func UnmarshalDoc(data string) (any, error) {
	if data == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return v, nil
}

// UnmarshalMeta parses a stored metadata document. Empty documents decode to
// an empty, non-nil mapping so cached snapshots compare structurally.
func UnmarshalMeta(data string) (map[string]any, error) {
	if data == "" || data == "{}" || data == "null" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
