package driver

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FlattenField parses a JSON report body and emits the elements of the named
// top-level array as newline-delimited JSON, one record per line, preserving
// array order.
func FlattenField(field string) Transform {
	return func(text string) (string, error) {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return "", fmt.Errorf("parse report body: %w", err)
		}
		raw, ok := doc[field]
		if !ok {
			return "", nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", fmt.Errorf("parse %s array: %w", field, err)
		}
		return JoinRecords(items), nil
	}
}

// JoinRecords renders raw JSON records as newline-delimited JSON.
func JoinRecords(items []json.RawMessage) string {
	if len(items) == 0 {
		return ""
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, string(item))
	}
	return strings.Join(lines, "\n")
}
