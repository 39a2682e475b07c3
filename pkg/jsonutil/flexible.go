// Package jsonutil tolerates the loose JSON that language models produce.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// models return numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(trimmed, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(trimmed, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return strconv.FormatInt(int64(numVal), 10)
		}
		return strconv.FormatFloat(numVal, 'g', -1, 64)
	}

	var boolVal bool
	if err := json.Unmarshal(trimmed, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(trimmed)
}

// StringifyScalars rewrites the top-level number and boolean values of a JSON
// object as strings, so {"query": 2024} decodes into a string field.
// Nested objects, arrays and nulls are kept as they are.
func StringifyScalars(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return raw, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("expected a JSON object: %w", err)
	}

	for key, value := range fields {
		v := bytes.TrimSpace(value)
		if len(v) == 0 {
			continue
		}
		switch v[0] {
		case '"', '{', '[', 'n':
			continue
		}
		quoted, err := json.Marshal(FlexibleStringValue(v))
		if err != nil {
			return nil, err
		}
		fields[key] = quoted
	}

	return json.Marshal(fields)
}
