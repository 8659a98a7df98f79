package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// singleItemKeys mark an object that is itself one record rather than an
// envelope around a list.
var singleItemKeys = []string{"title", "id"}

// UnwrapRecords reads a completion as a list of records. Accepted shapes: a
// bare array, an object whose first array-valued field holds the list, or a
// single record object. Anything else is ErrUnexpectedShape.
func UnwrapRecords(raw string) ([]json.RawMessage, error) {
	data := []byte(stripFences(raw))
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnexpectedShape)
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		return items, nil
	case '{':
		return unwrapObject(data)
	default:
		return nil, fmt.Errorf("%w: not json: %.40q", ErrUnexpectedShape, raw)
	}
}

// unwrapObject walks the object's fields in document order so the first
// array-valued field wins deterministically.
func unwrapObject(data []byte) ([]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	keys := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		key, _ := tok.(string)
		keys[strings.ToLower(key)] = true

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		value = bytes.TrimSpace(value)
		if len(value) > 0 && value[0] == '[' {
			var items []json.RawMessage
			if err := json.Unmarshal(value, &items); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
			}
			return items, nil
		}
	}

	for _, k := range singleItemKeys {
		if keys[k] {
			return []json.RawMessage{json.RawMessage(data)}, nil
		}
	}
	return nil, fmt.Errorf("%w: object without a list", ErrUnexpectedShape)
}

// DecodeObject decodes a single JSON object into v. A one-element array
// around the object is accepted.
func DecodeObject(raw string, v any) error {
	data := []byte(stripFences(raw))
	if len(data) > 0 && data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
			return fmt.Errorf("%w: expected an object", ErrUnexpectedShape)
		}
		data = items[0]
	}
	if len(data) == 0 || data[0] != '{' {
		return fmt.Errorf("%w: expected an object", ErrUnexpectedShape)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return nil
}

// ExtractIDs reads a completion as an ordered list of ids. Elements may be
// strings, numbers, or objects carrying an "id" field; others are skipped.
func ExtractIDs(raw string) ([]string, error) {
	records, err := UnwrapRecords(raw)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if id := recordID(rec); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func recordID(rec json.RawMessage) string {
	var s string
	if err := json.Unmarshal(rec, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(rec, &n); err == nil {
		return n.String()
	}
	var obj map[string]any
	if err := json.Unmarshal(rec, &obj); err == nil {
		switch id := obj["id"].(type) {
		case string:
			return strings.TrimSpace(id)
		case float64:
			return strconv.FormatFloat(id, 'f', -1, 64)
		}
	}
	return ""
}

// stripFences removes a Markdown code fence some models wrap JSON in.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
