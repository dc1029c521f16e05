package extractor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"inmobiscrap/models"
)

var errEmptyResponse = errors.New("empty response")

// wrapperKeys are the keys models use when they wrap the list in an object.
var wrapperKeys = []string{"propiedades", "properties", "listings", "resultados", "results", "items"}

// ParseResponse decodes an LLM payload into records. The payload may be a
// JSON string carrying the document, optionally inside a Markdown code
// fence. An array yields its object elements, a single object yields one
// record (or the array under a known wrapper key). Anything else is an error.
func ParseResponse(raw json.RawMessage) ([]models.RawListing, error) {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 {
		return nil, errEmptyResponse
	}

	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, fmt.Errorf("decode string payload: %w", err)
		}
		data = []byte(StripFences(text))
		if len(data) == 0 {
			return nil, errEmptyResponse
		}
	}

	switch data[0] {
	case '[':
		return decodeArray(data)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		for _, key := range wrapperKeys {
			inner, ok := obj[key]
			if ok && len(bytes.TrimSpace(inner)) > 0 && bytes.TrimSpace(inner)[0] == '[' {
				return decodeArray(inner)
			}
		}
		var rec models.RawListing
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		return []models.RawListing{rec}, nil
	}
	return nil, fmt.Errorf("unexpected payload shape %q", preview(data))
}

func decodeArray(data []byte) ([]models.RawListing, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode array: %w", err)
	}

	records := make([]models.RawListing, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			continue
		}
		var rec models.RawListing
		if err := json.Unmarshal(item, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// StripFences removes a surrounding ```json ... ``` block if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "[{") {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func preview(data []byte) string {
	const limit = 40
	if len(data) > limit {
		return string(data[:limit])
	}
	return string(data)
}
