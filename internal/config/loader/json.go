package loader

import "github.com/tidwall/gjson"

// ParseJSON parses a JSON object. The top level must be an object.
func ParseJSON(source string, data []byte) (map[string]any, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{Path: source, Message: "invalid JSON"}
	}
	result := gjson.ParseBytes(data)
	if !result.IsObject() {
		return nil, &ParseError{Path: source, Message: "top level value must be an object"}
	}
	config, _ := result.Value().(map[string]any)
	if config == nil {
		config = map[string]any{}
	}
	return config, nil
}

// Section extracts the object at path (gjson syntax) from a JSON document.
// A missing or non-object value yields an empty map.
func Section(data []byte, path string) map[string]any {
	r := gjson.GetBytes(data, path)
	if !r.IsObject() {
		return map[string]any{}
	}
	m, _ := r.Value().(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}
