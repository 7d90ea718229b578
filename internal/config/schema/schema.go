// Package schema checks cspell settings documents against the published
// settings schema before they are decoded.
//
// Only the keywords the settings schema uses are understood: type,
// properties, items, enum, anyOf, minimum, maximum and minLength.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
)

//go:embed cspell.schema.json
var schemaFS embed.FS

const (
	typeString  = "string"
	typeNumber  = "number"
	typeInteger = "integer"
	typeBoolean = "boolean"
	typeArray   = "array"
	typeObject  = "object"
	typeNull    = "null"
)

// Schema is one node of the settings schema.
type Schema struct {
	Description string `json:"description,omitempty"`
	Type        Types  `json:"type,omitempty"`

	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Enum       []any              `json:"enum,omitempty"`
	AnyOf      []*Schema          `json:"anyOf,omitempty"`

	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`

	Deprecated         bool   `json:"deprecated,omitempty"`
	DeprecationMessage string `json:"deprecationMessage,omitempty"`
}

// Types is the "type" keyword, written either as a string or a list.
type Types []string

func (t *Types) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*t = Types{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("type must be a string or a list of strings: %w", err)
	}
	*t = many
	return nil
}

func (t Types) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]string(t))
}

// Has reports whether typ is one of the allowed types.
func (t Types) Has(typ string) bool {
	return slices.Contains(t, typ)
}

func (t Types) String() string {
	return strings.Join(t, " or ")
}

// Setting returns the schema of a top-level setting, or nil when the
// setting is not described.
func (s *Schema) Setting(name string) *Schema {
	if s == nil {
		return nil
	}
	return s.Properties[name]
}

var (
	settingsOnce   sync.Once
	settingsSchema *Schema
	settingsErr    error
)

// Settings returns the embedded cspell settings schema.
func Settings() (*Schema, error) {
	settingsOnce.Do(func() {
		data, err := schemaFS.ReadFile("cspell.schema.json")
		if err != nil {
			settingsErr = fmt.Errorf("reading settings schema: %w", err)
			return
		}
		settingsSchema, settingsErr = Parse(data)
	})
	return settingsSchema, settingsErr
}

// Parse decodes a schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	return &s, nil
}
