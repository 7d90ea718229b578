package schema

import (
	"fmt"
	"reflect"
	"sort"
)

// maxProblems bounds how many problems one setting can report.
const maxProblems = 20

// Checker checks settings documents against a schema. Documents come from
// JSON, YAML and TOML decoders, so numbers and lists may have any Go
// numeric or slice type.
type Checker struct {
	schema *Schema
}

// NewChecker returns a checker for s. A nil schema accepts everything.
func NewChecker(s *Schema) *Checker {
	return &Checker{schema: s}
}

// Check returns the problems with one top-level setting. Settings the
// schema does not describe are accepted.
func (c *Checker) Check(key string, value any) Problems {
	var ps Problems
	c.check(key, value, c.schema.Setting(key), &ps)
	return ps
}

// Validate checks every setting in doc.
func (c *Checker) Validate(doc map[string]any) error {
	var all Problems
	for _, key := range sortedKeys(doc) {
		all = append(all, c.Check(key, doc[key])...)
	}
	return all.Err()
}

// Sanitize returns a copy of doc without the settings that fail the
// check, along with the problems that caused each one to be dropped.
func (c *Checker) Sanitize(doc map[string]any) (map[string]any, Problems) {
	out := make(map[string]any, len(doc))
	var dropped Problems
	for _, key := range sortedKeys(doc) {
		if ps := c.Check(key, doc[key]); len(ps) > 0 {
			dropped = append(dropped, ps...)
			continue
		}
		out[key] = doc[key]
	}
	return out, dropped
}

// Deprecated maps each deprecated setting present in doc to its
// deprecation message.
func (c *Checker) Deprecated(doc map[string]any) map[string]string {
	found := make(map[string]string)
	for key := range doc {
		if s := c.schema.Setting(key); s != nil && s.Deprecated {
			found[key] = s.DeprecationMessage
		}
	}
	return found
}

func (c *Checker) check(path string, value any, s *Schema, ps *Problems) {
	if s == nil || len(*ps) >= maxProblems {
		return
	}

	if len(s.AnyOf) > 0 && !c.matchesAny(path, value, s.AnyOf) {
		*ps = append(*ps, Problem{path, "value does not match any of the allowed forms"})
		return
	}
	if len(s.Enum) > 0 && !inEnum(value, s.Enum) {
		*ps = append(*ps, Problem{path, fmt.Sprintf("%v is not one of %v", value, s.Enum)})
		return
	}
	if len(s.Type) == 0 {
		return
	}

	typ, ok := typeOf(value, s.Type)
	if !ok {
		*ps = append(*ps, Problem{path, fmt.Sprintf("expected %s, got %s", s.Type, describe(value))})
		return
	}

	switch typ {
	case typeString:
		if str := value.(string); s.MinLength != nil && len(str) < *s.MinLength {
			*ps = append(*ps, Problem{path, fmt.Sprintf("must be at least %d characters", *s.MinLength)})
		}
	case typeNumber, typeInteger:
		n, _ := number(value)
		if (s.Minimum != nil && n < *s.Minimum) || (s.Maximum != nil && n > *s.Maximum) {
			*ps = append(*ps, Problem{path, fmt.Sprintf("%v is out of range %s", value, bounds(s))})
		}
	case typeArray:
		for i, item := range list(value) {
			c.check(fmt.Sprintf("%s[%d]", path, i), item, s.Items, ps)
		}
	case typeObject:
		obj := value.(map[string]any)
		for _, name := range sortedKeys(obj) {
			c.check(path+"."+name, obj[name], s.Properties[name], ps)
		}
	}
}

func (c *Checker) matchesAny(path string, value any, forms []*Schema) bool {
	for _, f := range forms {
		var ps Problems
		c.check(path, value, f, &ps)
		if len(ps) == 0 {
			return true
		}
	}
	return false
}

// typeOf returns the first allowed type that value satisfies.
func typeOf(value any, allowed Types) (string, bool) {
	for _, typ := range allowed {
		var ok bool
		switch typ {
		case typeString:
			_, ok = value.(string)
		case typeBoolean:
			_, ok = value.(bool)
		case typeNumber:
			_, ok = number(value)
		case typeInteger:
			n, isNum := number(value)
			ok = isNum && n == float64(int64(n))
		case typeArray:
			ok = list(value) != nil
		case typeObject:
			_, ok = value.(map[string]any)
		case typeNull:
			ok = value == nil
		}
		if ok {
			return typ, true
		}
	}
	return "", false
}

func number(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// list returns the elements of a slice value, or nil if v is not a slice.
func list(v any) []any {
	if items, ok := v.([]any); ok {
		if items == nil {
			return []any{}
		}
		return items
	}
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items
}

func inEnum(value any, allowed []any) bool {
	n, isNum := number(value)
	for _, a := range allowed {
		if m, ok := number(a); ok && isNum && m == n {
			return true
		}
		if a == value {
			return true
		}
	}
	return false
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	}
	if _, ok := number(v); ok {
		return "number"
	}
	if list(v) != nil {
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func bounds(s *Schema) string {
	switch {
	case s.Minimum != nil && s.Maximum != nil:
		return fmt.Sprintf("[%v, %v]", *s.Minimum, *s.Maximum)
	case s.Minimum != nil:
		return fmt.Sprintf(">= %v", *s.Minimum)
	default:
		return fmt.Sprintf("<= %v", *s.Maximum)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
