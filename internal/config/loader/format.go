package loader

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Format is a configuration file syntax.
type Format struct {
	Name       string
	Extensions []string
	parse      func(source string, data []byte) (map[string]any, error)
}

// Parse decodes data. source names the input in errors.
func (f *Format) Parse(source string, data []byte) (map[string]any, error) {
	return f.parse(source, data)
}

var formats = []*Format{
	{Name: "json", Extensions: []string{".json", ".jsonc"}, parse: ParseJSON},
	{Name: "yaml", Extensions: []string{".yaml", ".yml"}, parse: parseYAML},
	{Name: "toml", Extensions: []string{".toml"}, parse: parseTOML},
}

// FormatFor returns the format of path, chosen by extension.
func FormatFor(path string) (*Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range formats {
		if slices.Contains(f.Extensions, ext) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("unsupported config format: %s", path)
}

// LoadFile reads and decodes one configuration file without following
// imports. A missing file yields nil, nil.
func LoadFile(fsys FileSystem, path string) (map[string]any, error) {
	f, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := readFile(fsys, path)
	if err != nil || data == nil {
		return nil, err
	}
	return f.Parse(path, data)
}
