package loader

import (
	"errors"
	"testing"
)

func TestLoadFileJSON(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/cspell.json", `{
  "version": "0.2",
  "enabled": false,
  "ignorePaths": ["node_modules/**", "*.min.js"],
  "patterns": [{"name": "hex", "pattern": ["0x[0-9a-f]+", "#[0-9a-f]{6}"]}]
}`)

	config, err := LoadFile(memfs, "/cspell.json")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if config["enabled"] != false {
		t.Errorf("enabled = %v, want false", config["enabled"])
	}
	paths, ok := config["ignorePaths"].([]any)
	if !ok || len(paths) != 2 || paths[1] != "*.min.js" {
		t.Errorf("ignorePaths = %v", config["ignorePaths"])
	}
}

func TestParseJSONInvalid(t *testing.T) {
	tests := []string{`{"enabled": }`, `[1, 2]`, `"text"`}
	for _, input := range tests {
		_, err := ParseJSON("<inline>", []byte(input))
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("ParseJSON(%q) error = %v, want *ParseError", input, err)
		}
	}
}

func TestSection(t *testing.T) {
	doc := []byte(`{"settings": {"cSpell": {"enabled": true, "words": ["a"]}, "other": 1}}`)

	section := Section(doc, "settings.cSpell")
	if section["enabled"] != true {
		t.Errorf("enabled = %v, want true", section["enabled"])
	}

	if got := Section(doc, "settings.other"); len(got) != 0 {
		t.Errorf("non-object section = %v, want empty", got)
	}
	if got := Section(doc, "missing"); got == nil || len(got) != 0 {
		t.Errorf("missing section = %v, want empty map", got)
	}
}
