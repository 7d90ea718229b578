package schema

import "testing"

func TestSettingsSchemaLoads(t *testing.T) {
	s, err := Settings()
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if !s.Type.Has(typeObject) {
		t.Errorf("root type = %v, want object", s.Type)
	}

	tests := []struct {
		name string
		want string
	}{
		{"enabled", typeBoolean},
		{"words", typeArray},
		{"checkLimit", typeInteger},
		{"diagnosticLevel", typeString},
	}
	for _, tt := range tests {
		prop := s.Setting(tt.name)
		if prop == nil {
			t.Errorf("Setting(%q) = nil", tt.name)
			continue
		}
		if !prop.Type.Has(tt.want) {
			t.Errorf("%s type = %v, want %s", tt.name, prop.Type, tt.want)
		}
	}

	if s.Setting("nope") != nil {
		t.Error("Setting(nope) should be nil")
	}
}

func TestTypesJSON(t *testing.T) {
	s, err := Parse([]byte(`{"type": ["string", "null"], "properties": {"a": {"type": "integer"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if !s.Type.Has(typeString) || !s.Type.Has(typeNull) {
		t.Errorf("Type = %v", s.Type)
	}
	if got := s.Type.String(); got != "string or null" {
		t.Errorf("String() = %q", got)
	}

	data, err := s.Setting("a").Type.MarshalJSON()
	if err != nil || string(data) != `"integer"` {
		t.Errorf("MarshalJSON = %s, %v", data, err)
	}

	if _, err := Parse([]byte(`{"type": 3}`)); err == nil {
		t.Error("expected error for numeric type")
	}
}
