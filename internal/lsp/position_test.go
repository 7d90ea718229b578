package lsp

import "testing"

func TestPositionConverter_LineIndex(t *testing.T) {
	pc := NewPositionConverter("one\ntwo\r\nthree")
	if pc.LineCount() != 3 {
		t.Fatalf("LineCount() = %d, want 3", pc.LineCount())
	}

	want := []string{"one", "two", "three"}
	for i, w := range want {
		if got := pc.LineContent(i); got != w {
			t.Errorf("LineContent(%d) = %q, want %q", i, got, w)
		}
	}
	if got := pc.LineContent(9); got != "" {
		t.Errorf("LineContent(9) = %q", got)
	}
}

func TestPositionConverter_EmptyContent(t *testing.T) {
	pc := NewPositionConverter("")
	if pc.LineCount() != 1 {
		t.Errorf("LineCount() = %d, want 1", pc.LineCount())
	}
	if pos := pc.ByteOffsetToPosition(10); pos != (Position{}) {
		t.Errorf("ByteOffsetToPosition(10) = %+v", pos)
	}
}

func TestPositionConverter_ByteOffsetToPosition(t *testing.T) {
	content := "hello\nwörld\n😀x"
	pc := NewPositionConverter(content)

	tests := []struct {
		offset int
		want   Position
	}{
		{0, Position{0, 0}},
		{5, Position{0, 5}},
		{6, Position{1, 0}},
		{9, Position{1, 2}},  // after "wö" (ö is 2 bytes)
		{13, Position{2, 0}}, // line start after "wörld\n"
		{17, Position{2, 2}}, // after the emoji: 2 UTF-16 units
		{18, Position{2, 3}},
		{100, Position{2, 3}},
		{-1, Position{0, 0}},
	}

	for _, tt := range tests {
		if got := pc.ByteOffsetToPosition(tt.offset); got != tt.want {
			t.Errorf("ByteOffsetToPosition(%d) = %+v, want %+v", tt.offset, got, tt.want)
		}
	}
}

func TestPositionConverter_PositionToByteOffset(t *testing.T) {
	content := "hello\nwörld\n😀x"
	pc := NewPositionConverter(content)

	tests := []struct {
		pos  Position
		want int
	}{
		{Position{0, 0}, 0},
		{Position{0, 99}, 5},
		{Position{1, 2}, 9},
		{Position{2, 2}, 17},
		{Position{2, 1}, 17}, // inside the surrogate pair rounds up
		{Position{7, 0}, len(content)},
		{Position{-1, 0}, 0},
	}

	for _, tt := range tests {
		if got := pc.PositionToByteOffset(tt.pos); got != tt.want {
			t.Errorf("PositionToByteOffset(%+v) = %d, want %d", tt.pos, got, tt.want)
		}
	}
}

func TestPositionConverter_RoundTrip(t *testing.T) {
	content := "package main\n\nfunc main() {\n\tprintln(\"héllo\")\n}\n"
	pc := NewPositionConverter(content)

	for offset := 0; offset <= len(content); offset++ {
		if offset < len(content) && content[offset]&0xC0 == 0x80 {
			continue // not a rune boundary
		}
		pos := pc.ByteOffsetToPosition(offset)
		if back := pc.PositionToByteOffset(pos); back != offset {
			t.Errorf("round trip %d -> %+v -> %d", offset, pos, back)
		}
	}
}

func TestPositionConverter_Ranges(t *testing.T) {
	pc := NewPositionConverter("abc\ndef")

	rng := pc.ByteOffsetsToRange(1, 6)
	want := Range{Start: Position{0, 1}, End: Position{1, 2}}
	if rng != want {
		t.Errorf("ByteOffsetsToRange = %+v, want %+v", rng, want)
	}

	start, end := pc.RangeToByteOffsets(Range{Start: Position{1, 2}, End: Position{0, 1}})
	if start != 1 || end != 6 {
		t.Errorf("RangeToByteOffsets(reversed) = %d, %d", start, end)
	}
}

func TestComparePositions(t *testing.T) {
	tests := []struct {
		a, b Position
		want int
	}{
		{Position{0, 0}, Position{0, 0}, 0},
		{Position{0, 1}, Position{0, 2}, -1},
		{Position{1, 0}, Position{0, 9}, 1},
		{Position{2, 5}, Position{2, 3}, 1},
	}
	for _, tt := range tests {
		if got := ComparePositions(tt.a, tt.b); got != tt.want {
			t.Errorf("ComparePositions(%+v, %+v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestUTF16Len(t *testing.T) {
	tests := []struct {
		s    string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"wörld", 5},
		{"😀", 2},
		{"a😀b", 4},
	}
	for _, tt := range tests {
		if got := utf16Len(tt.s); got != tt.want {
			t.Errorf("utf16Len(%q) = %d, want %d", tt.s, got, tt.want)
		}
	}
}

func TestURIHelpers(t *testing.T) {
	uri := FilePathToURI("/tmp/some dir/a.txt")
	if uri != "file:///tmp/some%20dir/a.txt" {
		t.Errorf("FilePathToURI = %s", uri)
	}
	if path := URIToFilePath(uri); path != "/tmp/some dir/a.txt" {
		t.Errorf("URIToFilePath = %s", path)
	}
	if path := URIToFilePath("untitled:Untitled-1"); path != "untitled:Untitled-1" {
		t.Errorf("URIToFilePath(untitled) = %s", path)
	}

	tests := map[DocumentURI]string{
		"file:///a.txt":       "file",
		"GIT:/a.txt":          "git",
		"untitled:Untitled-1": "untitled",
		"":                    "",
	}
	for uri, want := range tests {
		if got := uri.Scheme(); got != want {
			t.Errorf("Scheme(%s) = %q, want %q", uri, got, want)
		}
	}

	if id := DetectLanguageID("README.MD"); id != "markdown" {
		t.Errorf("DetectLanguageID = %s", id)
	}
	if id := DetectLanguageID("Makefile"); id != "plaintext" {
		t.Errorf("DetectLanguageID = %s", id)
	}
}
