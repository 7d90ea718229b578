package lsp

import (
	"sort"
	"unicode/utf16"
	"unicode/utf8"
)

// PositionConverter handles conversions between byte offsets and LSP
// positions. LSP uses 0-based line/column positions with UTF-16 code units
// for columns.
type PositionConverter struct {
	content string
	starts  []int // byte offset of each line start
}

// NewPositionConverter creates a new converter for the given content.
func NewPositionConverter(content string) *PositionConverter {
	pc := &PositionConverter{content: content, starts: []int{0}}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			pc.starts = append(pc.starts, i+1)
		}
	}
	return pc
}

// LineCount returns the number of lines.
func (pc *PositionConverter) LineCount() int {
	return len(pc.starts)
}

// LineByteRange returns the byte range for a line, excluding the line break.
func (pc *PositionConverter) LineByteRange(line int) (start, end int) {
	if line < 0 || line >= len(pc.starts) {
		return 0, 0
	}
	start = pc.starts[line]
	if line+1 < len(pc.starts) {
		end = pc.starts[line+1] - 1
	} else {
		end = len(pc.content)
	}
	if end > start && pc.content[end-1] == '\r' {
		end--
	}
	return start, end
}

// LineContent returns the content of a line, excluding the line break.
func (pc *PositionConverter) LineContent(line int) string {
	start, end := pc.LineByteRange(line)
	return pc.content[start:end]
}

// ByteOffsetToPosition converts a byte offset to an LSP Position. Offsets
// are clamped to the content.
func (pc *PositionConverter) ByteOffsetToPosition(offset int) Position {
	if offset <= 0 {
		return Position{}
	}
	if offset > len(pc.content) {
		offset = len(pc.content)
	}
	line := sort.Search(len(pc.starts), func(i int) bool { return pc.starts[i] > offset }) - 1
	start := pc.starts[line]
	return Position{Line: line, Character: utf16Len(pc.content[start:offset])}
}

// PositionToByteOffset converts an LSP Position to a byte offset. A
// character past the end of the line maps to the end of the line.
func (pc *PositionConverter) PositionToByteOffset(pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(pc.starts) {
		return len(pc.content)
	}
	start, end := pc.LineByteRange(pos.Line)
	return start + utf16ToByteOffset(pc.content[start:end], pos.Character)
}

// RangeToByteOffsets converts an LSP Range to start and end byte offsets.
func (pc *PositionConverter) RangeToByteOffsets(rng Range) (start, end int) {
	start = pc.PositionToByteOffset(rng.Start)
	end = pc.PositionToByteOffset(rng.End)
	if end < start {
		start, end = end, start
	}
	return start, end
}

// ByteOffsetsToRange converts start and end byte offsets to an LSP Range.
func (pc *PositionConverter) ByteOffsetsToRange(start, end int) Range {
	return Range{
		Start: pc.ByteOffsetToPosition(start),
		End:   pc.ByteOffsetToPosition(end),
	}
}

// utf16Len returns the length of s in UTF-16 code units.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// utf16ToByteOffset converts a UTF-16 offset to byte offset within s. An
// offset inside a surrogate pair rounds up to the end of the rune.
func utf16ToByteOffset(s string, off int) int {
	if off <= 0 {
		return 0
	}
	count := 0
	for i := 0; i < len(s); {
		if count >= off {
			return i
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if utf16.RuneLen(r) == 2 {
			count += 2
		} else {
			count++
		}
		i += size
	}
	return len(s)
}

// ComparePositions returns -1, 0 or 1.
func ComparePositions(a, b Position) int {
	switch {
	case a.Line < b.Line:
		return -1
	case a.Line > b.Line:
		return 1
	case a.Character < b.Character:
		return -1
	case a.Character > b.Character:
		return 1
	default:
		return 0
	}
}
