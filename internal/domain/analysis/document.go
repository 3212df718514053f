package analysis

import (
	"sort"
	"unicode"
	"unicode/utf8"
)

// Document is a snapshot of an editor buffer handed to the client by the host.
type Document struct {
	Path       string `json:"path"`
	LanguageID string `json:"language_id"`
	Text       string `json:"text"`
	Version    int    `json:"version,omitempty"`
}

// LineIndex translates byte offsets of a document into line/character
// positions and back. Characters are counted in bytes, matching the offsets
// reported by the analyzer.
type LineIndex struct {
	starts []int
	size   int
}

// NewLineIndex builds a LineIndex for text.
func NewLineIndex(text string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts, size: len(text)}
}

// PositionAt returns the position of offset. Offsets past the end of the
// document are clamped to the last position.
func (x *LineIndex) PositionAt(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > x.size {
		offset = x.size
	}
	line := sort.Search(len(x.starts), func(i int) bool { return x.starts[i] > offset }) - 1
	return Position{Line: line, Character: offset - x.starts[line]}
}

// OffsetAt returns the byte offset of pos, clamped to the document.
func (x *LineIndex) OffsetAt(pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(x.starts) {
		return x.size
	}
	end := x.size
	if pos.Line+1 < len(x.starts) {
		end = x.starts[pos.Line+1] - 1
	}
	off := x.starts[pos.Line] + max(pos.Character, 0)
	return min(off, end)
}

// LineCount returns the number of lines in the document.
func (x *LineIndex) LineCount() int {
	return len(x.starts)
}

// WordAt returns the identifier that contains offset, if any.
func WordAt(text string, offset int) (word string, span Span, ok bool) {
	if offset < 0 || offset > len(text) {
		return "", Span{}, false
	}
	start := offset
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !isIdentRune(r) {
			break
		}
		start -= size
	}
	end := offset
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !isIdentRune(r) {
			break
		}
		end += size
	}
	if start == end {
		return "", Span{}, false
	}
	return text[start:end], Span{Start: uint(start), End: uint(end)}, true
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
