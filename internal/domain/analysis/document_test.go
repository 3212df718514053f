package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineIndex_PositionAt(t *testing.T) {
	idx := NewLineIndex("fn foo() {\n  bar()\n}\n")

	tests := []struct {
		name   string
		offset int
		want   Position
	}{
		{"start", 0, Position{Line: 0, Character: 0}},
		{"first line", 3, Position{Line: 0, Character: 3}},
		{"newline char", 10, Position{Line: 0, Character: 10}},
		{"second line start", 11, Position{Line: 1, Character: 0}},
		{"second line", 13, Position{Line: 1, Character: 2}},
		{"third line", 19, Position{Line: 2, Character: 0}},
		{"end", 21, Position{Line: 3, Character: 0}},
		{"past end clamps", 500, Position{Line: 3, Character: 0}},
		{"negative clamps", -4, Position{Line: 0, Character: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, idx.PositionAt(tt.offset))
		})
	}
}

func TestLineIndex_OffsetAt(t *testing.T) {
	idx := NewLineIndex("ab\ncde\nf")

	assert.Equal(t, 0, idx.OffsetAt(Position{Line: 0, Character: 0}))
	assert.Equal(t, 4, idx.OffsetAt(Position{Line: 1, Character: 1}))
	assert.Equal(t, 6, idx.OffsetAt(Position{Line: 1, Character: 99}), "clamped to end of line")
	assert.Equal(t, 8, idx.OffsetAt(Position{Line: 9, Character: 0}), "clamped to end of document")
	assert.Equal(t, 3, idx.LineCount())
}

func TestLineIndex_RoundTrip(t *testing.T) {
	text := "class A {\n\tvar x = 1\n}\n\nfn main() {}\n"
	idx := NewLineIndex(text)
	for off := 0; off <= len(text); off++ {
		assert.Equal(t, off, idx.OffsetAt(idx.PositionAt(off)), "offset %d", off)
	}
}

func TestWordAt(t *testing.T) {
	text := "fn foo() { bar_2() }"

	tests := []struct {
		name     string
		offset   int
		wantWord string
		wantSpan Span
		wantOK   bool
	}{
		{"start of word", 3, "foo", Span{Start: 3, End: 6}, true},
		{"inside word", 4, "foo", Span{Start: 3, End: 6}, true},
		{"end of word", 6, "foo", Span{Start: 3, End: 6}, true},
		{"underscore and digit", 13, "bar_2", Span{Start: 11, End: 16}, true},
		{"whitespace", 10, "", Span{}, false},
		{"out of range", 99, "", Span{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			word, span, ok := WordAt(text, tt.offset)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantWord, word)
			assert.Equal(t, tt.wantSpan, span)
		})
	}
}
