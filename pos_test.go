package gravitas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineIndexLocationAtFirstLine(t *testing.T) {
	li := NewLineIndex([]byte("let x = 1;"))
	loc := li.LocationAt(4)
	assert.Equal(t, Location{Line: 1, Column: 5, Cursor: 4}, loc)
}

func TestLineIndexLocationAtCrossesNewlines(t *testing.T) {
	li := NewLineIndex([]byte("let x = 1;\nlet y = 2;\nlet z = 3;"))
	loc := li.LocationAt(15)
	assert.Equal(t, 2, loc.Line)
	assert.Equal(t, 5, loc.Column)
}

func TestLineIndexLocationAtClampsOutOfRangeCursor(t *testing.T) {
	li := NewLineIndex([]byte("abc"))
	assert.Equal(t, Location{Line: 1, Column: 1, Cursor: 0}, li.LocationAt(-5))
	assert.Equal(t, Location{Line: 1, Column: 4, Cursor: 3}, li.LocationAt(100))
}

func TestLineIndexLocate(t *testing.T) {
	li := NewLineIndex([]byte("ab\ncd"))
	start, end := li.Locate(NewRange(0, 4))
	assert.Equal(t, Location{Line: 1, Column: 1, Cursor: 0}, start)
	assert.Equal(t, Location{Line: 2, Column: 2, Cursor: 4}, end)
}
