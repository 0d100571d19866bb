package tui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubzen/runneragent/internal/observer"
)

func TestWrapRowsBreaksLongWords(t *testing.T) {
	t.Parallel()

	rows := wrapRows(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, rows)
}

func TestWrapRowsKeepsMessageNewlines(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"first", "", "third"}, wrapRows("first\r\n\nthird", 40))
}

func TestWrapEventIndentsByDepth(t *testing.T) {
	t.Parallel()

	out := wrapEvent(observer.Line{Depth: 2, Text: "> BuiltIn.Log  hello"}, 80)
	assert.Equal(t, "    > BuiltIn.Log  hello", out)

	assert.Equal(t, "  INFO x", wrapEvent(observer.Line{Depth: 1, Text: "INFO x"}, 0))
}

func TestWrapEventHangsContinuationRows(t *testing.T) {
	t.Parallel()

	out := wrapEvent(observer.Line{Depth: 1, Text: "INFO " + strings.Repeat("a", 40)}, 30)
	rows := strings.Split(out, "\n")
	require.Greater(t, len(rows), 1)
	assert.True(t, strings.HasPrefix(rows[0], "  INFO"))
	for _, r := range rows[1:] {
		assert.True(t, strings.HasPrefix(r, "      "), "continuation %q", r)
		assert.LessOrEqual(t, len(r), 30)
	}
}

func TestWrapEventClampsDeepNesting(t *testing.T) {
	t.Parallel()

	out := wrapEvent(observer.Line{Depth: 30, Text: "< Deep [PASS]"}, 40)
	rows := strings.Split(out, "\n")
	assert.Equal(t, strings.Repeat(" ", 20)+"< Deep [PASS]", rows[0])
}
