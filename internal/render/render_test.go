// ABOUTME: Tests for markdown rendering and preview snippets
// ABOUTME: Covers HTML conversion, tag stripping and truncation

package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTML(t *testing.T) {
	out, err := HTML([]byte("# Title\n\nSome *emphasis* here."))
	require.NoError(t, err)
	assert.Contains(t, string(out), "<h1>Title</h1>")
	assert.Contains(t, string(out), "<em>emphasis</em>")
}

func TestSnippet(t *testing.T) {
	md := "# Quarterly Report\n\nRevenue grew by **12%** over the prior\nquarter across all segments."
	snippet := Snippet(md, 200)

	assert.NotContains(t, snippet, "<")
	assert.NotContains(t, snippet, "#")
	assert.NotContains(t, snippet, "\n")
	assert.Contains(t, snippet, "Quarterly Report")
	assert.Contains(t, snippet, "12%")
}

func TestSnippetTruncation(t *testing.T) {
	long := strings.Repeat("word ", 100)
	snippet := Snippet(long, 40)

	assert.LessOrEqual(t, len([]rune(snippet)), 41) // 40 runes plus ellipsis
	assert.True(t, strings.HasSuffix(snippet, "…"))
}

func TestSnippetShortInput(t *testing.T) {
	assert.Equal(t, "tiny", Snippet("tiny", 100))
}
