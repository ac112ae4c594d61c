// ABOUTME: Markdown rendering helpers for summary mode and discovery previews
// ABOUTME: Wraps goldmark for HTML output and derives plain-text snippets

package render

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// HTML converts markdown source to HTML. Used when a markdown-stored
// resource is served in summary mode.
func HTML(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdown.Convert(source, &buf); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// Snippet produces a single-line plain-text excerpt of at most max runes
// from markdown source, suitable for discovery previews.
func Snippet(source string, max int) string {
	html, err := HTML([]byte(source))
	if err != nil {
		// Fall back to the raw source on render failure
		html = []byte(source)
	}
	text := stripTags(string(html))
	text = collapseWhitespace(text)

	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimRight(string(runes[:max]), " ") + "…"
}

// stripTags removes HTML tags without interpreting the document structure.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}
