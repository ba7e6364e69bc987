// Package snippet derives plain-text snippets and summaries from event
// bodies. Provider bodies arrive as markdown; snippets are built from the
// rendered text, not the raw markup.
package snippet

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// PlainText strips markdown from body, returning the readable text with
// blocks joined by single spaces. Malformed markdown degrades to the raw
// input, never to an error.
func PlainText(body string) string {
	if body == "" {
		return ""
	}
	src := []byte(body)
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && b.Len() > 0 {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.AutoLink:
			b.Write(t.URL(src))
		case *ast.CodeSpan:
			// inline code keeps its literal text via child Text nodes
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return strings.TrimSpace(body)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Truncate cuts s to at most max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}

// Summary derives the summary view for embedding: title plus the leading
// portion of the plain-text body.
func Summary(title, body string) string {
	plain := PlainText(body)
	if plain == "" {
		return title
	}
	return title + ". " + Truncate(plain, 400)
}
