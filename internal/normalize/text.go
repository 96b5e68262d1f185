package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Text strips markup from s and normalizes its whitespace. Block elements
// become paragraph breaks.
func Text(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return Whitespace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return Whitespace(s)
	}

	doc.Find("script, style, noscript").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("li, tr").AppendHtml("\n")
	doc.Find("p, div, blockquote, pre, ul, ol, table, h1, h2, h3, h4, h5, h6").AppendHtml("\n\n")

	return Whitespace(doc.Text())
}

// Title returns s as a single line of plain text.
func Title(s string) string {
	return strings.Join(strings.Fields(Text(s)), " ")
}

// Whitespace trims every line, collapses runs of blanks inside a line and
// keeps at most one empty line between paragraphs.
func Whitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(out) > 0 {
				blank = true
			}
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
