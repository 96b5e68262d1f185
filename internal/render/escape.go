package render

import "strings"

// reserved holds every character MarkdownV2 requires to be escaped in
// running text. The backslash itself is handled separately.
const reserved = "_*[]()~`>#+-=|{}.!"

func isReserved(c byte) bool {
	return c == '\\' || strings.IndexByte(reserved, c) >= 0
}

// Escape returns s with every MarkdownV2 reserved character preceded by a
// backslash. It is applied to raw content before any structural markup is
// added around it.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/8)
	for i := 0; i < len(s); i++ {
		if isReserved(s[i]) {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// EscapeURL escapes the target part of an inline link, where only ')' and
// '\' are significant.
func EscapeURL(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ')' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Bold wraps escaped text in bold delimiters.
func Bold(text string) string {
	return "*" + Escape(text) + "*"
}

// Link renders an inline link with escaped text and target.
func Link(text, url string) string {
	return "[" + Escape(text) + "](" + EscapeURL(url) + ")"
}

// Sanitize turns lightly formatted operator text into valid MarkdownV2 in a
// single pass. It keeps *bold* spans and [text](url) links as structure,
// leaves existing escape sequences alone and escapes everything else.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\\':
			i += copyEscape(&b, s, i)
		case c == '*':
			end := findUnescaped(s, i+1, '*')
			if end > i+1 {
				b.WriteByte('*')
				writeLiteral(&b, s[i+1:end])
				b.WriteByte('*')
				i = end + 1
				continue
			}
			b.WriteString(`\*`)
			i++
		case c == '[':
			text, url, next, ok := scanLink(s, i)
			if ok {
				b.WriteByte('[')
				writeLiteral(&b, text)
				b.WriteString("](")
				b.WriteString(EscapeURL(unescape(url)))
				b.WriteByte(')')
				i = next
				continue
			}
			b.WriteString(`\[`)
			i++
		case isReserved(c):
			b.WriteByte('\\')
			b.WriteByte(c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// Plain converts MarkdownV2 back into readable plain text: escapes are
// dropped, bold delimiters removed and links become "text (url)". The result
// is never longer than the input.
func Plain(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			b.WriteByte(s[i+1])
			i += 2
		case c == '*':
			i++
		case c == '[':
			text, url, next, ok := scanLink(s, i)
			if !ok {
				b.WriteByte(c)
				i++
				continue
			}
			b.WriteString(Plain(text))
			b.WriteString(" (")
			b.WriteString(unescape(url))
			b.WriteByte(')')
			i = next
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// writeLiteral escapes the content of a structural span, keeping escape
// sequences that are already present.
func writeLiteral(b *strings.Builder, s string) {
	for i := 0; i < len(s); {
		if s[i] == '\\' {
			i += copyEscape(b, s, i)
			continue
		}
		if isReserved(s[i]) {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
		i++
	}
}

// copyEscape writes the escape sequence starting at s[i] and returns the
// number of bytes consumed. A backslash that does not escape a reserved
// character is itself escaped.
func copyEscape(b *strings.Builder, s string, i int) int {
	if i+1 < len(s) && isReserved(s[i+1]) {
		b.WriteByte('\\')
		b.WriteByte(s[i+1])
		return 2
	}
	b.WriteString(`\\`)
	return 1
}

// findUnescaped returns the index of the first c at or after from that is
// not preceded by an escaping backslash, or -1.
func findUnescaped(s string, from int, c byte) int {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case c:
			return i
		case '\n':
			if c == '*' {
				return -1
			}
		}
	}
	return -1
}

// scanLink parses "[text](url)" starting at s[i] == '['.
func scanLink(s string, i int) (text, url string, next int, ok bool) {
	closeText := findUnescaped(s, i+1, ']')
	if closeText < 0 || closeText+1 >= len(s) || s[closeText+1] != '(' {
		return "", "", 0, false
	}
	closeURL := findUnescaped(s, closeText+2, ')')
	if closeURL < 0 || closeURL == closeText+2 {
		return "", "", 0, false
	}
	return s[i+1 : closeText], s[closeText+2 : closeURL], closeURL + 1, true
}

func unescape(s string) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
