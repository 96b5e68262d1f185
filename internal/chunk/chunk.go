// Package chunk splits MarkdownV2 message bodies into pieces that fit a
// byte limit and remain valid markup on their own.
package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const ParagraphSeparator = "\n\n"

// Chunk is a contiguous slice of the input. Sep is the text that followed it
// in the input and is not part of any chunk.
type Chunk struct {
	Text string
	Sep  string
}

// Split packs paragraphs greedily into chunks of at most maxBytes bytes.
// Paragraphs longer than maxBytes are cut at the last whitespace within the
// limit that lies outside any bold span or link, then at the last such rune
// boundary. Cuts never separate an escape backslash from the character it
// escapes. A single rune or escape pair wider than maxBytes is the only case
// that yields an oversized chunk, and a markup span longer than maxBytes is
// the only case that yields a chunk with unbalanced markup.
func Split(text string, maxBytes int) []Chunk {
	if text == "" {
		return nil
	}
	if maxBytes < 1 {
		maxBytes = 1
	}

	level := boundaries(text)

	var (
		chunks []Chunk
		cur    strings.Builder
		open   bool
		// whitespace left over from a hard split that ended a paragraph
		tail string
	)

	flush := func(sep string) {
		chunks = append(chunks, Chunk{Text: cur.String(), Sep: tail + sep})
		cur.Reset()
		open = false
		tail = ""
	}

	for _, p := range paragraphs(text, level) {
		para, lvl := p.text, level[p.start:p.start+len(p.text)+1]

		if open {
			if tail == "" && cur.Len()+len(ParagraphSeparator)+len(para) <= maxBytes {
				cur.WriteString(ParagraphSeparator)
				cur.WriteString(para)
				continue
			}
			flush(ParagraphSeparator)
		}

		for len(para) > maxBytes {
			piece, sep, rest := cut(para, maxBytes, lvl)
			cur.WriteString(piece)
			para = rest
			lvl = lvl[len(piece)+len(sep):]
			if rest == "" {
				tail = sep
				break
			}
			flush(sep)
		}
		cur.WriteString(para)
		open = true
	}
	flush("")

	return chunks
}

// Join reassembles the original text.
func Join(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
		b.WriteString(c.Sep)
	}
	return b.String()
}

// Texts returns the chunk bodies in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// Cut quality at a byte offset.
const (
	midRune      uint8 = iota // inside a multi-byte rune
	midEscape                 // rune boundary, but right after an escaping backslash
	insideMarkup              // escape intact, but a bold span or link is open
	clean                     // no markup open
)

const (
	noLink = iota
	linkText
	linkClose
	linkURL
)

// boundaries rates every offset 0..len(text) of text as a cut position.
func boundaries(text string) []uint8 {
	level := make([]uint8, len(text)+1)

	var (
		escaped bool
		link    = noLink
		// open emphasis delimiters, one bit per '*', '_' and '~'
		emphasis uint8
	)
	rate := func(i int) uint8 {
		switch {
		case i < len(text) && !utf8.RuneStart(text[i]):
			return midRune
		case escaped:
			return midEscape
		case link != noLink || emphasis != 0:
			return insideMarkup
		}
		return clean
	}

	for i := 0; i < len(text); i++ {
		level[i] = rate(i)

		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if link == linkClose {
			if c == '(' {
				link = linkURL
				continue
			}
			link = noLink
		}
		if link == linkURL {
			if c == ')' {
				link = noLink
			}
			continue
		}

		switch c {
		case '[':
			if link == noLink {
				link = linkText
			}
		case ']':
			if link == linkText {
				link = linkClose
			}
		case '*':
			emphasis ^= 1
		case '_':
			emphasis ^= 2
		case '~':
			emphasis ^= 4
		}
	}
	if link == linkClose {
		link = noLink
	}
	level[len(text)] = rate(len(text))

	return level
}

type paragraph struct {
	start int
	text  string
}

// paragraphs splits text on ParagraphSeparator, skipping separators that sit
// inside markup so a span never straddles two paragraphs.
func paragraphs(text string, level []uint8) []paragraph {
	var (
		out   []paragraph
		start int
	)
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], ParagraphSeparator)
		if j < 0 {
			break
		}
		at := i + j
		if level[at] != clean {
			i = at + 1
			continue
		}
		out = append(out, paragraph{start: start, text: text[start:at]})
		start = at + len(ParagraphSeparator)
		i = start
	}
	return append(out, paragraph{start: start, text: text[start:]})
}

// cut splits s, which is longer than limit, into a leading piece that fits,
// the whitespace consumed at the boundary and the remainder. level rates
// every offset of s as produced by boundaries.
func cut(s string, limit int, level []uint8) (piece, sep, rest string) {
	for i := limit; i > 0; i-- {
		if level[i] != clean {
			continue
		}
		if r, size := utf8.DecodeRuneInString(s[i:]); unicode.IsSpace(r) {
			return s[:i], s[i : i+size], s[i+size:]
		}
	}

	for _, floor := range []uint8{clean, insideMarkup} {
		for i := limit; i > 0; i-- {
			if level[i] >= floor {
				return s[:i], "", s[i:]
			}
		}
	}

	// A single rune, or an escape pair, wider than the limit.
	_, end := utf8.DecodeRuneInString(s)
	if s[0] == '\\' && end < len(s) {
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
	}
	return s[:end], "", s[end:]
}
