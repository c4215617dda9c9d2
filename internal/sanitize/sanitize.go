// Package sanitize strips markup from user-supplied free text.
package sanitize

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements whose text content is dropped along with the tag.
var discardContent = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Textarea: true,
	atom.Option:   true,
	atom.Noscript: true,
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Strip removes every tag, attribute and comment from text and keeps the
// remaining character data. The result is safe to embed as HTML text.
func Strip(text string) string {
	if !strings.ContainsAny(text, "<&>") {
		return text
	}

	z := html.NewTokenizer(strings.NewReader(text))
	var b strings.Builder
	b.Grow(len(text))
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF is the only error a strings.Reader produces.
			return b.String()
		case html.TextToken:
			if skip == 0 {
				_, _ = escaper.WriteString(&b, string(z.Text()))
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if discardContent[atom.Lookup(name)] {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if discardContent[atom.Lookup(name)] && skip > 0 {
				skip--
			}
		}
	}
}
