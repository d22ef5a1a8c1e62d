package pbs

import (
	"html"
	"regexp"
	"strings"
)

var (
	lineBreakTags = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</li>|</h[1-6]>`)
	anyTag        = regexp.MustCompile(`<[^>]*>`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
)

// StripHTML flattens the data API's HTML restriction wording into plain
// text: block-closing tags become newlines, all other markup is dropped
// and entities are unescaped.
func StripHTML(s string) string {
	s = lineBreakTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
