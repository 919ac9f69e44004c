package search

import (
	"regexp"
	"strings"
)

var (
	mdImage      = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdFence      = regexp.MustCompile("(?s)```.*?```")
	mdInlineCode = regexp.MustCompile("`([^`]*)`")
	mdHeading    = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	mdQuote      = regexp.MustCompile(`(?m)^\s*>\s?`)
	mdList       = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)
	mdRule       = regexp.MustCompile(`(?m)^\s*(?:[-*_]\s*){3,}$`)
	mdEmphasis   = regexp.MustCompile(`(\*{1,3}|_{2,3})([^*_]+)(\*{1,3}|_{2,3})`)
	htmlTag      = regexp.MustCompile(`<[^>]+>`)
)

// StripMarkdown reduces markdown to plain prose on a single line.
func StripMarkdown(s string) string {
	s = mdFence.ReplaceAllString(s, " ")
	s = mdImage.ReplaceAllString(s, "")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdRule.ReplaceAllString(s, "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	s = mdList.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, "$2")
	s = htmlTag.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Truncate shortens s to at most n runes, cutting at a word boundary when
// one is close, and appends "..." when it cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)*3/4 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}
