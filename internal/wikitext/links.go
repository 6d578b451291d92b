package wikitext

import (
	"regexp"
	"strings"
)

// linkRegex matches an internal link and captures its target
var linkRegex = regexp.MustCompile(`\[\[([^\]|\[<>{}]*)(?:\|.*?)?\]\]`)

// urlRegex matches an http(s) URL as MediaWiki autolinks it, bracketed or bare
var urlRegex = regexp.MustCompile(`https?://[^\]\s<>"|]+`)

// urlTrailing are characters that end a bare URL rather than belong to it
const urlTrailing = `.:;,)'`

// FirstLinkTarget returns the target of the first [[internal link]] in text
func FirstLinkTarget(text string) (string, bool) {
	m := linkRegex.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// LinkTarget returns the first link target in text, or the whole trimmed
// text when it contains no link markup
func LinkTarget(text string) string {
	if target, ok := FirstLinkTarget(text); ok {
		return target
	}
	return strings.TrimSpace(text)
}

// FirstExternalURL returns the first external link URL in text. Both
// [http://example.org label] and bare http://example.org forms are found;
// a bare domain without a scheme is not a link.
func FirstExternalURL(text string) (string, bool) {
	m := urlRegex.FindString(text)
	if m == "" {
		return "", false
	}

	// Italic or bold markup directly after the URL is not part of it
	if idx := strings.Index(m, "''"); idx >= 0 {
		m = m[:idx]
	}
	m = strings.TrimRight(m, urlTrailing)

	if strings.HasSuffix(m, "://") {
		return "", false
	}
	return m, true
}
