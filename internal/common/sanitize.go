package common

import (
	"html"
	"regexp"
	"strings"
)

var (
	scriptTagRe   = regexp.MustCompile(`(?is)<\s*/?\s*script[^>]*>`)
	jsSchemeRe    = regexp.MustCompile(`(?i)javascript\s*:`)
	eventAttrRe   = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	controlCharRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// CleanInput strips script fragments and escapes markup in merchant-supplied
// text before it is stored or rendered. Plain text passes through unchanged
// apart from surrounding whitespace.
func CleanInput(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}
	s = controlCharRe.ReplaceAllString(s, "")
	s = scriptTagRe.ReplaceAllString(s, "")
	s = jsSchemeRe.ReplaceAllString(s, "")
	s = eventAttrRe.ReplaceAllString(s, "")
	if strings.ContainsAny(s, "<>\"'&") {
		s = html.EscapeString(s)
	}
	return s
}
