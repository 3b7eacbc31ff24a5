package events

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

const maxChatLength = 280

// SanitizeText strips HTML/script tags, trims whitespace, and clamps
// length (spec §4.5 step 4).
func SanitizeText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) > maxChatLength {
		s = s[:maxChatLength]
	}
	return s
}
