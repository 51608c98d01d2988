package terminal

import (
	"regexp"
	"strings"
)

var htmlTitleRegex = regexp.MustCompile(`(?is)<title>(.*?)</title>`)

// extractByRegex returns the given group of the last match, trimmed.
func extractByRegex(text string, re *regexp.Regexp, group int) string {
	if text == "" || re == nil {
		return ""
	}
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	last := matches[len(matches)-1]
	if len(last) <= group {
		return ""
	}
	return strings.TrimSpace(last[group])
}

func htmlTitle(data []byte) string {
	return extractByRegex(string(data), htmlTitleRegex, 1)
}
