package app

import "strings"

const titleWordCount = 4

// deriveTitle builds a human-readable session title from the assistant's
// first response: its first four whitespace-delimited words. An empty
// response yields no title.
func deriveTitle(assistantText string) string {
	words := strings.Fields(assistantText)
	if len(words) == 0 {
		return ""
	}
	if len(words) > titleWordCount {
		words = words[:titleWordCount]
	}
	return strings.Join(words, " ")
}
