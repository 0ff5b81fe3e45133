package tokenizer

import "strings"

// TruncateWords keeps the first maxWords whitespace-separated words, joined
// by single spaces. The result depends only on text and maxWords, so repeated
// submissions of the same page produce the same classifier input.
// maxWords <= 0 disables truncation but still collapses whitespace.
func TruncateWords(text string, maxWords int) (string, bool) {
	words := strings.Fields(text)
	truncated := false
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
		truncated = true
	}
	return strings.Join(words, " "), truncated
}
