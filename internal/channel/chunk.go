package channel

import (
	"strings"
	"unicode/utf8"
)

// SplitText splits text into chunks of at most limit characters, preferring
// to break at a newline, then a space, when one falls in the last 30% of
// the window.
func SplitText(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		if len(text) <= limit {
			chunks = append(chunks, text)
			break
		}

		window := text[:limit]
		splitAt := limit
		if i := strings.LastIndexByte(window, '\n'); i > limit*7/10 {
			splitAt = i + 1
		} else if i := strings.LastIndexByte(window, ' '); i > limit*7/10 {
			splitAt = i + 1
		} else {
			// Hard cut: back off to a rune boundary so a chunk never
			// ends mid-codepoint.
			for splitAt > 0 && !utf8.RuneStart(text[splitAt]) {
				splitAt--
			}
			if splitAt == 0 {
				splitAt = limit
			}
		}

		chunks = append(chunks, strings.TrimSpace(text[:splitAt]))
		text = strings.TrimSpace(text[splitAt:])
	}
	return chunks
}
