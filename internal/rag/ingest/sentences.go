package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)

// SplitSentences groups whole sentences into segments of at most maxChars runes.
// A sentence longer than maxChars is cut on word boundaries. Used where text is embedded
// on the fly rather than stored, e.g. a page sent by the embed widget.
func SplitSentences(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" || maxChars <= 0 {
		return nil
	}

	var segments []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
		currentLen = 0
	}

	for _, raw := range sentencePattern.FindAllString(text, -1) {
		sentence := strings.TrimSpace(raw)
		if sentence == "" {
			continue
		}
		n := utf8.RuneCountInString(sentence)
		if n > maxChars {
			flush()
			segments = append(segments, SplitText(sentence, maxChars, 0)...)
			continue
		}
		if currentLen > 0 && currentLen+1+n > maxChars {
			flush()
		}
		if currentLen > 0 {
			current.WriteString(" ")
			currentLen++
		}
		current.WriteString(sentence)
		currentLen += n
	}
	flush()
	return segments
}
