package ocr

import (
	"strings"
	"unicode/utf8"
)

// maxCleanLength caps cleaned text at 50K characters.
const maxCleanLength = 50000

// truncatedMarker is appended when CleanText caps the text.
const truncatedMarker = "... [texto truncado]"

// CleanText normalizes raw extractor output. Whitespace within each line is
// collapsed, lines of three characters or fewer are dropped as OCR noise, and
// the total length is capped at maxCleanLength characters.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if utf8.RuneCountInString(line) <= 3 {
			continue
		}
		lines = append(lines, line)
	}

	out := strings.Join(lines, "\n")
	if utf8.RuneCountInString(out) > maxCleanLength {
		out = truncateRunes(out, maxCleanLength) + truncatedMarker
	}
	return out
}

// truncateRunes returns the first n runes of s without splitting a rune.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
