package attrbody

import (
	"unicode/utf8"

	"github.com/wesm/imsgtext/internal/typedstream"
)

// MaxTypedstreamCandidates bounds how many string-class occurrences are
// examined in one typedstream payload.
const MaxTypedstreamCandidates = typedstream.MaxCandidates

// ExtractTypedstream returns the longest string payload in a typedstream
// archive that is not metadata, or false when buf lacks the typedstream
// marker or no payload survives. Length is measured in runes; the first of
// equally long candidates wins.
func ExtractTypedstream(buf []byte) (string, bool) {
	e, ok := extractTypedstream(buf)
	return e.text, ok
}

// extractTypedstream marks the chosen payload misread when it was not
// valid UTF-8.
func extractTypedstream(buf []byte) (extracted, bool) {
	if !typedstream.HasMarker(buf) {
		return extracted{}, false
	}
	var best extracted
	bestLen := 0
	for _, c := range typedstream.Scan(buf) {
		if !acceptable(c.Text) {
			continue
		}
		if n := utf8.RuneCountInString(c.Text); n > bestLen {
			best, bestLen = extracted{text: c.Text, misread: c.Repaired}, n
		}
	}
	return best, bestLen > 0
}
