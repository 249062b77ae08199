package attrbody

import "unicode/utf8"

// Thresholds for misreadUTF16. Nearly every code unit must split into two
// printable ASCII bytes, and most of those bytes must read as prose.
const (
	minASCIIPairShare = 0.9
	minWordByteShare  = 0.75
)

// misreadUTF16 reports whether s looks like ASCII text decoded as
// big-endian UTF-16: each rune's two bytes are printable ASCII (the final
// rune may carry a NUL padding byte), and together those bytes spell
// letters, digits, spaces and ordinary punctuation. Correctly decoded
// Cyrillic, Greek, Hebrew or kana text does not fit the pattern because
// its code units have low high bytes or non-ASCII low bytes.
func misreadUTF16(s string) bool {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return false
	}
	var pairs, seen, wordy, i int
	for _, r := range s {
		i++
		if r < 0x100 || r > 0xffff {
			continue
		}
		hi, lo := byte(r>>8), byte(r)
		if !printableASCII(hi) || !(printableASCII(lo) || (lo == 0 && i == n)) {
			continue
		}
		pairs++
		for _, b := range [2]byte{hi, lo} {
			if b == 0 {
				continue
			}
			seen++
			if wordByte(b) {
				wordy++
			}
		}
	}
	return float64(pairs) >= minASCIIPairShare*float64(n) &&
		float64(wordy) >= minWordByteShare*float64(seen)
}

func printableASCII(b byte) bool {
	return b >= 0x20 && b <= 0x7e
}

func wordByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case ' ', '.', ',', '!', '?', '\'', '-', ':', ';':
		return true
	}
	return false
}
