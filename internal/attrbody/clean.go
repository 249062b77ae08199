package attrbody

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Errors returned by Clean. Each one means the candidate must not be shown.
var (
	ErrEmpty             = errors.New("attrbody: empty after cleaning")
	ErrInvalidRunes      = errors.New("attrbody: too many invalid runes")
	ErrImplausibleScript = errors.New("attrbody: implausible script mix")
)

// objectReplacement marks inline attachments inside an attributed string.
const objectReplacement = "\ufffc"

// Policy tunes the garbage check applied to extracted text. The defaults
// come from decoded fixtures, not from a measured corpus.
type Policy struct {
	// ExpectedScripts names the Unicode scripts (as in unicode.Scripts)
	// letters are expected in. Common and Inherited are always accepted.
	// The Resolver only judges the script mix of candidates whose bytes
	// show a wrong decode; correctly decoded text in any script passes.
	// An empty list disables the script check.
	ExpectedScripts []string

	// MaxForeignRatio is the largest accepted share of letters outside
	// ExpectedScripts.
	MaxForeignRatio float64

	// MaxInvalidRatio is the largest accepted share of non-space runes that
	// are U+FFFD, private use, unassigned or otherwise not printable.
	MaxInvalidRatio float64

	// MinLetters is how many letters a string needs before its script mix
	// is judged. Shorter strings pass the script check.
	MinLetters int
}

// DefaultPolicy returns the policy used by Resolve.
func DefaultPolicy() Policy {
	return Policy{
		ExpectedScripts: []string{"Latin"},
		MaxForeignRatio: 0.5,
		MaxInvalidRatio: 0.2,
		MinLetters:      1,
	}
}

// Validate checks script names and ranges.
func (p Policy) Validate() error {
	for _, name := range p.ExpectedScripts {
		if _, ok := unicode.Scripts[name]; !ok {
			return fmt.Errorf("attrbody: unknown script %q", name)
		}
	}
	if p.MaxForeignRatio < 0 || p.MaxForeignRatio > 1 {
		return fmt.Errorf("attrbody: max foreign ratio %v outside [0,1]", p.MaxForeignRatio)
	}
	if p.MaxInvalidRatio < 0 || p.MaxInvalidRatio > 1 {
		return fmt.Errorf("attrbody: max invalid ratio %v outside [0,1]", p.MaxInvalidRatio)
	}
	if p.MinLetters < 0 {
		return fmt.Errorf("attrbody: min letters %d is negative", p.MinLetters)
	}
	return nil
}

// Fingerprint returns a stable identifier for the policy. Two policies
// with the same fingerprint clean every string identically.
func (p Policy) Fingerprint() string {
	scripts := append([]string(nil), p.ExpectedScripts...)
	sort.Strings(scripts)
	return fmt.Sprintf("v2;scripts=%s;foreign=%g;invalid=%g;letters=%d",
		strings.Join(scripts, ","), p.MaxForeignRatio, p.MaxInvalidRatio, p.MinLetters)
}

// checker is a validated policy with its script tables looked up.
type checker struct {
	policy  Policy
	scripts []*unicode.RangeTable
}

func newChecker(p Policy) (*checker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c := &checker{policy: p}
	for _, name := range p.ExpectedScripts {
		c.scripts = append(c.scripts, unicode.Scripts[name])
	}
	return c, nil
}

// Clean normalizes s and vets it under p. It returns ErrEmpty,
// ErrInvalidRunes or ErrImplausibleScript (wrapped with detail) when the
// string should not be shown, or a validation error for a bad policy.
// s is treated as text of unknown provenance, so the script check always
// applies.
func Clean(s string, p Policy) (string, error) {
	c, err := newChecker(p)
	if err != nil {
		return "", err
	}
	return c.clean(s, true)
}

// clean normalizes and vets s. The script mix is judged only when
// misread is set.
func (c *checker) clean(s string, misread bool) (string, error) {
	s = normalize(s)
	if s == "" {
		return "", ErrEmpty
	}
	if err := c.check(s, misread); err != nil {
		return "", err
	}
	return s, nil
}

// blankRune maps control characters and space separators to a space and
// line breaks to a newline.
func blankRune(r rune) rune {
	switch {
	case r == '\n':
		return r
	case r == '\r':
		return '\n'
	case r < 0x20, r >= 0x7f && r <= 0x9f, unicode.Is(unicode.Zs, r):
		return ' '
	}
	return r
}

// normalize applies NFC, drops attachment markers, turns control
// characters into spaces, collapses space runs, trims every line and
// keeps at most one blank line in a row.
func normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, objectReplacement, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(blankRune, s)

	var sb strings.Builder
	sb.Grow(len(s))
	blanks := 0
	for i, line := range strings.Split(s, "\n") {
		line = collapseSpaces(strings.Trim(line, " "))
		if line == "" {
			blanks++
		} else {
			blanks = 0
		}
		if blanks > 1 {
			continue
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
	return strings.TrimSpace(sb.String())
}

// collapseSpaces replaces every run of spaces in s with one space.
func collapseSpaces(s string) string {
	if !strings.Contains(s, "  ") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	prev := rune(0)
	for _, r := range s {
		if r == ' ' && prev == ' ' {
			continue
		}
		sb.WriteRune(r)
		prev = r
	}
	return sb.String()
}

func (c *checker) check(s string, misread bool) error {
	var total, invalid, letters, foreign int
	for _, r := range s {
		if r == ' ' || r == '\n' {
			continue
		}
		total++
		if invalidRune(r) {
			invalid++
			continue
		}
		if unicode.IsLetter(r) {
			letters++
			if !c.expected(r) {
				foreign++
			}
		}
	}

	if total > 0 && float64(invalid)/float64(total) > c.policy.MaxInvalidRatio {
		return fmt.Errorf("%w: %d of %d", ErrInvalidRunes, invalid, total)
	}
	if !misread || len(c.scripts) == 0 || letters == 0 || letters < c.policy.MinLetters {
		return nil
	}
	if float64(foreign)/float64(letters) > c.policy.MaxForeignRatio {
		return fmt.Errorf("%w: %d of %d letters outside %s",
			ErrImplausibleScript, foreign, letters, strings.Join(c.policy.ExpectedScripts, ","))
	}
	return nil
}

func (c *checker) expected(r rune) bool {
	if unicode.In(r, unicode.Common, unicode.Inherited) {
		return true
	}
	for _, t := range c.scripts {
		if unicode.Is(t, r) {
			return true
		}
	}
	return false
}

// invalidRune reports runes that never appear in real message text:
// replacement characters, private use and anything not printable. Format
// characters such as the zero-width joiner in emoji sequences are fine.
func invalidRune(r rune) bool {
	switch {
	case r == unicode.ReplacementChar:
		return true
	case unicode.Is(unicode.Co, r):
		return true
	case unicode.Is(unicode.Cf, r):
		return false
	}
	return !unicode.IsGraphic(r)
}
