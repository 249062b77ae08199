package testutil

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// MakeSet returns the items as a membership map.
func MakeSet[T comparable](items ...T) map[T]bool {
	set := make(map[T]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// AssertEqualSlices fails t when got and want differ. A nil got equals an
// empty want.
func AssertEqualSlices[T comparable](t *testing.T, got []T, want ...T) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("slice mismatch (-want +got):\n%s", diff)
	}
}

// AssertStrings is AssertEqualSlices for strings.
func AssertStrings(t *testing.T, got []string, want ...string) {
	t.Helper()
	AssertEqualSlices(t, got, want...)
}

// AssertValidUTF8 fails t when s is not valid UTF-8.
func AssertValidUTF8(t *testing.T, s string) {
	t.Helper()
	if !utf8.ValidString(s) {
		t.Errorf("invalid UTF-8: %q", s)
	}
}

// AssertContainsAll fails t for every sub missing from got.
func AssertContainsAll(t *testing.T, got string, subs []string) {
	t.Helper()
	for _, sub := range subs {
		if !strings.Contains(got, sub) {
			t.Errorf("missing %q in:\n%s", sub, got)
		}
	}
}

// MustNoErr stops the test when err is non-nil; msg names the step.
func MustNoErr(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}
