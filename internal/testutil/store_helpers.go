package testutil

import (
	"path/filepath"
	"testing"

	"github.com/wesm/imsgtext/internal/store"
)

// NewTestStore returns an initialized store in a temp directory, closed
// when the test ends.
func NewTestStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "imsgtext.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return st
}
