// Package storetest provides a Fixture and helpers for tests that
// exercise the Store layer through its public API.
package storetest

import (
	"fmt"
	"testing"
	"time"

	"github.com/wesm/imsgtext/internal/store"
	"github.com/wesm/imsgtext/internal/testutil"
)

// Fixture holds common test state for store-level tests.
type Fixture struct {
	T      *testing.T
	Store  *store.Store
	Source *store.Source
	nextID int64
}

// New creates a Fixture with a fresh test database and one iMessage
// source ("/tmp/chat.db").
func New(t *testing.T) *Fixture {
	t.Helper()
	st := testutil.NewTestStore(t)
	source, err := st.GetOrCreateSource("imessage", "/tmp/chat.db")
	testutil.MustNoErr(t, err, "setup: GetOrCreateSource")
	return &Fixture{T: t, Store: st, Source: source}
}

// Text returns a MessageText with the next source message ID, sent one
// minute after the previous one.
func (f *Fixture) Text(text, textSource string) store.MessageText {
	f.nextID++
	return store.MessageText{
		SourceMessageID: f.nextID,
		GUID:            fmt.Sprintf("guid-%d", f.nextID),
		SentAt:          time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(f.nextID) * time.Minute),
		Sender:          "+15555550100",
		Service:         "iMessage",
		Text:            text,
		TextSource:      textSource,
	}
}

// Insert upserts texts into the fixture's source.
func (f *Fixture) Insert(texts ...store.MessageText) {
	f.T.Helper()
	testutil.MustNoErr(f.T, f.Store.UpsertMessageTexts(f.Source.ID, texts), "UpsertMessageTexts")
}

// AssertCount asserts the number of stored texts for the fixture's source.
func (f *Fixture) AssertCount(want int) {
	f.T.Helper()
	var count int
	err := f.Store.DB().QueryRow(
		"SELECT COUNT(*) FROM message_texts WHERE source_id = ?", f.Source.ID,
	).Scan(&count)
	testutil.MustNoErr(f.T, err, "count message_texts")
	if count != want {
		f.T.Errorf("message_texts count = %d, want %d", count, want)
	}
}

// RunStatus returns the status and error message of an import run.
func (f *Fixture) RunStatus(runID string) (status, errMsg string) {
	f.T.Helper()
	run, err := f.Store.GetRun(runID)
	testutil.MustNoErr(f.T, err, "GetRun")
	if run == nil {
		f.T.Fatalf("import run %s not found", runID)
	}
	return run.Status, run.ErrorMessage.String
}
