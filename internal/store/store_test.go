package store_test

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/wesm/imsgtext/internal/store"
	"github.com/wesm/imsgtext/internal/testutil"
	"github.com/wesm/imsgtext/internal/testutil/storetest"
)

func TestOpen_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "imsgtext.db")
	st, err := store.Open(dbPath)
	testutil.MustNoErr(t, err, "Open")
	defer st.Close()
	testutil.MustNoErr(t, st.InitSchema(), "InitSchema")
	testutil.MustNoErr(t, st.InitSchema(), "InitSchema twice")
	if st.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", st.Path(), dbPath)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(dbPath)
		testutil.MustNoErr(t, err, "Stat")
		if perm := info.Mode().Perm(); perm&^0o600 != 0 {
			t.Errorf("database perm = %04o, want owner-only", perm)
		}
	}
}

func TestGetOrCreateSource(t *testing.T) {
	st := testutil.NewTestStore(t)

	a, err := st.GetOrCreateSource("imessage", "/Users/me/Library/Messages/chat.db")
	testutil.MustNoErr(t, err, "GetOrCreateSource")
	b, err := st.GetOrCreateSource("imessage", "/Users/me/Library/Messages/chat.db")
	testutil.MustNoErr(t, err, "GetOrCreateSource again")
	if a.ID == 0 || a.ID != b.ID {
		t.Errorf("source IDs = %d, %d; want equal and non-zero", a.ID, b.ID)
	}

	c, err := st.GetOrCreateSource("imessage", "/backup/chat.db")
	testutil.MustNoErr(t, err, "GetOrCreateSource other")
	if c.ID == a.ID {
		t.Error("different identifiers share a source")
	}

	sources, err := st.ListSources("imessage")
	testutil.MustNoErr(t, err, "ListSources")
	var ids []string
	for _, s := range sources {
		ids = append(ids, s.Identifier)
	}
	testutil.AssertStrings(t, ids, "/Users/me/Library/Messages/chat.db", "/backup/chat.db")

	none, err := st.ListSources("other")
	testutil.MustNoErr(t, err, "ListSources other")
	if len(none) != 0 {
		t.Errorf("ListSources(other) = %v", none)
	}
}

func TestUpsertMessageTexts(t *testing.T) {
	f := storetest.New(t)
	first := f.Text("hello", "plain_text")
	second := f.Text("[Attachment]", "attachment_fallback")
	second.IsFromMe = true
	second.BodyFormat = "binary_plist"
	f.Insert(first, second)
	f.AssertCount(2)

	got, err := f.Store.GetMessageText(f.Source.ID, second.SourceMessageID)
	testutil.MustNoErr(t, err, "GetMessageText")
	want := second
	want.SourceID = f.Source.ID
	opts := cmpopts.IgnoreFields(store.MessageText{}, "UpdatedAt")
	if diff := cmp.Diff(want, *got, opts, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("GetMessageText mismatch (-want +got):\n%s", diff)
	}

	// Re-importing replaces the row.
	first.Text = "hello again"
	first.TextSource = "typedstream"
	f.Insert(first)
	f.AssertCount(2)
	got, err = f.Store.GetMessageText(f.Source.ID, first.SourceMessageID)
	testutil.MustNoErr(t, err, "GetMessageText after update")
	if got.Text != "hello again" || got.TextSource != "typedstream" {
		t.Errorf("after update = %+v", got)
	}

	missing, err := f.Store.GetMessageText(f.Source.ID, 999)
	testutil.MustNoErr(t, err, "GetMessageText missing")
	if missing != nil {
		t.Errorf("GetMessageText(999) = %+v, want nil", missing)
	}
}

func TestUpsertMessageTexts_ManyChunks(t *testing.T) {
	f := storetest.New(t)
	var texts []store.MessageText
	for i := 0; i < 500; i++ {
		texts = append(texts, f.Text(fmt.Sprintf("message %d", i), "plain_text"))
	}
	f.Insert(texts...)
	f.AssertCount(500)

	last, err := f.Store.LastSourceMessageID(f.Source.ID)
	testutil.MustNoErr(t, err, "LastSourceMessageID")
	if last != 500 {
		t.Errorf("LastSourceMessageID = %d, want 500", last)
	}
}

func TestUpsertMessageTexts_Empty(t *testing.T) {
	f := storetest.New(t)
	testutil.MustNoErr(t, f.Store.UpsertMessageTexts(f.Source.ID, nil), "UpsertMessageTexts(nil)")
	f.AssertCount(0)
}

func TestUpsertMessageTexts_UnknownSource(t *testing.T) {
	st := testutil.NewTestStore(t)
	err := st.UpsertMessageTexts(42, []store.MessageText{{SourceMessageID: 1, Text: "x", TextSource: "plain_text"}})
	if err == nil {
		t.Fatal("expected foreign key error for unknown source")
	}
}

func TestLastSourceMessageID_Empty(t *testing.T) {
	f := storetest.New(t)
	last, err := f.Store.LastSourceMessageID(f.Source.ID)
	testutil.MustNoErr(t, err, "LastSourceMessageID")
	if last != 0 {
		t.Errorf("LastSourceMessageID = %d, want 0", last)
	}
}

func TestRecentMessageTexts(t *testing.T) {
	f := storetest.New(t)
	f.Insert(f.Text("oldest", "plain_text"), f.Text("middle", "typedstream"), f.Text("newest", "binary_plist"))

	recent, err := f.Store.RecentMessageTexts(2)
	testutil.MustNoErr(t, err, "RecentMessageTexts")
	var texts []string
	for _, r := range recent {
		texts = append(texts, r.Text)
	}
	testutil.AssertStrings(t, texts, "newest", "middle")

	none, err := f.Store.RecentMessageTexts(0)
	testutil.MustNoErr(t, err, "RecentMessageTexts(0)")
	if len(none) != 0 {
		t.Errorf("RecentMessageTexts(0) = %v", none)
	}
}

func TestImportRuns(t *testing.T) {
	f := storetest.New(t)

	runID, err := f.Store.StartRun(f.Source.ID)
	testutil.MustNoErr(t, err, "StartRun")
	if runID == "" {
		t.Fatal("empty run ID")
	}
	if status, _ := f.RunStatus(runID); status != store.RunRunning {
		t.Errorf("status = %q, want running", status)
	}

	testutil.MustNoErr(t, f.Store.UpdateRunProgress(runID, 10), "UpdateRunProgress")
	testutil.MustNoErr(t, f.Store.CompleteRun(runID, 25), "CompleteRun")
	run, err := f.Store.GetRun(runID)
	testutil.MustNoErr(t, err, "GetRun")
	if run.Status != store.RunCompleted || run.MessagesProcessed != 25 || !run.CompletedAt.Valid {
		t.Errorf("completed run = %+v", run)
	}

	failID, err := f.Store.StartRun(f.Source.ID)
	testutil.MustNoErr(t, err, "StartRun second")
	testutil.MustNoErr(t, f.Store.FailRun(failID, "chat.db locked"), "FailRun")
	status, msg := f.RunStatus(failID)
	if status != store.RunFailed || msg != "chat.db locked" {
		t.Errorf("failed run = (%q, %q)", status, msg)
	}

	last, err := f.Store.LastRun(f.Source.ID)
	testutil.MustNoErr(t, err, "LastRun")
	if last == nil || last.ID != failID {
		t.Errorf("LastRun = %+v, want %s", last, failID)
	}

	missing, err := f.Store.GetRun("no-such-run")
	testutil.MustNoErr(t, err, "GetRun missing")
	if missing != nil {
		t.Errorf("GetRun(missing) = %+v", missing)
	}
}

func TestStartRun_SupersedesRunning(t *testing.T) {
	f := storetest.New(t)
	stale, err := f.Store.StartRun(f.Source.ID)
	testutil.MustNoErr(t, err, "StartRun stale")
	fresh, err := f.Store.StartRun(f.Source.ID)
	testutil.MustNoErr(t, err, "StartRun fresh")

	status, msg := f.RunStatus(stale)
	if status != store.RunFailed || msg == "" {
		t.Errorf("stale run = (%q, %q), want failed with message", status, msg)
	}
	if status, _ := f.RunStatus(fresh); status != store.RunRunning {
		t.Errorf("fresh run status = %q", status)
	}
}

func TestGetStats(t *testing.T) {
	f := storetest.New(t)
	f.Insert(
		f.Text("a", "plain_text"),
		f.Text("b", "plain_text"),
		f.Text("c", "typedstream"),
		f.Text("[Unable to parse message]", "unparseable_fallback"),
	)
	_, err := f.Store.StartRun(f.Source.ID)
	testutil.MustNoErr(t, err, "StartRun")

	stats, err := f.Store.GetStats()
	testutil.MustNoErr(t, err, "GetStats")
	if stats.SourceCount != 1 || stats.MessageCount != 4 || stats.RunCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
	want := map[string]int64{"plain_text": 2, "typedstream": 1, "unparseable_fallback": 1}
	if diff := cmp.Diff(want, stats.BySource); diff != "" {
		t.Errorf("BySource mismatch (-want +got):\n%s", diff)
	}
	if stats.DatabaseSize <= 0 {
		t.Errorf("DatabaseSize = %d", stats.DatabaseSize)
	}
}
