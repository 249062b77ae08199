package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesm/imsgtext/internal/config"
	"github.com/wesm/imsgtext/internal/testutil"
)

const testDB = "/tmp/chat.db"

// never is a valid expression that does not fire during a test.
const never = "0 0 1 1 *"

func noopImport(ctx context.Context, chatDB string) error { return nil }

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func statusOf(t *testing.T, s *Scheduler, chatDB string) DatabaseStatus {
	t.Helper()
	for _, st := range s.Status() {
		if st.ChatDB == chatDB {
			return st
		}
	}
	t.Fatalf("%s not found in status", chatDB)
	return DatabaseStatus{}
}

func TestAddDatabase(t *testing.T) {
	s := New(noopImport)

	if err := s.AddDatabase(testDB, "0 2 * * *"); err != nil {
		t.Errorf("AddDatabase() with valid cron = %v, want nil", err)
	}
	if !s.IsScheduled(testDB) {
		t.Error("database was not scheduled")
	}
	if err := s.AddDatabase("/other/chat.db", "invalid cron"); err == nil {
		t.Error("AddDatabase() with invalid cron = nil, want error")
	}
}

func TestAddDatabaseReplacesExisting(t *testing.T) {
	s := New(noopImport)

	if err := s.AddDatabase(testDB, "0 2 * * *"); err != nil {
		t.Fatalf("AddDatabase() = %v", err)
	}
	s.mu.RLock()
	firstID := s.jobs[testDB]
	s.mu.RUnlock()

	if err := s.AddDatabase(testDB, "0 3 * * *"); err != nil {
		t.Fatalf("AddDatabase() replacement = %v", err)
	}
	s.mu.RLock()
	secondID := s.jobs[testDB]
	schedule := s.schedules[testDB]
	s.mu.RUnlock()

	if firstID == secondID {
		t.Error("job ID was not updated after replacement")
	}
	if schedule != "0 3 * * *" {
		t.Errorf("schedule = %q", schedule)
	}
}

func TestRemoveDatabase(t *testing.T) {
	s := New(noopImport)
	if err := s.AddDatabase(testDB, "0 2 * * *"); err != nil {
		t.Fatalf("AddDatabase: %v", err)
	}
	s.RemoveDatabase(testDB)
	if s.IsScheduled(testDB) {
		t.Error("database still scheduled after RemoveDatabase()")
	}

	// Should not panic
	s.RemoveDatabase("/nonexistent/chat.db")
}

func TestAddFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()

	s := New(noopImport)
	added, err := s.AddFromConfig(cfg)
	if err != nil || added {
		t.Errorf("AddFromConfig() without schedule = (%v, %v), want (false, nil)", added, err)
	}

	cfg.Import.Schedule = "*/15 * * * *"
	added, err = s.AddFromConfig(cfg)
	if err != nil || !added {
		t.Fatalf("AddFromConfig() = (%v, %v), want (true, nil)", added, err)
	}
	if !s.IsScheduled(cfg.Data.ChatDB) {
		t.Errorf("%s not scheduled", cfg.Data.ChatDB)
	}

	cfg.Import.Schedule = "not a cron"
	if _, err := New(noopImport).AddFromConfig(cfg); err == nil {
		t.Error("AddFromConfig() with invalid schedule = nil error")
	}
}

func TestIsRunning(t *testing.T) {
	s := New(noopImport)
	if s.IsRunning() {
		t.Error("IsRunning() = true before Start()")
	}
	s.Start()
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	ctx := s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Stop() did not complete in time")
	}
}

func TestStopCancelsRunningImport(t *testing.T) {
	started := make(chan struct{})
	s := New(func(ctx context.Context, chatDB string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.AddDatabase(testDB, never); err != nil {
		t.Fatalf("AddDatabase: %v", err)
	}
	if err := s.TriggerImport(testDB); err != nil {
		t.Fatalf("TriggerImport: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("import did not start")
	}

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not complete after cancelling import")
	}
	if statusOf(t, s, testDB).LastError == "" {
		t.Error("expected error after cancelled import")
	}
}

func TestTriggerImportPreventsDoubleRun(t *testing.T) {
	var calls, concurrent, maxConcurrent atomic.Int32
	release := make(chan struct{})
	s := New(func(ctx context.Context, chatDB string) error {
		calls.Add(1)
		c := concurrent.Add(1)
		if c > maxConcurrent.Load() {
			maxConcurrent.Store(c)
		}
		<-release
		concurrent.Add(-1)
		return nil
	})
	if err := s.AddDatabase(testDB, never); err != nil {
		t.Fatalf("AddDatabase: %v", err)
	}

	if err := s.TriggerImport(testDB); err != nil {
		t.Fatalf("TriggerImport() = %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.TriggerImport(testDB); err == nil {
			t.Error("TriggerImport() while running = nil, want error")
		}
	}
	close(release)
	waitFor(t, "import to finish", func() bool { return !statusOf(t, s, testDB).Running })

	if calls.Load() != 1 || maxConcurrent.Load() != 1 {
		t.Errorf("calls = %d, max concurrent = %d; want 1, 1", calls.Load(), maxConcurrent.Load())
	}
}

func TestTriggerImportUnscheduled(t *testing.T) {
	s := New(noopImport)
	if err := s.TriggerImport(testDB); err == nil {
		t.Error("TriggerImport() for unscheduled database = nil, want error")
	}
}

func TestStatus(t *testing.T) {
	s := New(noopImport)
	if err := s.AddDatabase(testDB, "0 2 * * *"); err != nil {
		t.Fatalf("AddDatabase: %v", err)
	}
	if err := s.AddDatabase("/backup/chat.db", "0 3 * * *"); err != nil {
		t.Fatalf("AddDatabase: %v", err)
	}
	s.Start()
	defer s.Stop()

	var paths []string
	for _, st := range s.Status() {
		paths = append(paths, st.ChatDB)
	}
	testutil.AssertStrings(t, paths, "/backup/chat.db", testDB)
	st := statusOf(t, s, testDB)
	if st.Running {
		t.Error("status.Running = true, want false")
	}
	if st.NextRun.IsZero() {
		t.Error("status.NextRun is zero")
	}
	if st.Schedule != "0 2 * * *" {
		t.Errorf("status.Schedule = %q", st.Schedule)
	}
}

func TestStatusAfterImport(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"failure", errors.New("chat.db locked"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(func(ctx context.Context, chatDB string) error { return tt.err })
			if err := s.AddDatabase(testDB, never); err != nil {
				t.Fatalf("AddDatabase: %v", err)
			}
			if err := s.TriggerImport(testDB); err != nil {
				t.Fatalf("TriggerImport: %v", err)
			}
			waitFor(t, "import to finish", func() bool {
				st := statusOf(t, s, testDB)
				return !st.Running && (!st.LastRun.IsZero() || st.LastError != "")
			})

			st := statusOf(t, s, testDB)
			if tt.wantErr {
				if st.LastError != "chat.db locked" {
					t.Errorf("LastError = %q", st.LastError)
				}
				if !st.LastRun.IsZero() {
					t.Error("LastRun set after failed import")
				}
			} else {
				if st.LastError != "" {
					t.Errorf("LastError = %q, want empty", st.LastError)
				}
				if st.LastRun.IsZero() {
					t.Error("LastRun should be set after successful import")
				}
			}
		})
	}
}

func TestTriggerImportAfterStop(t *testing.T) {
	s := New(noopImport)
	if err := s.AddDatabase(testDB, never); err != nil {
		t.Fatalf("AddDatabase: %v", err)
	}

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop() did not complete in time")
	}

	if err := s.TriggerImport(testDB); err == nil {
		t.Error("TriggerImport() after Stop() = nil, want error")
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 2 * * *", false},    // 2am daily
		{"*/15 * * * *", false}, // Every 15 minutes
		{"0 0 * * 0", false},    // Weekly on Sunday
		{"invalid", true},
		{"* * * * * *", true}, // Too many fields
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpr(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCronExpr(%q) error = %v, wantErr = %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}
