// Package scheduler runs chat.db imports on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wesm/imsgtext/internal/config"
)

// ImportFunc is the callback invoked when a scheduled import should run.
// It receives the chat.db path and should perform an incremental import.
type ImportFunc func(ctx context.Context, chatDB string) error

// DatabaseStatus represents the import status of a scheduled chat.db.
type DatabaseStatus struct {
	ChatDB    string    `json:"chat_db"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler manages cron-based import scheduling.
type Scheduler struct {
	cron       *cron.Cron
	importFunc ImportFunc
	logger     *slog.Logger

	mu        sync.RWMutex
	jobs      map[string]cron.EntryID // chat.db -> cron entry ID
	schedules map[string]string       // chat.db -> cron expression
	running   map[string]bool         // chat.db -> currently importing
	lastRun   map[string]time.Time    // chat.db -> last successful run
	lastErr   map[string]error        // chat.db -> last error

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks running import goroutines
	started bool
	stopped bool
}

// New creates a new Scheduler with the given import callback.
func New(importFunc ImportFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithParser(newParser())),
		importFunc: importFunc,
		logger:     slog.Default(),
		jobs:       make(map[string]cron.EntryID),
		schedules:  make(map[string]string),
		running:    make(map[string]bool),
		lastRun:    make(map[string]time.Time),
		lastErr:    make(map[string]error),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// WithLogger replaces the default logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddDatabase schedules imports of chatDB using the given cron expression,
// replacing any existing schedule for it.
func (s *Scheduler) AddDatabase(chatDB, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[chatDB]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, chatDB)
		delete(s.schedules, chatDB)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running[chatDB] {
			s.mu.Unlock()
			return
		}
		s.running[chatDB] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runImport(chatDB)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[chatDB] = entryID
	s.schedules[chatDB] = cronExpr
	s.logger.Info("scheduled import",
		"chat_db", chatDB,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// AddFromConfig schedules the configured chat.db when [import] schedule is
// set. It reports whether anything was scheduled.
func (s *Scheduler) AddFromConfig(cfg *config.Config) (bool, error) {
	if cfg.Import.Schedule == "" {
		return false, nil
	}
	if err := s.AddDatabase(cfg.Data.ChatDB, cfg.Import.Schedule); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveDatabase removes the schedule for a chat.db.
func (s *Scheduler) RemoveDatabase(chatDB string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[chatDB]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, chatDB)
		delete(s.schedules, chatDB)
		s.logger.Info("removed schedule", "chat_db", chatDB)
	}
}

// Start runs the cron loop. Jobs added later are picked up as well.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// IsRunning reports whether Start was called and Stop was not.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop stops the scheduler and cancels running imports. The returned
// context is done once they have returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// runImport executes an import (called by cron or TriggerImport).
// The caller must have already called wg.Add(1) and set running[chatDB].
func (s *Scheduler) runImport(chatDB string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[chatDB] = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting scheduled import", "chat_db", chatDB)
	start := time.Now()

	err := s.importFunc(s.ctx, chatDB)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr[chatDB] = err
		s.logger.Error("scheduled import failed",
			"chat_db", chatDB,
			"duration", time.Since(start),
			"error", err)
		return
	}
	s.lastRun[chatDB] = time.Now()
	s.lastErr[chatDB] = nil
	s.logger.Info("scheduled import completed",
		"chat_db", chatDB,
		"duration", time.Since(start))
}

// IsScheduled returns true if the chat.db has been added to the scheduler.
func (s *Scheduler) IsScheduled(chatDB string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[chatDB]
	return exists
}

// TriggerImport starts an import of a scheduled chat.db outside of its
// schedule. It fails if one is already running, the database is not
// scheduled, or the scheduler has been stopped.
func (s *Scheduler) TriggerImport(chatDB string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if _, exists := s.jobs[chatDB]; !exists {
		return fmt.Errorf("%s is not scheduled", chatDB)
	}
	if s.running[chatDB] {
		return fmt.Errorf("import already running for %s", chatDB)
	}

	s.running[chatDB] = true
	s.wg.Add(1)
	go s.runImport(chatDB)
	return nil
}

// Status reports every scheduled database, ordered by path.
func (s *Scheduler) Status() []DatabaseStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]DatabaseStatus, 0, len(s.jobs))
	for chatDB, entryID := range s.jobs {
		status := DatabaseStatus{
			ChatDB:   chatDB,
			Running:  s.running[chatDB],
			LastRun:  s.lastRun[chatDB],
			NextRun:  s.cron.Entry(entryID).Next,
			Schedule: s.schedules[chatDB],
		}
		if err := s.lastErr[chatDB]; err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	slices.SortFunc(statuses, func(a, b DatabaseStatus) int { return strings.Compare(a.ChatDB, b.ChatDB) })
	return statuses
}

// ValidateCronExpr parses expr with the scheduler's five-field parser.
func ValidateCronExpr(expr string) error {
	if _, err := newParser().Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
