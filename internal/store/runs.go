package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Import run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// ImportRun represents an import in progress or finished.
type ImportRun struct {
	ID                string
	SourceID          int64
	StartedAt         time.Time
	CompletedAt       sql.NullTime
	Status            string
	MessagesProcessed int64
	ErrorMessage      sql.NullString
}

// StartRun records a new running import for a source and returns its ID.
// Runs still marked running for the same source are marked failed.
func (s *Store) StartRun(sourceID int64) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	err := s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE import_runs
			SET status = ?, error_message = 'superseded by new import', completed_at = ?
			WHERE source_id = ? AND status = ?
		`, RunFailed, now, sourceID, RunRunning)
		if err != nil {
			return fmt.Errorf("mark old runs failed: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO import_runs (id, source_id, started_at, status, messages_processed)
			VALUES (?, ?, ?, ?, 0)
		`, id, sourceID, now, RunRunning)
		if err != nil {
			return fmt.Errorf("insert import_run: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateRunProgress saves the number of messages processed so far.
func (s *Store) UpdateRunProgress(runID string, processed int64) error {
	_, err := s.db.Exec(`UPDATE import_runs SET messages_processed = ? WHERE id = ?`, processed, runID)
	return err
}

// CompleteRun marks a run as successfully completed.
func (s *Store) CompleteRun(runID string, processed int64) error {
	_, err := s.db.Exec(`
		UPDATE import_runs
		SET status = ?, completed_at = ?, messages_processed = ?
		WHERE id = ?
	`, RunCompleted, time.Now().UTC(), processed, runID)
	return err
}

// FailRun marks a run as failed with an error message.
func (s *Store) FailRun(runID, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE import_runs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`, RunFailed, time.Now().UTC(), errMsg, runID)
	return err
}

// GetRun returns a run by ID, or nil if it does not exist.
func (s *Store) GetRun(runID string) (*ImportRun, error) {
	row := s.db.QueryRow(`
		SELECT id, source_id, started_at, completed_at, status, messages_processed, error_message
		FROM import_runs
		WHERE id = ?
	`, runID)
	return scanRun(row)
}

// LastRun returns the most recent run for a source, or nil if none exists.
func (s *Store) LastRun(sourceID int64) (*ImportRun, error) {
	row := s.db.QueryRow(`
		SELECT id, source_id, started_at, completed_at, status, messages_processed, error_message
		FROM import_runs
		WHERE source_id = ?
		ORDER BY started_at DESC
		LIMIT 1
	`, sourceID)
	return scanRun(row)
}

func scanRun(row rowScanner) (*ImportRun, error) {
	var run ImportRun
	err := row.Scan(
		&run.ID, &run.SourceID, &run.StartedAt, &run.CompletedAt,
		&run.Status, &run.MessagesProcessed, &run.ErrorMessage,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan import_run: %w", err)
	}
	return &run, nil
}
