// Package store provides database access for resolved message text.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/wesm/imsgtext/internal/fileutil"
)

//go:embed schema.sql
var schemaFS embed.FS

// Store is the imsgtext database of resolved message text.
type Store struct {
	db     *sql.DB
	dbPath string
}

// WAL lets the API read while an import writes.
const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// isSQLiteError reports whether err wraps a go-sqlite3 error whose message
// contains substr. The driver returns both sqlite3.Error and *sqlite3.Error.
func isSQLiteError(err error, substr string) bool {
	var val sqlite3.Error
	var ptr *sqlite3.Error
	switch {
	case errors.As(err, &val):
		return strings.Contains(val.Error(), substr)
	case errors.As(err, &ptr) && ptr != nil:
		return strings.Contains(ptr.Error(), substr)
	}
	return false
}

// Open opens the database at dbPath, creating it and its directory with
// owner-only permissions when missing.
func Open(dbPath string) (*Store, error) {
	if err := fileutil.SecureMkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := fileutil.SecureChmod(dbPath, 0o600); err != nil && !os.IsNotExist(err) {
		_ = db.Close()
		return nil, fmt.Errorf("restrict database permissions: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the connection for queries the Store does not wrap.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Path() string { return s.dbPath }

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// maxBoundParams stays below SQLite's default limit of 999 host parameters.
const maxBoundParams = 900

// insertInChunks splits a multi-row INSERT so no statement binds more than
// maxBoundParams values. build returns the VALUES tuples and arguments for
// rows [start, end); suffix follows every chunk.
func insertInChunks(tx *sql.Tx, rows, perRow int, prefix, suffix string, build func(start, end int) ([]string, []interface{})) error {
	step := max(maxBoundParams/perRow, 1)
	for start := 0; start < rows; start += step {
		tuples, args := build(start, min(start+step, rows))
		if _, err := tx.Exec(prefix+strings.Join(tuples, ",")+suffix, args...); err != nil {
			return err
		}
	}
	return nil
}

// InitSchema applies the embedded schema. It is safe to call repeatedly.
func (s *Store) InitSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema.sql: %w", err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("execute schema.sql: %w", err)
	}
	return nil
}

// Stats summarizes the stored text.
type Stats struct {
	SourceCount  int64            `json:"sources"`
	MessageCount int64            `json:"messages"`
	RunCount     int64            `json:"import_runs"`
	BySource     map[string]int64 `json:"by_source"` // text_source -> rows
	DatabaseSize int64            `json:"database_size"`
}

// GetStats counts sources, texts and runs. A database without the schema
// reports zeros rather than failing.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{BySource: make(map[string]int64)}

	counts := map[string]*int64{
		"sources":       &stats.SourceCount,
		"message_texts": &stats.MessageCount,
		"import_runs":   &stats.RunCount,
	}
	for table, dest := range counts {
		err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(dest)
		if err != nil && !isSQLiteError(err, "no such table") {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
	}

	rows, err := s.db.Query(`
		SELECT text_source, COUNT(*)
		FROM message_texts
		GROUP BY text_source
	`)
	if err != nil {
		if isSQLiteError(err, "no such table") {
			return stats, nil
		}
		return nil, fmt.Errorf("count by source: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var tag string
		var n int64
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		stats.BySource[tag] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source counts: %w", err)
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}
