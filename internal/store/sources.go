package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Source is a Messages database that text has been imported from.
type Source struct {
	ID         int64
	SourceType string // "imessage"
	Identifier string // path of the chat.db
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const selectSources = `SELECT id, source_type, identifier, created_at, updated_at FROM sources`

func scanSource(row rowScanner) (*Source, error) {
	src := new(Source)
	if err := row.Scan(&src.ID, &src.SourceType, &src.Identifier, &src.CreatedAt, &src.UpdatedAt); err != nil {
		return nil, err
	}
	return src, nil
}

// GetOrCreateSource returns the source with this type and identifier,
// inserting it on first use.
func (s *Store) GetOrCreateSource(sourceType, identifier string) (*Source, error) {
	src, err := scanSource(s.db.QueryRow(selectSources+` WHERE source_type = ? AND identifier = ?`,
		sourceType, identifier))
	switch {
	case err == nil:
		return src, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("get source: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(`INSERT INTO sources (source_type, identifier, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sourceType, identifier, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("source id: %w", err)
	}
	return &Source{ID: id, SourceType: sourceType, Identifier: identifier, CreatedAt: now, UpdatedAt: now}, nil
}

// ListSources returns sources ordered by identifier. An empty sourceType
// matches every source.
func (s *Store) ListSources(sourceType string) ([]*Source, error) {
	query, args := selectSources, []interface{}{}
	if sourceType != "" {
		query += ` WHERE source_type = ?`
		args = append(args, sourceType)
	}
	rows, err := s.db.Query(query+` ORDER BY identifier`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
