package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
)

// openChatDB opens a chat.db read-only.
// A file: URI keeps paths containing '?' or '#' intact.
func openChatDB(path string) (*sql.DB, error) {
	dsn := (&url.URL{
		Scheme:   "file",
		OmitHost: true,
		Path:     path,
		RawQuery: "mode=ro&_busy_timeout=5000",
	}).String()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open chat.db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open chat.db: %w", err)
	}
	return db, nil
}

// requiredColumns are the message columns the importer reads.
var requiredColumns = []string{
	"ROWID", "guid", "text", "attributedBody", "handle_id", "service", "date",
	"is_from_me", "cache_has_attachments", "associated_message_type",
}

// verifyChatDB checks that db looks like a Messages chat.db.
func verifyChatDB(db *sql.DB) error {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name IN ('message', 'handle')
	`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check chat.db: %w", err)
	}
	if count != 2 {
		return fmt.Errorf("not a valid Messages database: 'message' or 'handle' table not found")
	}

	rows, err := db.Query(`SELECT name FROM pragma_table_info('message')`)
	if err != nil {
		return fmt.Errorf("check chat.db columns: %w", err)
	}
	defer rows.Close()
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		have[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("check chat.db columns: %w", err)
	}
	// ROWID is implicit and never listed by table_info.
	var missing []string
	for _, col := range requiredColumns[1:] {
		if !have[strings.ToLower(col)] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("not a valid Messages database: message table lacks %s", strings.Join(missing, ", "))
	}
	return nil
}

// fetchMessages returns up to limit messages with ROWID above afterRowID,
// in ROWID order.
func fetchMessages(ctx context.Context, db *sql.DB, afterRowID int64, limit int) ([]chatMessage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			m.ROWID,
			COALESCE(m.guid, ''),
			m.text,
			m.attributedBody,
			COALESCE(m.cache_has_attachments, 0),
			COALESCE(m.associated_message_type, 0),
			COALESCE(m.date, 0),
			COALESCE(m.is_from_me, 0),
			m.service,
			h.id
		FROM message m
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		WHERE m.ROWID > ?
		ORDER BY m.ROWID ASC
		LIMIT ?
	`, afterRowID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []chatMessage
	for rows.Next() {
		var m chatMessage
		if err := rows.Scan(
			&m.RowID, &m.GUID, &m.Text, &m.AttributedBody,
			&m.HasAttachments, &m.AssociatedType, &m.Date, &m.IsFromMe,
			&m.Service, &m.Handle,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
