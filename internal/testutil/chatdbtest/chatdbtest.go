// Package chatdbtest builds minimal Messages chat.db files for tests.
package chatdbtest

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// schema is the subset of the chat.db layout the importer reads.
const schema = `
CREATE TABLE handle (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT UNIQUE,
	id TEXT NOT NULL,
	service TEXT NOT NULL DEFAULT 'iMessage'
);
CREATE TABLE message (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	guid TEXT UNIQUE NOT NULL,
	text TEXT,
	attributedBody BLOB,
	handle_id INTEGER DEFAULT 0,
	service TEXT,
	date INTEGER,
	is_from_me INTEGER DEFAULT 0,
	cache_has_attachments INTEGER DEFAULT 0,
	associated_message_type INTEGER DEFAULT 0
);
`

// Message is one row to insert. An empty Text is stored as NULL.
type Message struct {
	Text           string
	AttributedBody []byte
	Handle         string // handle.id; empty for none
	Service        string
	Date           int64
	IsFromMe       bool
	HasAttachments bool
	AssociatedType int
}

// DB is a chat.db under construction.
type DB struct {
	t       testing.TB
	db      *sql.DB
	path    string
	handles map[string]int64
	next    int
}

// New creates an empty chat.db in a temp directory. It is closed when
// the test ends.
func New(t testing.TB) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open chat.db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create chat.db schema: %v", err)
	}
	return &DB{t: t, db: db, path: path, handles: make(map[string]int64)}
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Add inserts messages in order and returns their ROWIDs.
func (d *DB) Add(msgs ...Message) []int64 {
	d.t.Helper()
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		d.next++
		var text interface{}
		if m.Text != "" {
			text = m.Text
		}
		var body interface{}
		if m.AttributedBody != nil {
			body = m.AttributedBody
		}
		service := m.Service
		if service == "" {
			service = "iMessage"
		}
		res, err := d.db.Exec(`
			INSERT INTO message (guid, text, attributedBody, handle_id, service, date,
				is_from_me, cache_has_attachments, associated_message_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, fmt.Sprintf("GUID-%04d", d.next), text, body, d.handle(m.Handle), service, m.Date,
			m.IsFromMe, m.HasAttachments, m.AssociatedType)
		if err != nil {
			d.t.Fatalf("insert message: %v", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			d.t.Fatalf("message rowid: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func (d *DB) handle(id string) int64 {
	if id == "" {
		return 0
	}
	if rowID, ok := d.handles[id]; ok {
		return rowID
	}
	res, err := d.db.Exec(`INSERT INTO handle (id) VALUES (?)`, id)
	if err != nil {
		d.t.Fatalf("insert handle: %v", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		d.t.Fatalf("handle rowid: %v", err)
	}
	d.handles[id] = rowID
	return rowID
}

// Exec runs a statement against the database, for tests that need a
// malformed layout.
func (d *DB) Exec(query string) {
	d.t.Helper()
	if _, err := d.db.Exec(query); err != nil {
		d.t.Fatalf("exec %q: %v", query, err)
	}
}
