package store

import (
	"database/sql"
	"fmt"
	"time"
)

// MessageText is the resolved text of one message from a source database.
type MessageText struct {
	SourceID        int64     `json:"source_id"`
	SourceMessageID int64     `json:"source_message_id"` // ROWID in the source chat.db
	GUID            string    `json:"guid"`
	SentAt          time.Time `json:"sent_at"` // zero when unknown
	IsFromMe        bool      `json:"is_from_me"`
	Sender          string    `json:"sender"`
	Service         string    `json:"service"`
	Text            string    `json:"text"`
	TextSource      string    `json:"text_source"` // how Text was obtained
	BodyFormat      string    `json:"body_format"` // attributedBody format, empty without one
	UpdatedAt       time.Time `json:"updated_at"`
}

// UpsertMessageTexts writes texts for a source in one transaction,
// replacing rows that already exist. SourceID on the texts is ignored.
func (s *Store) UpsertMessageTexts(sourceID int64, texts []MessageText) error {
	if len(texts) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withTx(func(tx *sql.Tx) error {
		err := insertInChunks(tx, len(texts), 11,
			`INSERT INTO message_texts (source_id, source_message_id, guid, sent_at, is_from_me,
				sender, service, text, text_source, body_format, updated_at) VALUES `,
			` ON CONFLICT(source_id, source_message_id) DO UPDATE SET
				guid = excluded.guid,
				sent_at = excluded.sent_at,
				is_from_me = excluded.is_from_me,
				sender = excluded.sender,
				service = excluded.service,
				text = excluded.text,
				text_source = excluded.text_source,
				body_format = excluded.body_format,
				updated_at = excluded.updated_at`,
			func(start, end int) ([]string, []interface{}) {
				values := make([]string, 0, end-start)
				args := make([]interface{}, 0, (end-start)*11)
				for _, t := range texts[start:end] {
					values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
					args = append(args, sourceID, t.SourceMessageID, t.GUID, nullTime(t.SentAt),
						t.IsFromMe, t.Sender, t.Service, t.Text, t.TextSource, t.BodyFormat, now)
				}
				return values, args
			})
		if err != nil {
			return fmt.Errorf("upsert message_texts: %w", err)
		}
		return nil
	})
}

// LastSourceMessageID returns the highest stored source message ID for a
// source, or 0 when nothing has been imported.
func (s *Store) LastSourceMessageID(sourceID int64) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(source_message_id) FROM message_texts WHERE source_id = ?`, sourceID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("last source message id: %w", err)
	}
	return id.Int64, nil
}

// GetMessageText returns one stored text, or nil if it does not exist.
func (s *Store) GetMessageText(sourceID, sourceMessageID int64) (*MessageText, error) {
	row := s.db.QueryRow(selectMessageTexts+`
		WHERE source_id = ? AND source_message_id = ?
	`, sourceID, sourceMessageID)
	t, err := scanMessageText(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// RecentMessageTexts returns up to limit texts, newest first by send time.
func (s *Store) RecentMessageTexts(limit int) ([]MessageText, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(selectMessageTexts+`
		ORDER BY sent_at DESC, source_message_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent message_texts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var texts []MessageText
	for rows.Next() {
		t, err := scanMessageText(rows)
		if err != nil {
			return nil, err
		}
		texts = append(texts, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message_texts: %w", err)
	}
	return texts, nil
}

const selectMessageTexts = `
	SELECT source_id, source_message_id, guid, sent_at, is_from_me,
	       sender, service, text, text_source, body_format, updated_at
	FROM message_texts`

func scanMessageText(row rowScanner) (*MessageText, error) {
	var t MessageText
	var sentAt sql.NullTime
	err := row.Scan(&t.SourceID, &t.SourceMessageID, &t.GUID, &sentAt, &t.IsFromMe,
		&t.Sender, &t.Service, &t.Text, &t.TextSource, &t.BodyFormat, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan message_text: %w", err)
	}
	if sentAt.Valid {
		t.SentAt = sentAt.Time
	}
	return &t, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
