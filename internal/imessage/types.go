// Package imessage imports message text from a macOS Messages chat.db.
// Each row is resolved with attrbody and the result is written to the
// imsgtext store.
package imessage

import (
	"database/sql"
	"log/slog"
	"runtime"
	"time"

	"github.com/wesm/imsgtext/internal/attrbody"
)

// chatMessage is one row of the chat.db message table joined with handle.
type chatMessage struct {
	RowID          int64          // message.ROWID
	GUID           string         // message.guid
	Text           sql.NullString // message.text
	AttributedBody []byte         // message.attributedBody
	HasAttachments bool           // message.cache_has_attachments
	AssociatedType int            // message.associated_message_type (2000-3999 = tapback)
	Date           int64          // message.date, Apple epoch in s or ns
	IsFromMe       bool           // message.is_from_me
	Service        sql.NullString // message.service (iMessage, SMS)
	Handle         sql.NullString // handle.id of the other party
}

// ImportOptions configures an import.
type ImportOptions struct {
	// Workers bounds concurrent resolution within a batch (default: NumCPU).
	Workers int

	// BatchSize is the number of rows read and written per batch (default: 1000).
	BatchSize int

	// Limit stops the import after this many rows (0 = no limit).
	Limit int

	// Full re-imports from the first row instead of resuming after the
	// highest row already stored.
	Full bool
}

// DefaultOptions returns ImportOptions with sensible defaults.
func DefaultOptions() ImportOptions {
	return ImportOptions{
		Workers:   runtime.NumCPU(),
		BatchSize: 1000,
	}
}

// ImportSummary holds statistics from a completed import.
type ImportSummary struct {
	RunID             string
	Duration          time.Duration
	StartRowID        int64 // rows after this one were read
	LastRowID         int64
	MessagesProcessed int64
	CacheHits         int64
	BySource          map[attrbody.Source]int64
}

func newSummary() *ImportSummary {
	return &ImportSummary{BySource: make(map[attrbody.Source]int64)}
}

// Fallbacks returns the number of rows resolved to a placeholder.
func (s *ImportSummary) Fallbacks() int64 {
	var n int64
	for src, count := range s.BySource {
		if src.IsFallback() {
			n += count
		}
	}
	return n
}

// LogAttrs returns the summary as slog attributes.
func (s *ImportSummary) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("run_id", s.RunID),
		slog.Duration("duration", s.Duration),
		slog.Int64("processed", s.MessagesProcessed),
		slog.Int64("last_row_id", s.LastRowID),
		slog.Int64("cache_hits", s.CacheHits),
	}
	for _, src := range attrbody.Sources() {
		if n := s.BySource[src]; n > 0 {
			attrs = append(attrs, slog.Int64(src.String(), n))
		}
	}
	return attrs
}

// ImportProgress provides callbacks for import progress reporting.
// OnError may be called from several goroutines at once.
type ImportProgress interface {
	OnStart(startRowID int64)
	OnProgress(processed int64, lastRowID int64)
	OnComplete(summary *ImportSummary)
	OnError(err error)
}

// NullProgress is a no-op implementation of ImportProgress.
type NullProgress struct{}

func (NullProgress) OnStart(int64)              {}
func (NullProgress) OnProgress(int64, int64)    {}
func (NullProgress) OnComplete(*ImportSummary) {}
func (NullProgress) OnError(error)              {}
