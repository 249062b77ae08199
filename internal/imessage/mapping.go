package imessage

import (
	"time"

	"github.com/wesm/imsgtext/internal/attrbody"
	"github.com/wesm/imsgtext/internal/store"
	"github.com/wesm/imsgtext/internal/textutil"
)

// appleEpoch is 2001-01-01 00:00:00 UTC, the zero of chat.db dates.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// appleTime converts a chat.db date. Since macOS 10.13 dates are
// nanoseconds; older databases store seconds. Zero means unknown.
func appleTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	if v > 1e12 || v < -1e12 {
		return appleEpoch.Add(time.Duration(v))
	}
	return appleEpoch.Add(time.Duration(v) * time.Second)
}

// isReaction reports whether associated_message_type marks a tapback
// (2000-2005 added, 3000-3005 removed, and later additions in that range).
func isReaction(associatedType int) bool {
	return associatedType >= 2000 && associatedType <= 3999
}

// toMessage maps a chat.db row to the resolver's input.
func toMessage(m chatMessage) attrbody.Message {
	var text string
	if m.Text.Valid {
		text = textutil.EnsureUTF8(m.Text.String)
	}
	return attrbody.Message{
		Text:           text,
		AttributedBody: m.AttributedBody,
		HasAttachments: m.HasAttachments,
		IsReaction:     isReaction(m.AssociatedType),
	}
}

// toMessageText builds the stored row for a resolved message.
func toMessageText(m chatMessage, r attrbody.Result) store.MessageText {
	t := store.MessageText{
		SourceMessageID: m.RowID,
		GUID:            m.GUID,
		SentAt:          appleTime(m.Date),
		IsFromMe:        m.IsFromMe,
		Text:            r.Text,
		TextSource:      r.Source.String(),
	}
	if m.Handle.Valid {
		t.Sender = textutil.EnsureUTF8(m.Handle.String)
	}
	if m.Service.Valid {
		t.Service = m.Service.String
	}
	if len(m.AttributedBody) > 0 {
		t.BodyFormat = attrbody.Detect(m.AttributedBody).String()
	}
	return t
}
