package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/wesm/imsgtext/internal/attrbody"
	"github.com/wesm/imsgtext/internal/store"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ResolveRequest carries one message. AttributedBody is base64 in JSON.
type ResolveRequest struct {
	Text           string `json:"text"`
	AttributedBody []byte `json:"attributed_body"`
	HasAttachments bool   `json:"has_attachments"`
	IsReaction     bool   `json:"is_reaction"`
	Explain        bool   `json:"explain"`
}

func (req ResolveRequest) message() attrbody.Message {
	return attrbody.Message{
		Text:           req.Text,
		AttributedBody: req.AttributedBody,
		HasAttachments: req.HasAttachments,
		IsReaction:     req.IsReaction,
	}
}

// ResolveResponse is the resolved text of a message.
type ResolveResponse struct {
	Text   string          `json:"text"`
	Source attrbody.Source `json:"source"`
	Format attrbody.Format `json:"format"`
	Steps  []StepInfo      `json:"steps,omitempty"`
}

// StepInfo describes one resolution tier when explain is requested.
type StepInfo struct {
	Tier      string          `json:"tier"`
	Format    attrbody.Format `json:"format,omitempty"`
	Candidate string          `json:"candidate,omitempty"`
	Misread   bool            `json:"misread,omitempty"`
	Accepted  bool            `json:"accepted"`
	Reason    string          `json:"reason,omitempty"`
}

// DetectResponse reports the format of an attributedBody payload.
type DetectResponse struct {
	Format attrbody.Format `json:"format"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// decodeRequest reads a ResolveRequest bounded by max_body_bytes. It
// writes the error response itself and reports whether decoding worked.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (ResolveRequest, bool) {
	var req ResolveRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large",
				"Request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return req, false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body: "+err.Error())
		return req, false
	}
	return req, true
}

// handleResolve resolves one message to display text.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	resp := ResolveResponse{Format: attrbody.Detect(req.AttributedBody)}
	if !req.Explain {
		result := s.resolver.Resolve(req.message())
		resp.Text, resp.Source = result.Text, result.Source
		writeJSON(w, http.StatusOK, resp)
		return
	}

	result, steps := s.resolver.Explain(req.message())
	resp.Text, resp.Source = result.Text, result.Source
	resp.Steps = make([]StepInfo, len(steps))
	for i, st := range steps {
		resp.Steps[i] = StepInfo{
			Tier:      st.Tier.String(),
			Format:    st.Format,
			Candidate: st.Candidate,
			Misread:   st.Misread,
			Accepted:  st.Accepted,
			Reason:    st.Reason,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDetect reports the payload format without resolving.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, DetectResponse{Format: attrbody.Detect(req.AttributedBody)})
}

// handleStats returns store statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no_store", "No database is open")
		return
	}
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

// RecentTextsResponse lists the newest stored texts.
type RecentTextsResponse struct {
	Texts []store.MessageText `json:"texts"`
}

// handleRecentTexts returns the newest stored texts.
func (s *Server) handleRecentTexts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no_store", "No database is open")
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	texts, err := s.store.RecentMessageTexts(limit)
	if err != nil {
		s.logger.Error("failed to list recent texts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve texts")
		return
	}
	if texts == nil {
		texts = []store.MessageText{}
	}
	writeJSON(w, http.StatusOK, RecentTextsResponse{Texts: texts})
}

// ImportStatusResponse represents scheduler status.
type ImportStatusResponse struct {
	Running   bool             `json:"running"`
	Databases []DatabaseStatus `json:"databases"`
}

// handleImportStatus returns the import scheduler status.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, ImportStatusResponse{Databases: []DatabaseStatus{}})
		return
	}
	statuses := s.scheduler.Status()
	if statuses == nil {
		statuses = []DatabaseStatus{}
	}
	writeJSON(w, http.StatusOK, ImportStatusResponse{
		Running:   s.scheduler.IsRunning(),
		Databases: statuses,
	})
}

// handleTriggerImport starts an import of a scheduled chat.db, the
// configured one unless ?chat_db= names another.
func (s *Server) handleTriggerImport(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "no_scheduler", "Imports are not scheduled; set [import] schedule in config.toml")
		return
	}
	chatDB := r.URL.Query().Get("chat_db")
	if chatDB == "" {
		chatDB = s.cfg.Data.ChatDB
	}
	if !s.scheduler.IsScheduled(chatDB) {
		writeError(w, http.StatusNotFound, "not_scheduled", "No import is scheduled for "+chatDB)
		return
	}

	if err := s.scheduler.TriggerImport(chatDB); err != nil {
		s.logger.Error("failed to trigger import", "chat_db", chatDB, "error", err)
		writeError(w, http.StatusConflict, "import_error", err.Error())
		return
	}

	s.logger.Info("import triggered via API", "chat_db", chatDB)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Import started for " + chatDB,
	})
}
