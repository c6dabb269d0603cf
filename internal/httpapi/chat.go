package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/lingopal/internal/chat"
	"github.com/antoniostano/lingopal/internal/history"
	"github.com/antoniostano/lingopal/internal/llm"
	"github.com/antoniostano/lingopal/internal/voice"
)

type chatRequest struct {
	Language  string        `json:"language"`
	VoiceCode string        `json:"voice_code"`
	Level     string        `json:"level"`
	SelfIntro string        `json:"self_intro"`
	Scenario  string        `json:"scenario"`
	Messages  []chat.Record `json:"messages"`
}

// handleChat streams the partner's reply as plain text.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	lang, err := s.lookupLanguage(req.Language)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown_language", err.Error())
		return
	}
	prompt := llm.ChatPrompt{
		Language:  lang.Name,
		Level:     req.Level,
		SelfIntro: req.SelfIntro,
		Scenario:  req.Scenario,
	}
	if v, ok := lang.Voice(req.VoiceCode); ok {
		prompt.SpeakerName = v.Name
	}
	s.streamReply(w, r, prompt.Request(fromRecords(req.Messages), s.historyWindow()))
}

type reviewRequest struct {
	Language     string        `json:"language"`
	EvalLanguage string        `json:"eval_language"`
	Evaluation   string        `json:"evaluation"`
	Messages     []chat.Record `json:"messages"`
}

// handleReviewChat answers questions about an evaluation of a finished chat.
func (s *Server) handleReviewChat(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	evalLang, err := s.lookupLanguage(req.EvalLanguage)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown_language", err.Error())
		return
	}
	lang, err := s.lookupLanguage(req.Language)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown_language", err.Error())
		return
	}
	prompt := llm.ReviewPrompt{
		Language:     lang.Name,
		EvalLanguage: evalLang.Name,
		Evaluation:   req.Evaluation,
	}
	s.streamReply(w, r, prompt.Request(fromRecords(req.Messages), s.historyWindow()))
}

func (s *Server) streamReply(w http.ResponseWriter, r *http.Request, req llm.Request) {
	if s.llm == nil {
		respondError(w, http.StatusServiceUnavailable, "llm_unavailable", "language model is not configured")
		return
	}
	flusher, _ := w.(http.Flusher)
	wrote := false
	_, err := llm.Collect(r.Context(), s.llm, req, func(delta string) error {
		if !wrote {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		if _, err := w.Write([]byte(delta)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err == nil && !wrote {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		s.metrics.ProviderError("llm", "stream")
		if !wrote {
			respondError(w, http.StatusBadGateway, "llm_failed", err.Error())
			return
		}
		s.logger.Warn("chat stream interrupted", slog.String("error", err.Error()))
	}
}

type reviewStatsRequest struct {
	Language string        `json:"language"`
	Messages []chat.Record `json:"messages"`
}

func (s *Server) handleReviewStats(w http.ResponseWriter, r *http.Request) {
	var req reviewStatsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	lang, err := s.lookupLanguage(req.Language)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown_language", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, chat.Stats(fromRecords(req.Messages), lang))
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, "history_unavailable", "history store is not configured")
		return
	}
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	conv, err := s.history.LoadConversation(r.Context(), sess.ConversationID)
	if errors.Is(err, history.ErrNotFound) {
		conv = history.Conversation{ID: sess.ConversationID, UserID: sess.UserID, Language: sess.Language}
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	if conv.Records == nil {
		conv.Records = []chat.Record{}
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleRecentHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, "history_unavailable", "history store is not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter user_id is required")
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	convs, err := s.history.RecentConversations(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	if convs == nil {
		convs = []history.Conversation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) historyWindow() int {
	if s.cfg.LLMHistoryWindow > 0 {
		return s.cfg.LLMHistoryWindow
	}
	return voice.DefaultHistoryWindow
}

func fromRecords(records []chat.Record) []chat.Message {
	msgs := make([]chat.Message, 0, len(records))
	for _, rec := range records {
		msgs = append(msgs, chat.FromRecord(rec))
	}
	return msgs
}
