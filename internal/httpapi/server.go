package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/lingopal/internal/config"
	"github.com/antoniostano/lingopal/internal/history"
	"github.com/antoniostano/lingopal/internal/language"
	"github.com/antoniostano/lingopal/internal/llm"
	"github.com/antoniostano/lingopal/internal/observability"
	"github.com/antoniostano/lingopal/internal/session"
	"github.com/antoniostano/lingopal/internal/speech"
)

// Deps are the collaborators the HTTP surface is built on. Credentials may be
// nil when no token-issuing speech service is configured.
type Deps struct {
	Config      config.Config
	Sessions    *session.Manager
	Languages   *language.Catalog
	LLM         llm.Adapter
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	Credentials *speech.CredentialCache
	History     history.Store
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

type Server struct {
	cfg         config.Config
	sessions    *session.Manager
	languages   *language.Catalog
	llm         llm.Adapter
	recognizer  speech.Recognizer
	synthesizer speech.Synthesizer
	credentials *speech.CredentialCache
	history     history.Store
	metrics     *observability.Metrics
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	languages := deps.Languages
	if languages == nil {
		languages = language.Default()
	}
	cfg := deps.Config
	return &Server{
		cfg:         cfg,
		sessions:    deps.Sessions,
		languages:   languages,
		llm:         deps.LLM,
		recognizer:  deps.Recognizer,
		synthesizer: deps.Synthesizer,
		credentials: deps.Credentials,
		history:     deps.History,
		metrics:     deps.Metrics,
		logger:      logger.With(slog.String("component", "httpapi")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a learner's microphone session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/languages", s.handleListLanguages)
	r.Get("/v1/languages/{locale}/voices", s.handleListVoices)
	r.Post("/v1/languages/{locale}/voices/preview", s.handlePreviewVoice)
	r.Post("/v1/speech/token", s.handleSpeechToken)
	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/review/stats", s.handleReviewStats)
	r.Post("/v1/review/chat", s.handleReviewChat)
	r.Get("/v1/perf/stages", s.handlePerfStages)

	r.Post("/v1/session", s.handleCreateSession)
	r.Post("/v1/session/{id}/end", s.handleEndSession)
	r.Get("/v1/session/{id}/history", s.handleSessionHistory)
	r.Get("/v1/session/ws", s.handleSessionWS)
	r.Get("/v1/history", s.handleRecentHistory)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.llm == nil || s.recognizer == nil || s.synthesizer == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      "not_ready",
			"llm":         s.llm != nil,
			"recognition": s.recognizer != nil,
			"synthesis":   s.synthesizer != nil,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"speech_provider": s.cfg.SpeechProvider,
		"llm_provider":    s.cfg.LLMProvider,
		"history":         s.history != nil,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	lang, err := s.lookupLanguage(req.Language)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown_language", err.Error())
		return
	}
	req.Language = lang.Locale
	if strings.TrimSpace(req.VoiceCode) == "" {
		if v, ok := lang.DefaultVoice(); ok {
			req.VoiceCode = v.Code
		}
	}

	sess := s.sessions.Create(req)
	s.metrics.SessionStarted()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Language:        sess.Language,
		VoiceCode:       sess.VoiceCode,
		ConversationID:  sess.ConversationID,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	before, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if before.Status == session.StatusActive {
		s.metrics.SessionEnded("client")
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) lookupLanguage(locale string) (language.Language, error) {
	if strings.TrimSpace(locale) == "" {
		return s.languages.LookupOrDefault(""), nil
	}
	return s.languages.Lookup(locale)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
