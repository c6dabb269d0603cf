package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/lingopal/internal/audio"
	"github.com/antoniostano/lingopal/internal/language"
	"github.com/antoniostano/lingopal/internal/speech"
)

const previewTimeout = 15 * time.Second

type listLanguagesResponse struct {
	Default   string              `json:"default"`
	Languages []language.Language `json:"languages"`
}

func (s *Server) handleListLanguages(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, listLanguagesResponse{
		Default:   s.languages.LookupOrDefault("").Locale,
		Languages: s.languages.All(),
	})
}

type listVoicesResponse struct {
	Locale       string           `json:"locale"`
	DefaultVoice string           `json:"default_voice"`
	Voices       []language.Voice `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	lang, err := s.languages.Lookup(chi.URLParam(r, "locale"))
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown_language", err.Error())
		return
	}
	res := listVoicesResponse{Locale: lang.Locale, Voices: lang.Voices}
	if v, ok := lang.DefaultVoice(); ok {
		res.DefaultVoice = v.Code
	}
	if res.Voices == nil {
		res.Voices = []language.Voice{}
	}
	respondJSON(w, http.StatusOK, res)
}

type previewVoiceRequest struct {
	VoiceCode string  `json:"voice_code"`
	Text      string  `json:"text"`
	Style     string  `json:"style"`
	Rate      float64 `json:"rate"`
}

// handlePreviewVoice speaks a sample sentence and returns it as a WAV file.
func (s *Server) handlePreviewVoice(w http.ResponseWriter, r *http.Request) {
	lang, err := s.languages.Lookup(chi.URLParam(r, "locale"))
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown_language", err.Error())
		return
	}
	var req previewVoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if s.synthesizer == nil {
		respondError(w, http.StatusServiceUnavailable, "synthesis_unavailable", "speech synthesis is not configured")
		return
	}
	voice, ok := lang.Voice(req.VoiceCode)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown_voice", "language has no voices")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), previewTimeout)
	defer cancel()
	channel, err := s.synthesizer.Open(ctx)
	if err != nil {
		s.metrics.ProviderError("synthesis", "channel_setup")
		respondError(w, http.StatusBadGateway, "synthesis_unavailable", err.Error())
		return
	}
	defer channel.Close()

	pcm, err := channel.Synthesize(ctx, speech.SynthesisRequest{
		Text:   text,
		Locale: lang.SpeechName,
		Voice:  voice.Code,
		Style:  req.Style,
		Rate:   req.Rate,
	})
	if err != nil {
		s.metrics.ProviderError("synthesis", "synthesis_chunk")
		respondError(w, http.StatusBadGateway, "synthesis_failed", err.Error())
		return
	}
	wav, err := audio.EncodeRaw(s.cfg.SynthesisSampleRate, 1, pcm)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (s *Server) handleSpeechToken(w http.ResponseWriter, r *http.Request) {
	if s.credentials == nil {
		respondError(w, http.StatusServiceUnavailable, "speech_token_unavailable", "no token-issuing speech service configured")
		return
	}
	cred, err := s.credentials.RefreshIfExpired(r.Context())
	if err != nil {
		s.metrics.ProviderError("azure", "token")
		respondError(w, http.StatusBadGateway, "speech_token_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cred)
}
