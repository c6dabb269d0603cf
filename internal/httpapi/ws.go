package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/lingopal/internal/chat"
	"github.com/antoniostano/lingopal/internal/history"
	"github.com/antoniostano/lingopal/internal/llm"
	"github.com/antoniostano/lingopal/internal/protocol"
	"github.com/antoniostano/lingopal/internal/session"
	"github.com/antoniostano/lingopal/internal/voice"
)

const (
	defaultCaptureSampleRate = 16000
	closeTimeout             = 5 * time.Second
	historyTimeout           = 5 * time.Second
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.llm == nil || s.recognizer == nil || s.synthesizer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "speech or language model not configured")
		return
	}
	sampleRate := defaultCaptureSampleRate
	if raw := strings.TrimSpace(r.URL.Query().Get("sample_rate")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 8000 || n > 96000 {
			respondError(w, http.StatusBadRequest, "invalid_sample_rate", "sample_rate must be between 8000 and 96000")
			return
		}
		sampleRate = n
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "session has ended")
		return
	}
	lang, err := s.lookupLanguage(sess.Language)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown_language", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvent("ws_connected")
	logger := s.logger.With(slog.String("session_id", sess.ID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.SessionEvent("ws_write_error")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessage("outbound", string(t))
				}
			}
		}
	}()

	capture := newRemoteCapture(sampleRate)
	player := newSocketPlayer(sess.ID, s.cfg.PlaybackAckGrace, send)
	bridge := newPracticeBridge(sess.ID, send)
	practice := voice.NewPractice(voice.PracticeConfig{
		Device:     capture,
		Recognizer: s.recognizer,
		Turn: voice.TurnConfig{
			LLM:         s.llm,
			Synthesizer: s.synthesizer,
			Player:      player,
			Language:    lang,
			VoiceCode:   sess.VoiceCode,
			Prompt: llm.ChatPrompt{
				Level:     sess.Level,
				SelfIntro: sess.SelfIntro,
				Scenario:  sess.Scenario,
			},
			HistoryWindow: s.cfg.LLMHistoryWindow,
			SampleRate:    s.cfg.SynthesisSampleRate,
		},
		WorkletBuffer: s.cfg.WorkletBuffer,
		Observer:      bridge.observe,
		OnTurn: func(messages []chat.Message) {
			_ = s.sessions.RecordTurn(sess.ID)
			s.saveConversation(ctx, sess, messages)
		},
		Logger:  logger,
		Metrics: s.metrics,
	})
	if restored := s.loadConversation(ctx, sess); len(restored) > 0 {
		practice.Restore(restored)
	} else {
		bridge.observe(voice.PracticeState{})
	}

	var tasks sync.WaitGroup
	// runTurn runs a reply-producing action off the read loop so acks and
	// stop requests keep flowing while the reply plays.
	runTurn := func(action string, fn func() error) {
		tasks.Add(1)
		go func() {
			defer tasks.Done()
			err := fn()
			switch {
			case err == nil:
			case errors.Is(err, voice.ErrInvalidState):
				send(s.busyEvent(sess.ID, action))
			default:
				logger.Warn("practice action failed", slog.String("action", action), slog.String("error", err.Error()))
			}
		}()
	}

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}
		_ = s.sessions.Touch(sess.ID)

		switch msg := parsed.(type) {
		case protocol.ClientAudioChunk:
			if err := capture.Feed(msg); err != nil {
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sess.ID,
					Code:      "invalid_audio_chunk",
					Source:    "gateway",
					Detail:    err.Error(),
				})
			}
		case protocol.ClientControl:
			switch msg.Action {
			case protocol.ActionStartRecording:
				if err := practice.StartRecording(ctx); errors.Is(err, voice.ErrInvalidState) {
					send(s.busyEvent(sess.ID, msg.Action))
				}
			case protocol.ActionStopRecording:
				runTurn(msg.Action, func() error { return practice.StopRecording(ctx) })
			case protocol.ActionSendText:
				text := msg.Text
				runTurn(msg.Action, func() error { return practice.SendText(ctx, text) })
			case protocol.ActionStopAudio:
				tasks.Add(1)
				go func() {
					defer tasks.Done()
					if !practice.Flags().Playing && !practice.Flags().Streaming {
						return
					}
					if err := practice.StopAudio(ctx); err != nil {
						logger.Warn("stopping playback", slog.String("error", err.Error()))
						return
					}
					_ = s.sessions.RecordStop(sess.ID)
					send(protocol.SystemEvent{
						Type:      protocol.TypeSystemEvent,
						SessionID: sess.ID,
						Code:      "playback_stopped",
					})
				}()
			case protocol.ActionPlaybackDone:
				player.Ack(msg.Seq)
			}
		}
	}

	cancel()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
	if err := practice.Close(closeCtx); err != nil {
		logger.Warn("closing practice", slog.String("error", err.Error()))
	}
	closeCancel()
	tasks.Wait()
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

func (s *Server) busyEvent(sessionID, action string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "busy",
		Source:    "practice",
		Retryable: true,
		Detail:    action + " rejected while a recording or reply is in progress",
	}
}

func (s *Server) loadConversation(ctx context.Context, sess *session.Session) []chat.Message {
	if s.history == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	conv, err := s.history.LoadConversation(ctx, sess.ConversationID)
	if err != nil {
		if !errors.Is(err, history.ErrNotFound) {
			s.logger.Warn("loading conversation", slog.String("conversation_id", sess.ConversationID), slog.String("error", err.Error()))
		}
		return nil
	}
	return fromRecords(conv.Records)
}

func (s *Server) saveConversation(ctx context.Context, sess *session.Session, messages []chat.Message) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	records := make([]chat.Record, 0, len(messages))
	for _, m := range messages {
		records = append(records, m.Record())
	}
	err := s.history.SaveConversation(ctx, history.Conversation{
		ID:       sess.ConversationID,
		UserID:   sess.UserID,
		Language: sess.Language,
		Records:  records,
	})
	if err != nil {
		s.logger.Warn("saving conversation", slog.String("conversation_id", sess.ConversationID), slog.String("error", err.Error()))
	}
}

// practiceBridge turns practice snapshots into outbound events: flag changes
// become state events, the streaming reply becomes text deltas, and every
// finished message is sent once.
type practiceBridge struct {
	sessionID string
	send      func(any) bool

	mu        sync.Mutex
	flags     voice.Flags
	flagsSent bool
	sent      map[string]bool
	streamed  map[string]string
}

func newPracticeBridge(sessionID string, send func(any) bool) *practiceBridge {
	return &practiceBridge{
		sessionID: sessionID,
		send:      send,
		sent:      make(map[string]bool),
		streamed:  make(map[string]string),
	}
}

func (b *practiceBridge) observe(state voice.PracticeState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.flagsSent || state.Flags != b.flags {
		b.flags = state.Flags
		b.flagsSent = true
		b.send(protocol.StateEvent{
			Type:      protocol.TypeState,
			SessionID: b.sessionID,
			Flags: protocol.Flags{
				Configuring: state.Flags.Configuring,
				Recording:   state.Flags.Recording,
				Streaming:   state.Flags.Streaming,
				Playing:     state.Flags.Playing,
			},
		})
	}

	for _, m := range state.Messages {
		if m.Streaming {
			if m.Text == "" || b.streamed[m.ID] == m.Text {
				continue
			}
			b.streamed[m.ID] = m.Text
			b.send(protocol.TextDelta{
				Type:      protocol.TypeTextDelta,
				SessionID: b.sessionID,
				MessageID: m.ID,
				Text:      m.Text,
			})
			continue
		}
		if b.sent[m.ID] {
			continue
		}
		b.sent[m.ID] = true
		delete(b.streamed, m.ID)
		b.send(protocol.MessageEvent{
			Type:      protocol.TypeMessage,
			SessionID: b.sessionID,
			Message:   wireMessage(m),
		})
	}

	if state.Notice != "" {
		b.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: b.sessionID,
			Code:      "practice_failed",
			Source:    "practice",
			Retryable: true,
			Detail:    state.Notice,
		})
	}
}

func wireMessage(m chat.Message) protocol.ChatMessage {
	out := protocol.ChatMessage{
		ID:        m.ID,
		Text:      m.Text,
		IsAI:      m.FromAI,
		Streaming: m.Streaming,
	}
	if m.Audio == nil || len(m.Audio.WAV) == 0 {
		return out
	}
	out.WAVBase64 = base64.StdEncoding.EncodeToString(m.Audio.WAV)
	if meta, err := m.Audio.Metadata(); err == nil {
		out.DurationMS = meta.Duration().Milliseconds()
		out.VolumeBins = meta.VolumeBuckets
	}
	return out
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.StateEvent:
		return m.Type, true
	case protocol.MessageEvent:
		return m.Type, true
	case protocol.TextDelta:
		return m.Type, true
	case protocol.AssistantAudioChunk:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
