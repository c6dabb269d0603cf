package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antoniostano/lingopal/internal/reliability"
	"github.com/gorilla/websocket"
)

type ElevenLabsConfig struct {
	APIKey     string
	WSBaseURL  string
	STTModelID string
	TTSModelID string
	VoiceID    string
	SampleRate int
	StopGrace  time.Duration
}

// ElevenLabs implements Recognizer over the realtime speech-to-text socket and
// Synthesizer over the stream-input text-to-speech socket.
type ElevenLabs struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v2_realtime"
	}
	if strings.TrimSpace(cfg.TTSModelID) == "" {
		cfg.TTSModelID = "eleven_multilingual_v2"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 2 * time.Second
	}
	return &ElevenLabs{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (e *ElevenLabs) header() http.Header {
	h := http.Header{}
	h.Set("xi-api-key", e.cfg.APIKey)
	return h
}

func (e *ElevenLabs) Open(ctx context.Context, cfg RecognitionConfig) (Recognition, error) {
	u, err := url.Parse(strings.TrimRight(e.cfg.WSBaseURL, "/") + "/v1/speech-to-text/realtime")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", e.cfg.STTModelID)
	q.Set("commit_strategy", "vad")
	if lang := languageCode(cfg.Locale); lang != "" {
		q.Set("language_code", lang)
	}
	u.RawQuery = q.Encode()

	conn, _, err := e.dialer.DialContext(ctx, u.String(), e.header())
	if err != nil {
		return nil, fmt.Errorf("dial stt websocket: %w", err)
	}

	r := &elevenRecognition{
		conn:       conn,
		sampleRate: cfg.SampleRate,
		stopGrace:  e.cfg.StopGrace,
		results:    make(chan RecognitionResult, 256),
		started:    make(chan struct{}),
		flushed:    make(chan struct{}, 1),
		finished:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	r.input = &elevenPushStream{r: r}
	go r.readLoop()
	return r, nil
}

// languageCode turns a speech locale such as "en-US" into "en".
func languageCode(locale string) string {
	locale = strings.TrimSpace(locale)
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	return strings.ToLower(locale)
}

type elevenRecognition struct {
	conn       *websocket.Conn
	sampleRate int
	stopGrace  time.Duration
	input      *elevenPushStream

	writeMu   sync.Mutex
	closeOnce sync.Once
	startOnce sync.Once
	stopping  atomic.Bool

	results  chan RecognitionResult
	started  chan struct{}
	flushed  chan struct{}
	finished chan struct{}
	done     chan struct{}
	ended    atomic.Bool
}

func (r *elevenRecognition) Input() PushStream { return r.input }

func (r *elevenRecognition) Results() <-chan RecognitionResult { return r.results }

func (r *elevenRecognition) Start(ctx context.Context) error {
	select {
	case <-r.started:
		return nil
	case <-r.finished:
		return fmt.Errorf("%w: connection closed before session start", ErrStartRejected)
	case <-r.done:
		return fmt.Errorf("%w: %w", ErrStartRejected, ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStartRejected, ctx.Err())
	}
}

func (r *elevenRecognition) Stop(ctx context.Context) error {
	if r.ended.Load() {
		return nil
	}
	r.stopping.Store(true)
	if err := r.input.Close(); err != nil {
		return err
	}
	timer := time.NewTimer(r.stopGrace)
	defer timer.Stop()
	select {
	case <-r.flushed:
	case <-r.finished:
	case <-r.done:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *elevenRecognition) Close() error {
	var retErr error
	r.closeOnce.Do(func() {
		close(r.done)
		retErr = r.conn.Close()
	})
	return retErr
}

func (r *elevenRecognition) writeChunk(pcm []byte, commit bool) error {
	payload := map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": base64.StdEncoding.EncodeToString(pcm),
		"commit":        commit,
		"sample_rate":   r.sampleRate,
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteJSON(payload)
}

func (r *elevenRecognition) emit(res RecognitionResult) {
	select {
	case r.results <- res:
	case <-r.done:
	}
}

func (r *elevenRecognition) readLoop() {
	defer close(r.finished)
	defer close(r.results)
	defer r.ended.Store(true)
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		messageType := asString(raw["message_type"])
		switch messageType {
		case "session_started":
			r.startOnce.Do(func() { close(r.started) })
		case "partial_transcript", "", "input_audio_chunk":
			// interim hypotheses are not surfaced
		case "committed_transcript", "committed_transcript_with_timestamps":
			text := strings.TrimSpace(asString(raw["text"]))
			if text == "" {
				r.emit(RecognitionResult{Reason: NoMatch})
			} else {
				r.emit(RecognitionResult{Reason: RecognizedSpeech, Text: text})
			}
			if r.stopping.Load() {
				select {
				case r.flushed <- struct{}{}:
				default:
				}
			}
		default:
			r.emit(RecognitionResult{
				Reason:    Canceled,
				Code:      messageType,
				Detail:    asString(raw["error"]),
				Retryable: reliability.IsRetryableRealtimeMessageType(messageType),
			})
		}
	}
}

type elevenPushStream struct {
	r      *elevenRecognition
	mu     sync.Mutex
	closed bool
}

func (p *elevenPushStream) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if len(pcm) == 0 {
		return nil
	}
	return p.r.writeChunk(pcm, false)
}

// Close commits whatever audio the service has buffered.
func (p *elevenPushStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.r.ended.Load() {
		return nil
	}
	return p.r.writeChunk(nil, true)
}

func (e *ElevenLabs) Synthesizer() Synthesizer { return elevenSynthesizer{e} }

type elevenSynthesizer struct{ e *ElevenLabs }

func (s elevenSynthesizer) Open(_ context.Context) (SynthesisChannel, error) {
	if strings.TrimSpace(s.e.cfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	if strings.TrimSpace(s.e.cfg.VoiceID) == "" {
		return nil, fmt.Errorf("elevenlabs voice_id is required")
	}
	return &elevenChannel{e: s.e}, nil
}

// elevenChannel dials one stream-input socket per request so each chunk's
// audio is delimited by the isFinal marker.
type elevenChannel struct {
	e      *ElevenLabs
	closed atomic.Bool
}

func (c *elevenChannel) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	cfg := c.e.cfg
	u, err := url.Parse(strings.TrimRight(cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(cfg.VoiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", cfg.TTSModelID)
	q.Set("output_format", "pcm_"+strconv.Itoa(cfg.SampleRate))
	if lang := languageCode(req.Locale); lang != "" {
		q.Set("language_code", lang)
	}
	u.RawQuery = q.Encode()

	conn, _, err := c.e.dialer.DialContext(ctx, u.String(), c.e.header())
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	speed := req.Rate
	if speed <= 0 {
		speed = 1.0
	}
	speed = min(max(speed, 0.7), 1.2)
	messages := []map[string]any{
		{"text": " ", "voice_settings": map[string]any{"stability": 0.42, "similarity_boost": 0.85, "speed": speed}},
		{"text": strings.TrimSpace(req.Text) + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return nil, fmt.Errorf("write tts request: %w", err)
		}
	}

	var pcm []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if len(pcm) > 0 && websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return pcm, nil
			}
			return nil, fmt.Errorf("read tts audio: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if msg := asString(raw["error"]); msg != "" {
			return nil, fmt.Errorf("elevenlabs tts %s: %s", asString(raw["message_type"]), msg)
		}
		if b64 := asString(raw["audio"]); b64 != "" {
			chunk, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return nil, fmt.Errorf("decode tts audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if asBool(raw["isFinal"]) || asBool(raw["is_final"]) {
			if len(pcm) == 0 {
				return nil, ErrEmptyAudio
			}
			return pcm, nil
		}
	}
}

func (c *elevenChannel) Close() error {
	c.closed.Store(true)
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
