package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/antoniostano/lingopal/internal/audio"
	"github.com/antoniostano/lingopal/internal/protocol"
	"github.com/antoniostano/lingopal/internal/session"
)

type replayOptions struct {
	baseURL        string
	userID         string
	locale         string
	voiceCode      string
	turns          int
	chunkMS        int
	realtime       float64
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type replayClip struct {
	Text       string
	PCM16LE    []byte
	SampleRate int
}

// turnTiming is measured from stop_recording.
type turnTiming struct {
	FirstAudio time.Duration
	Total      time.Duration
}

type replayReport struct {
	SessionID string
	Turns     []turnTiming
}

var defaultUtterances = []string{
	"I would like a coffee with milk, please.",
	"Yesterday I went to the market with my sister.",
	"What do you usually do on weekends?",
	"My favourite season is autumn because of the colours.",
}

func newReplayCmd() *cobra.Command {
	var (
		opts      replayOptions
		textsRaw  string
		interTurn int
		timeoutMS int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay synthetic spoken turns against a running server and report latency",
		Long: `replay synthesizes each utterance through the voice preview endpoint,
streams it back over the practice websocket as microphone audio, and measures
time to the first reply clip and to the finished reply.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.interTurnDelay = time.Duration(interTurn) * time.Millisecond
			opts.turnTimeout = time.Duration(timeoutMS) * time.Millisecond
			opts.texts = splitUtterances(textsRaw)
			if err := opts.validate(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 8*time.Minute)
			defer cancel()
			report, err := runReplay(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "server base URL")
	f.StringVar(&opts.userID, "user-id", "perf-replay", "user_id for the synthetic session")
	f.StringVar(&opts.locale, "language", "en", "practice language locale")
	f.StringVar(&opts.voiceCode, "voice", "", "voice code used to synthesize the utterances")
	f.IntVar(&opts.turns, "turns", 10, "number of turns to replay")
	f.IntVar(&opts.chunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	f.Float64Var(&opts.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	f.IntVar(&interTurn, "inter-turn-ms", 180, "delay between turns in milliseconds")
	f.IntVar(&timeoutMS, "turn-timeout-ms", 30000, "timeout waiting for the finished reply per turn in milliseconds")
	f.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	f.BoolVar(&opts.verbose, "verbose", true, "print replay progress")
	return cmd
}

func splitUtterances(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultUtterances...)
	}
	return out
}

func (o *replayOptions) validate() error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	switch {
	case o.baseURL == "":
		return errors.New("base-url is required")
	case o.turns <= 0:
		return errors.New("turns must be > 0")
	case o.chunkMS < 10 || o.chunkMS > 2000:
		return errors.New("chunk-ms must be in [10,2000]")
	case o.realtime <= 0:
		return errors.New("realtime must be > 0")
	case len(o.texts) == 0:
		return errors.New("no utterances to replay")
	}
	if o.interTurnDelay < 0 {
		o.interTurnDelay = 0
	}
	if o.turnTimeout < time.Second {
		o.turnTimeout = time.Second
	}
	return nil
}

func runReplay(ctx context.Context, opts replayOptions, progress io.Writer) (replayReport, error) {
	logf := func(format string, args ...any) {
		if opts.verbose {
			fmt.Fprintf(progress, "replay: "+format+"\n", args...)
		}
	}
	client := &http.Client{Timeout: 45 * time.Second}

	clips, err := synthClips(ctx, client, opts)
	if err != nil {
		return replayReport{}, fmt.Errorf("prepare utterance audio: %w", err)
	}
	sampleRate := clips[0].SampleRate
	for _, c := range clips[1:] {
		if c.SampleRate != sampleRate {
			return replayReport{}, fmt.Errorf("utterances synthesized at mixed sample rates (%d and %d)", sampleRate, c.SampleRate)
		}
	}

	sessionID, err := createSession(ctx, client, opts)
	if err != nil {
		return replayReport{}, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.WithoutCancel(ctx), client, opts.baseURL, sessionID)
	}()
	logf("session=%s turns=%d chunk_ms=%d realtime=%.2f sample_rate=%d", sessionID, opts.turns, opts.chunkMS, opts.realtime, sampleRate)

	wsURL, err := wsURLForSession(opts.baseURL, sessionID, sampleRate)
	if err != nil {
		return replayReport{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return replayReport{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	w := &wsWriter{conn: conn}
	events := make(chan replayEvent, 64)
	readErr := make(chan error, 1)
	go readLoop(conn, w, sessionID, events, readErr, logf)

	report := replayReport{SessionID: sessionID}
	seq := 0
	for i := 0; i < opts.turns; i++ {
		clip := clips[i%len(clips)]
		logf("turn %d/%d text=%q bytes=%d", i+1, opts.turns, clip.Text, len(clip.PCM16LE))

		if err := w.control(sessionID, protocol.ActionStartRecording); err != nil {
			return report, fmt.Errorf("turn %d start recording: %w", i+1, err)
		}
		if err := sendTurnAudio(ctx, w, sessionID, clip, opts.chunkMS, opts.realtime, &seq); err != nil {
			return report, fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		stoppedAt := time.Now()
		if err := w.control(sessionID, protocol.ActionStopRecording); err != nil {
			return report, fmt.Errorf("turn %d stop recording: %w", i+1, err)
		}
		timing, err := awaitReply(ctx, events, readErr, stoppedAt, opts.turnTimeout)
		if err != nil {
			return report, fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		logf("turn %d first_audio=%s total=%s", i+1, timing.FirstAudio.Round(time.Millisecond), timing.Total.Round(time.Millisecond))
		report.Turns = append(report.Turns, timing)

		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(opts.interTurnDelay):
			}
		}
	}
	logf("replay completed")
	return report, nil
}

func createSession(ctx context.Context, client *http.Client, opts replayOptions) (string, error) {
	var out session.CreateResponse
	err := postJSON(ctx, client, opts.baseURL+"/v1/session", session.CreateRequest{
		UserID:    opts.userID,
		Language:  opts.locale,
		VoiceCode: opts.voiceCode,
	}, http.StatusCreated, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", errors.New("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, body any, wantStatus int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, 40<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != wantStatus {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}
	switch v := out.(type) {
	case *[]byte:
		*v = data
		return nil
	default:
		return json.Unmarshal(data, out)
	}
}

func synthClips(ctx context.Context, client *http.Client, opts replayOptions) ([]replayClip, error) {
	cache := make(map[string]replayClip, len(opts.texts))
	out := make([]replayClip, 0, len(opts.texts))
	for _, text := range opts.texts {
		if existing, ok := cache[text]; ok {
			out = append(out, existing)
			continue
		}
		clip, err := synthClip(ctx, client, opts, text)
		if err != nil {
			return nil, err
		}
		cache[text] = clip
		out = append(out, clip)
	}
	return out, nil
}

func synthClip(ctx context.Context, client *http.Client, opts replayOptions, text string) (replayClip, error) {
	endpoint := opts.baseURL + "/v1/languages/" + url.PathEscape(opts.locale) + "/voices/preview"
	var wav []byte
	err := postJSON(ctx, client, endpoint, map[string]string{
		"voice_code": opts.voiceCode,
		"text":       text,
	}, http.StatusOK, &wav)
	if err != nil {
		return replayClip{}, fmt.Errorf("preview %q: %w", text, err)
	}
	samples, sampleRate, channels, err := audio.DecodePCM(wav)
	if err != nil {
		return replayClip{}, fmt.Errorf("decode preview wav for %q: %w", text, err)
	}
	if channels != 1 {
		_, mono := audio.Downmix(audio.Deinterleave(samples, channels))
		samples = mono
	}
	if len(samples) == 0 {
		return replayClip{}, fmt.Errorf("preview wav for %q produced no samples", text)
	}
	return replayClip{
		Text:       text,
		PCM16LE:    audio.PCM16ToBytes(samples),
		SampleRate: sampleRate,
	}, nil
}

func wsURLForSession(baseURL, sessionID string, sampleRate int) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// wsWriter serializes writes; the read loop acknowledges clips concurrently
// with the turn loop streaming audio.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsWriter) control(sessionID, action string) error {
	return w.writeJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    action,
		Reason:    "perf_replay",
		TSMs:      time.Now().UnixMilli(),
	})
}

type replayEvent struct {
	at       time.Time
	audio    bool
	finished bool
}

type wsEnvelope struct {
	Type    protocol.MessageType  `json:"type"`
	Seq     int                   `json:"seq"`
	Code    string                `json:"code"`
	Detail  string                `json:"detail"`
	Message *protocol.ChatMessage `json:"message"`
}

func readLoop(conn *websocket.Conn, w *wsWriter, sessionID string, events chan<- replayEvent, readErr chan<- error, logf func(string, ...any)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		now := time.Now()
		switch env.Type {
		case protocol.TypeAssistantAudio:
			// Acknowledge immediately: replay measures the server, not playback.
			if err := w.writeJSON(protocol.ClientControl{
				Type:      protocol.TypeClientControl,
				SessionID: sessionID,
				Action:    protocol.ActionPlaybackDone,
				Seq:       env.Seq,
			}); err != nil {
				select {
				case readErr <- err:
				default:
				}
				return
			}
			events <- replayEvent{at: now, audio: true}
		case protocol.TypeMessage:
			if env.Message != nil && env.Message.IsAI && !env.Message.Streaming {
				events <- replayEvent{at: now, finished: true}
			}
		case protocol.TypeErrorEvent:
			logf("error_event code=%s detail=%s", env.Code, env.Detail)
		}
	}
}

func sendTurnAudio(ctx context.Context, w *wsWriter, sessionID string, clip replayClip, chunkMS int, realtime float64, seq *int) error {
	for _, chunk := range chunkPCM(clip.PCM16LE, clip.SampleRate, chunkMS) {
		*seq++
		err := w.writeJSON(protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			SessionID:   sessionID,
			Seq:         *seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(chunk),
			SampleRate:  clip.SampleRate,
			Channels:    1,
			TSMs:        time.Now().UnixMilli(),
		})
		if err != nil {
			return err
		}
		pace := time.Duration(float64(audio.ClipDuration(len(chunk), clip.SampleRate, 1)) / realtime)
		if pace <= 0 {
			pace = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pace):
		}
	}
	return nil
}

// chunkPCM splits mono PCM16LE into chunks of chunkMS, never splitting a
// sample. The last chunk may be shorter.
func chunkPCM(pcm []byte, sampleRate, chunkMS int) [][]byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	size := sampleRate * 2 * chunkMS / 1000
	size -= size % 2
	if size < 2 {
		size = 2
	}
	usable := len(pcm) - len(pcm)%2
	var out [][]byte
	for off := 0; off < usable; off += size {
		end := off + size
		if end > usable {
			end = usable
		}
		out = append(out, pcm[off:end])
	}
	return out
}

func awaitReply(ctx context.Context, events <-chan replayEvent, readErr <-chan error, since time.Time, timeout time.Duration) (turnTiming, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var timing turnTiming
	for {
		select {
		case ev := <-events:
			if ev.audio && timing.FirstAudio == 0 {
				timing.FirstAudio = ev.at.Sub(since)
			}
			if ev.finished {
				timing.Total = ev.at.Sub(since)
				return timing, nil
			}
		case err := <-readErr:
			return timing, err
		case <-timer.C:
			return timing, fmt.Errorf("timeout after %s", timeout)
		case <-ctx.Done():
			return timing, ctx.Err()
		}
	}
}

func printReport(out io.Writer, report replayReport) {
	first := make([]time.Duration, 0, len(report.Turns))
	total := make([]time.Duration, 0, len(report.Turns))
	for _, t := range report.Turns {
		if t.FirstAudio > 0 {
			first = append(first, t.FirstAudio)
		}
		total = append(total, t.Total)
	}
	fmt.Fprintf(out, "session %s: %d turns\n", report.SessionID, len(report.Turns))
	fmt.Fprintf(out, "first audio  p50=%s p95=%s\n", percentile(first, 50).Round(time.Millisecond), percentile(first, 95).Round(time.Millisecond))
	fmt.Fprintf(out, "full reply   p50=%s p95=%s\n", percentile(total, 50).Round(time.Millisecond), percentile(total, 95).Round(time.Millisecond))
}

// percentile uses nearest rank.
func percentile(values []time.Duration, p int) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
