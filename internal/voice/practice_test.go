package voice

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/lingopal/internal/chat"
	"github.com/antoniostano/lingopal/internal/language"
	"github.com/antoniostano/lingopal/internal/speech"
)

type stateLog struct {
	mu     sync.Mutex
	states []PracticeState
}

func (l *stateLog) observe(s PracticeState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) sawFlag(pick func(Flags) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.states {
		if pick(s.Flags) {
			return true
		}
	}
	return false
}

func (l *stateLog) notices() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, s := range l.states {
		if s.Notice != "" {
			out = append(out, s.Notice)
		}
	}
	return out
}

type practiceRig struct {
	practice *Practice
	model    *fakeLLM
	synth    *fakeSynthesizer
	stream   *fakeCaptureStream
	rec      *fakeRecognition
	log      *stateLog
	turns    [][]chat.Message
}

func newPracticeRig(t *testing.T, model *fakeLLM, device CaptureDevice) *practiceRig {
	t.Helper()
	lang, err := language.Default().Lookup("en")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	rig := &practiceRig{
		model: model,
		synth: &fakeSynthesizer{},
		rec:   newFakeRecognition(),
		log:   &stateLog{},
	}
	if device == nil {
		rig.stream = &fakeCaptureStream{rate: 16000}
		device = &fakeCaptureDevice{stream: rig.stream}
	}
	rig.practice = NewPractice(PracticeConfig{
		Device:     device,
		Recognizer: &fakeRecognizer{rec: rig.rec},
		Turn: TurnConfig{
			LLM:         model,
			Synthesizer: rig.synth,
			Player:      newFakePlayer(),
			Language:    lang,
			SampleRate:  24000,
		},
		Observer: rig.log.observe,
		OnTurn:   func(msgs []chat.Message) { rig.turns = append(rig.turns, msgs) },
		Logger:   quietLogger(),
	})
	return rig
}

func TestPracticeSendText(t *testing.T) {
	rig := newPracticeRig(t, &fakeLLM{deltas: []string{"Nice! § Tell me more."}}, nil)

	if err := rig.practice.SendText(testContext(t), "I went hiking"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	msgs := rig.practice.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].FromAI || msgs[0].Text != "I went hiking" {
		t.Fatalf("learner message = %+v", msgs[0])
	}
	if !msgs[1].FromAI || msgs[1].Kind != chat.KindAudio || msgs[1].Text != "Nice! Tell me more." {
		t.Fatalf("reply = %+v", msgs[1])
	}
	if rig.practice.Flags().Busy() {
		t.Fatalf("flags still set: %+v", rig.practice.Flags())
	}
	if !rig.log.sawFlag(func(f Flags) bool { return f.Streaming }) {
		t.Fatalf("observer never saw streaming")
	}
	if !rig.log.sawFlag(func(f Flags) bool { return f.Playing }) {
		t.Fatalf("observer never saw playing")
	}
	if len(rig.turns) != 1 || len(rig.turns[0]) != 2 {
		t.Fatalf("turn callbacks = %d", len(rig.turns))
	}
	if got := rig.model.requests[0].Messages; len(got) != 1 || got[0].Content != "I went hiking" {
		t.Fatalf("model history = %+v", got)
	}

	if err := rig.practice.SendText(testContext(t), "   "); err != nil {
		t.Fatalf("blank SendText() error = %v", err)
	}
	if len(rig.model.requests) != 1 {
		t.Fatalf("blank text should not reach the model")
	}
}

func TestPracticeRejectsSecondSendWhileReplying(t *testing.T) {
	rig := newPracticeRig(t, &fakeLLM{deltas: []string{"Hello."}}, nil)
	gate := make(chan struct{})
	rig.synth.gate = map[string]chan struct{}{"Hello.": gate}
	ctx := testContext(t)

	done := make(chan error, 1)
	go func() { done <- rig.practice.SendText(ctx, "first") }()

	deadline := time.Now().Add(2 * time.Second)
	for len(rig.synth.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("synthesis never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := rig.practice.SendText(ctx, "second"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second SendText() error = %v, want ErrInvalidState", err)
	}
	if err := rig.practice.StartRecording(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("StartRecording() during reply error = %v, want ErrInvalidState", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first SendText() error = %v", err)
	}
	if got := len(rig.model.requests); got != 1 {
		t.Fatalf("model requests = %d, want 1", got)
	}
}

func TestPracticeRecordingRoundTrip(t *testing.T) {
	rig := newPracticeRig(t, &fakeLLM{deltas: []string{"Cool."}}, nil)
	rig.rec.onStop = []speech.RecognitionResult{
		{Reason: speech.RecognizedSpeech, Text: "hello"},
		{Reason: speech.RecognizedSpeech, Text: "there"},
	}
	ctx := testContext(t)

	if err := rig.practice.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if f := rig.practice.Flags(); !f.Recording || f.Configuring {
		t.Fatalf("flags while recording = %+v", f)
	}
	if err := rig.practice.StartRecording(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second StartRecording() error = %v, want ErrInvalidState", err)
	}
	rig.stream.emit([][]float32{{0.25, -0.25, 0.5}})

	if err := rig.practice.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	msgs := rig.practice.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	learner := msgs[0]
	if learner.FromAI || learner.Kind != chat.KindAudio || learner.Text != "hello there" {
		t.Fatalf("learner message = %+v", learner)
	}
	meta, err := learner.Audio.Metadata()
	if err != nil || meta.Seconds <= 0 {
		t.Fatalf("recording metadata = %+v, %v", meta, err)
	}
	if rig.practice.Flags().Busy() {
		t.Fatalf("flags still set: %+v", rig.practice.Flags())
	}
	if err := rig.practice.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording() without a recording = %v", err)
	}
}

func TestPracticeEmptyRecognitionSendsNothing(t *testing.T) {
	rig := newPracticeRig(t, &fakeLLM{deltas: []string{"unused"}}, nil)
	rig.rec.onStop = []speech.RecognitionResult{{Reason: speech.NoMatch}}
	ctx := testContext(t)

	if err := rig.practice.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := rig.practice.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if len(rig.practice.Messages()) != 0 || len(rig.model.requests) != 0 {
		t.Fatalf("nothing should be sent for an empty transcript")
	}
}

func TestPracticeDeviceFailureResetsFlags(t *testing.T) {
	rig := newPracticeRig(t, &fakeLLM{}, &fakeCaptureDevice{openErr: errors.New("denied")})

	err := rig.practice.StartRecording(testContext(t))
	if !errors.Is(err, ErrDeviceAcquisition) {
		t.Fatalf("StartRecording() error = %v, want ErrDeviceAcquisition", err)
	}
	if rig.practice.Flags().Busy() {
		t.Fatalf("flags not reset: %+v", rig.practice.Flags())
	}
	if len(rig.log.notices()) != 1 {
		t.Fatalf("notices = %q, want exactly one", rig.log.notices())
	}
	if err := rig.practice.StopRecording(testContext(t)); err != nil {
		t.Fatalf("StopRecording() after failed start = %v", err)
	}
}

func TestPracticeModelFailureDropsPlaceholder(t *testing.T) {
	rig := newPracticeRig(t, &fakeLLM{openErr: errors.New("upstream down")}, nil)

	err := rig.practice.SendText(testContext(t), "hi")
	if !errors.Is(err, ErrStreamRead) {
		t.Fatalf("SendText() error = %v, want ErrStreamRead", err)
	}
	msgs := rig.practice.Messages()
	if len(msgs) != 1 || msgs[0].FromAI {
		t.Fatalf("messages = %+v, want only the learner message", msgs)
	}
	if len(rig.log.notices()) != 1 {
		t.Fatalf("notices = %q, want exactly one", rig.log.notices())
	}
	if len(rig.turns) != 0 {
		t.Fatalf("failed turn should not be reported")
	}
	if err := rig.practice.StopAudio(testContext(t)); err != nil {
		t.Fatalf("StopAudio() with nothing playing = %v", err)
	}
}
