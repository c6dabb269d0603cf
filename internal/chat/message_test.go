package chat

import (
	"sync"
	"testing"

	"github.com/antoniostano/lingopal/internal/audio"
	"github.com/antoniostano/lingopal/internal/language"
)

func TestNewTextStripsPausesForDisplay(t *testing.T) {
	raw := "Hey! § How are you? §Fine."
	m := NewText(raw, true)
	if m.Text != "Hey! How are you?Fine." {
		t.Fatalf("Text = %q", m.Text)
	}
	if m.ModelText != raw {
		t.Fatalf("ModelText = %q, want %q", m.ModelText, raw)
	}
	if m.ID == "" {
		t.Fatalf("ID is empty")
	}
}

func TestToModelMessage(t *testing.T) {
	ai := NewText("Hi § there", true)
	if got := ai.ToModelMessage(false); got.Role != RoleAssistant || got.Content != "Hi § there" {
		t.Fatalf("ToModelMessage(false) = %+v", got)
	}
	if got := ai.ToModelMessage(true); got.Content != "Hi there" {
		t.Fatalf("ToModelMessage(true) = %+v", got)
	}
	user := NewText("hello", false)
	if got := user.ToModelMessage(false); got.Role != RoleUser {
		t.Fatalf("role = %q, want user", got.Role)
	}
}

func TestModelHistoryWindow(t *testing.T) {
	var msgs []Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, NewText(string(rune('a'+i)), i%2 == 1))
	}
	got := ModelHistory(msgs, 8, false)
	if len(got) != 8 || got[0].Content != "c" || got[7].Content != "j" {
		t.Fatalf("ModelHistory() = %+v", got)
	}
	if all := ModelHistory(msgs, 0, false); len(all) != 10 {
		t.Fatalf("len = %d, want 10", len(all))
	}
}

func TestAudioMetadataDecodedOnce(t *testing.T) {
	wav, err := audio.EncodeSamples(24000, 1, make([]int16, 12000))
	if err != nil {
		t.Fatalf("EncodeSamples() error = %v", err)
	}
	m := NewAudio("hi", true, wav)
	if m.Kind != KindAudio {
		t.Fatalf("Kind = %v, want audio", m.Kind)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Audio.Metadata(); err != nil {
				t.Errorf("Metadata() error = %v", err)
			}
		}()
	}
	wg.Wait()

	first, _ := m.Audio.Metadata()
	copied := m
	// a second decode would now fail on the RIFF tag
	wav[0] = 'X'
	second, _ := copied.Audio.Metadata()
	if first.Seconds != 0.5 || second.Seconds != 0.5 {
		t.Fatalf("Seconds = %v/%v, want 0.5", first.Seconds, second.Seconds)
	}
	if len(second.VolumeBuckets) != VolumeBucketCount {
		t.Fatalf("buckets = %d, want %d", len(second.VolumeBuckets), VolumeBucketCount)
	}
}

func TestSerializeRoundTripKeepsIdentityAndMarkers(t *testing.T) {
	in := []Message{NewText("hello", false), NewAudio("Sure § why not", true, nil)}
	data, err := SerializeConversation(in)
	if err != nil {
		t.Fatalf("SerializeConversation() error = %v", err)
	}
	out, err := DeserializeConversation(data)
	if err != nil {
		t.Fatalf("DeserializeConversation() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[1].ID != in[1].ID || out[1].ModelText != "Sure § why not" || out[1].Text != "Sure why not" {
		t.Fatalf("restored = %+v", out[1])
	}
	if out[1].Kind != KindText || out[1].Audio != nil {
		t.Fatalf("audio must not survive serialization: %+v", out[1])
	}
}

func TestStats(t *testing.T) {
	msgs := []Message{
		NewText("I like green tea", false),
		NewText("Nice § why?", true),
		NewText("It is calm", false),
	}
	got := Stats(msgs, language.Language{})
	if got.Rounds != 2 || got.WordsUsed != 7 {
		t.Fatalf("Stats() = %+v, want rounds=2 words=7", got)
	}
	ja := []Message{NewText("お茶が好き", false)}
	if got := Stats(ja, language.Language{CharacterBased: true}); got.WordsUsed != 5 || !got.ByChar {
		t.Fatalf("Stats(ja) = %+v, want 5 characters", got)
	}
}
