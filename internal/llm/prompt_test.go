package llm

import (
	"strings"
	"testing"

	"github.com/antoniostano/lingopal/internal/chat"
)

func TestChatPromptSystem(t *testing.T) {
	p := ChatPrompt{SpeakerName: "Aria", Language: "English", Scenario: "Ordering coffee"}
	got := p.System()
	for _, want := range []string{
		"You are Aria, a native English speaker.",
		"## Scenario\nOrdering coffee",
		"- Use English to communicate with the user.",
		"Add a special token " + chat.PauseToken,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "User's Info") || strings.Contains(got, "level") {
		t.Fatalf("optional sections should be omitted:\n%s", got)
	}

	p.Level = "beginner"
	p.SelfIntro = "I'm Sam from Lisbon."
	got = p.System()
	if !strings.Contains(got, "## User's Info\nI'm Sam from Lisbon.") {
		t.Fatalf("missing self intro:\n%s", got)
	}
	if !strings.Contains(got, "User's language skill is beginner level.") {
		t.Fatalf("missing level:\n%s", got)
	}
}

func TestChatPromptRequestKeepsPauseMarkers(t *testing.T) {
	history := []chat.Message{
		chat.NewText("old", false),
		chat.NewText("Hello! § How are you?", true),
		chat.NewText("Fine", false),
	}
	req := ChatPrompt{SpeakerName: "Aria", Language: "English"}.Request(history, 2)
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != chat.RoleAssistant || req.Messages[0].Content != "Hello! § How are you?" {
		t.Fatalf("first message = %+v", req.Messages[0])
	}

	review := ReviewPrompt{Language: "English", EvalLanguage: "Spanish", Evaluation: "Good job"}.Request(history, 0)
	if review.Messages[1].Content != "Hello! How are you?" {
		t.Fatalf("review content = %q", review.Messages[1].Content)
	}
	if !strings.Contains(review.System, "You are a professional Spanish teacher.") {
		t.Fatalf("review system = %q", review.System)
	}
}
