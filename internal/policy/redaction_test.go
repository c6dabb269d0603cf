package policy

import (
	"strings"
	"testing"

	"github.com/antoniostano/lingopal/internal/chat"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactConversationOnlyTouchesLearner(t *testing.T) {
	in := []chat.Record{
		{ID: "1", Text: "my mail is sam@example.com", IsAI: false},
		{ID: "2", Text: "Write to help@example.com §", IsAI: true},
		{ID: "3", Text: "nothing here", IsAI: false},
	}
	out, changed := RedactConversation(in)
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	if out[0].Text != "my mail is [REDACTED_EMAIL]" {
		t.Fatalf("learner text = %q", out[0].Text)
	}
	if out[1].Text != in[1].Text || out[2].Text != in[2].Text {
		t.Fatalf("unexpected edits: %+v", out)
	}
	if in[0].Text != "my mail is sam@example.com" {
		t.Fatalf("input mutated")
	}
}
