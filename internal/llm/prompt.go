package llm

import (
	"fmt"
	"strings"

	"github.com/antoniostano/lingopal/internal/chat"
)

// ChatPrompt describes the conversation partner the model plays.
type ChatPrompt struct {
	SpeakerName string
	Language    string
	Level       string
	SelfIntro   string
	Scenario    string
}

// System renders the system prompt for a practice conversation.
func (p ChatPrompt) System() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a native %s speaker. Your task is to talk with the user.\n\n", p.SpeakerName, p.Language)

	b.WriteString("## Scenario\n")
	b.WriteString(strings.TrimSpace(p.Scenario))
	if intro := strings.TrimSpace(p.SelfIntro); intro != "" {
		b.WriteString("\n\n## User's Info\n")
		b.WriteString(intro)
	}

	b.WriteString("\n\n## Rules\n")
	fmt.Fprintf(&b, "- Use %s to communicate with the user.\n", p.Language)
	if level := strings.TrimSpace(p.Level); level != "" {
		fmt.Fprintf(&b, "- User's language skill is %s level. You should adjust your language accordingly.\n", level)
	}
	b.WriteString("- Talk in an informal tone as a friend.\n")
	b.WriteString("- Keep your response concise.\n")
	b.WriteString("- Adhere to the scenario if it is defined.\n")
	b.WriteString("- Ask a question or change the subject if the conversation is not going well.\n")
	b.WriteString("- Ask one question at a time.\n\n")

	b.WriteString("## Response Format\n")
	fmt.Fprintf(&b, "- Add a special token %s where appropriate to simulate a pause in human conversations.\n", chat.PauseToken)
	b.WriteString("### Example\n")
	fmt.Fprintf(&b, "Hey, man! I haven't seen you for a while. %[1]s I've been working on a project lately, which is getting really fun! %[1]s How about you?", chat.PauseToken)
	return b.String()
}

// Request builds a chat request from the last window messages of history.
func (p ChatPrompt) Request(history []chat.Message, window int) Request {
	return Request{
		System:      p.System(),
		Messages:    chat.ModelHistory(history, window, false),
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// ReviewPrompt answers learner questions about an evaluation of a finished chat.
type ReviewPrompt struct {
	Language     string
	EvalLanguage string
	Evaluation   string
}

func (p ReviewPrompt) System() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional %s teacher.\n", p.EvalLanguage)
	fmt.Fprintf(&b, "You are given an evaluation of a user's performance based on a previous chat in %[1]s. The user is learning %[1]s.\n", p.EvalLanguage)
	fmt.Fprintf(&b, "Your task is to answer user's questions regarding the evaluation and %s in general.\n\n", p.EvalLanguage)
	b.WriteString("## Rules\n")
	fmt.Fprintf(&b, "- Respond in %s.\n", p.Language)
	fmt.Fprintf(&b, "- When asked questions unrelated to the evaluation or %s, simply respond that you can't answer.\n\n", p.EvalLanguage)
	b.WriteString("## Evaluation\n")
	b.WriteString(strings.TrimSpace(p.Evaluation))
	return b.String()
}

// Request converts history with display text so pause markers are not echoed
// to the reviewing model.
func (p ReviewPrompt) Request(history []chat.Message, window int) Request {
	return Request{
		System:      p.System(),
		Messages:    chat.ModelHistory(history, window, true),
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}
