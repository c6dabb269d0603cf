package policy

import (
	"regexp"

	"github.com/antoniostano/lingopal/internal/chat"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card before phone, or card numbers end up as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactConversation masks PII in learner messages before they are persisted.
// Partner messages are model output and kept verbatim. It returns a copy and
// the number of records that changed.
func RedactConversation(records []chat.Record) ([]chat.Record, int) {
	out := make([]chat.Record, len(records))
	changed := 0
	for i, r := range records {
		if !r.IsAI {
			var did bool
			r.Text, did = RedactPII(r.Text)
			if did {
				changed++
			}
		}
		out[i] = r
	}
	return out, changed
}
