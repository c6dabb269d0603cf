package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/antoniostano/lingopal/internal/language"
)

// Record is the persisted form of a message. Audio is never persisted.
type Record struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	IsAI bool   `json:"is_ai"`
}

// Record returns the plain-data form, keeping pause markers.
func (m Message) Record() Record {
	return Record{ID: m.ID, Text: m.ModelText, IsAI: m.FromAI}
}

// FromRecord restores a text message, preserving its identity.
func FromRecord(r Record) Message {
	m := NewText(r.Text, r.IsAI)
	if r.ID != "" {
		m.ID = r.ID
	}
	return m
}

// SerializeConversation encodes messages as a JSON array of records.
func SerializeConversation(msgs []Message) ([]byte, error) {
	records := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, m.Record())
	}
	return json.Marshal(records)
}

// DeserializeConversation decodes a JSON array of records.
func DeserializeConversation(data []byte) ([]Message, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	msgs := make([]Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, FromRecord(r))
	}
	return msgs, nil
}

// ReviewStats summarizes the learner's side of a conversation.
type ReviewStats struct {
	Rounds    int  `json:"rounds"`
	WordsUsed int  `json:"words_used"`
	ByChar    bool `json:"counted_by_character"`
}

// Stats counts learner turns and the words (or characters, for
// character-based languages) they used.
func Stats(msgs []Message, lang language.Language) ReviewStats {
	stats := ReviewStats{ByChar: lang.CharacterBased}
	for _, m := range msgs {
		if m.FromAI {
			continue
		}
		stats.Rounds++
		if lang.CharacterBased {
			stats.WordsUsed += utf8.RuneCountInString(m.Text)
		} else {
			stats.WordsUsed += len(strings.Fields(m.Text))
		}
	}
	return stats
}
