package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/antoniostano/lingopal/internal/chat"
	"github.com/antoniostano/lingopal/internal/voice"
)

func TestTranscriptPrinterPrintsFinishedMessagesOnce(t *testing.T) {
	var out bytes.Buffer
	p := newTranscriptPrinter(&out)

	learner := chat.NewText("hola", false)
	pending := chat.NewStreaming("Hola §", true)
	p.observe(voice.PracticeState{Flags: voice.Flags{Recording: true}})
	p.observe(voice.PracticeState{Messages: []chat.Message{learner, pending}})

	reply := chat.NewText("Hola § ¿Qué tal?", true)
	reply.ID = pending.ID
	p.observe(voice.PracticeState{Messages: []chat.Message{learner, reply}})
	p.observe(voice.PracticeState{Messages: []chat.Message{learner, reply}, Notice: "speech service unavailable"})

	want := strings.Join([]string{
		"[recording, press Enter to send]",
		"you: hola",
		"partner: Hola ¿Qué tal?",
		"! speech service unavailable",
		"",
	}, "\n")
	if got := out.String(); got != want {
		t.Fatalf("output =\n%q\nwant\n%q", got, want)
	}
}
