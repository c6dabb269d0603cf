package speech

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

const defaultStyle = "chat"

// BuildSSML wraps a request for the Azure neural voices.
func BuildSSML(req SynthesisRequest) string {
	locale := req.Locale
	if locale == "" {
		locale = "en-US"
	}
	style := req.Style
	if style == "" {
		style = defaultStyle
	}

	var text bytes.Buffer
	_ = xml.EscapeText(&text, []byte(strings.TrimSpace(req.Text)))

	var b strings.Builder
	fmt.Fprintf(&b, `<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="%s">`, attr(locale))
	fmt.Fprintf(&b, `<voice name="%s">`, attr(req.Voice))
	fmt.Fprintf(&b, `<mstts:express-as style="%s">`, attr(style))
	fmt.Fprintf(&b, `<prosody rate="%s">`, ratePercent(req.Rate))
	b.Write(text.Bytes())
	b.WriteString(`</prosody></mstts:express-as></voice></speak>`)
	return b.String()
}

// ratePercent maps a speed multiplier to a relative prosody rate. Zero means default speed.
func ratePercent(rate float64) string {
	if rate <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%+.0f%%", (rate-1)*100)
}

func attr(v string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(v))
	return b.String()
}
