package voice

import (
	"strings"

	"github.com/antoniostano/lingopal/internal/chat"
)

// PauseSegmenter cuts a streamed reply into synthesis chunks at pause markers.
// A chunk is only emitted once the marker that ends it has arrived, so text
// after the latest marker is held until more markers or Finalize.
type PauseSegmenter struct {
	text      strings.Builder
	committed int
}

func NewPauseSegmenter() *PauseSegmenter {
	return &PauseSegmenter{}
}

// Push appends a stream delta and returns the chunks it completed, in order.
func (p *PauseSegmenter) Push(delta string) []string {
	if delta == "" {
		return nil
	}
	p.text.WriteString(delta)
	text := p.text.String()

	var out []string
	for {
		i := strings.Index(text[p.committed:], chat.PauseToken)
		if i < 0 {
			return out
		}
		out = append(out, normalizeSegment(text[p.committed:p.committed+i]))
		p.committed += i + len(chat.PauseToken)
	}
}

// Finalize returns the text after the last marker. Further calls return "".
func (p *PauseSegmenter) Finalize() string {
	text := p.text.String()
	rest := text[p.committed:]
	p.committed = len(text)
	return normalizeSegment(rest)
}

// Text returns everything pushed so far, markers included.
func (p *PauseSegmenter) Text() string {
	return p.text.String()
}

func normalizeSegment(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
