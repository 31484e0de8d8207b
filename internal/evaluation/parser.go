package evaluation

import (
	"regexp"
	"strings"
)

// Verdict markers. The tutor emits prose first and a single JSON verdict
// wrapped in these markers at the very end of the stream.
const (
	StartMarker = "[DATA]"
	EndMarker   = "[/DATA]"
)

var verdictPattern = regexp.MustCompile(`(?s)\[DATA\](.*?)\[/DATA\]`)

// StreamParser accumulates a tutor stream. Prose is everything before the
// first start marker; it is released incrementally as chunks arrive. A
// trailing fragment that could be the beginning of a start marker is held
// back until the next chunk disambiguates it, so markers split across chunk
// boundaries never leak into the prose.
type StreamParser struct {
	buf      strings.Builder
	emitted  int
	startIdx int // index of the start marker in buf, or -1
}

// NewStreamParser returns an empty parser.
func NewStreamParser() *StreamParser {
	return &StreamParser{startIdx: -1}
}

// Write appends chunk and returns the prose that became safe to show.
func (p *StreamParser) Write(chunk string) string {
	p.buf.WriteString(chunk)
	if p.startIdx >= 0 {
		return ""
	}

	s := p.buf.String()
	// A marker can only begin inside the held-back tail or the new chunk.
	from := max(0, p.emitted-len(StartMarker))
	if i := strings.Index(s[from:], StartMarker); i >= 0 {
		p.startIdx = from + i
		return p.release(s, p.startIdx)
	}
	return p.release(s, len(s)-partialMarkerSuffix(s, StartMarker))
}

// Flush releases any held-back prose at end of stream.
func (p *StreamParser) Flush() string {
	if p.startIdx >= 0 {
		return ""
	}
	s := p.buf.String()
	return p.release(s, len(s))
}

func (p *StreamParser) release(s string, upto int) string {
	if upto <= p.emitted {
		return ""
	}
	out := s[p.emitted:upto]
	p.emitted = upto
	return out
}

// Prose returns the human-readable part of everything received so far.
func (p *StreamParser) Prose() string {
	s := p.buf.String()
	if p.startIdx >= 0 {
		return strings.TrimSpace(s[:p.startIdx])
	}
	return strings.TrimSpace(s)
}

// Raw returns the full accumulated text.
func (p *StreamParser) Raw() string {
	return p.buf.String()
}

// VerdictJSON extracts the text between the markers. ok is false when the
// markers are missing or unbalanced.
func (p *StreamParser) VerdictJSON() (string, bool) {
	m := verdictPattern.FindStringSubmatch(p.buf.String())
	if m == nil {
		return "", false
	}
	return stripFences(m[1]), true
}

// partialMarkerSuffix returns the length of the longest suffix of s that is
// a proper prefix of marker.
func partialMarkerSuffix(s, marker string) int {
	for n := min(len(marker)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
