package transcription

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ResponseFormat selects the output shape of a rendered transcript.
type ResponseFormat string

const (
	FormatText        ResponseFormat = "text"
	FormatJSON        ResponseFormat = "json"
	FormatVerboseJSON ResponseFormat = "verbose_json"
	FormatSRT         ResponseFormat = "srt"
	FormatVTT         ResponseFormat = "vtt"
)

// IsValid reports whether f is a recognised response format.
func (f ResponseFormat) IsValid() bool {
	switch f {
	case FormatText, FormatJSON, FormatVerboseJSON, FormatSRT, FormatVTT:
		return true
	}
	return false
}

// Render formats r in the requested shape. An empty format renders JSON.
func Render(r Result, f ResponseFormat) (string, error) {
	switch f {
	case FormatText:
		return r.Transcript, nil
	case FormatJSON, "":
		b, err := json.Marshal(struct {
			Text string `json:"text"`
		}{r.Transcript})
		return string(b), err
	case FormatVerboseJSON:
		return renderVerbose(r)
	case FormatSRT:
		return renderCues(r, false), nil
	case FormatVTT:
		return renderCues(r, true), nil
	}
	return "", fmt.Errorf("transcription: unknown response format %q", f)
}

type verboseSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func renderVerbose(r Result) (string, error) {
	segs := make([]verboseSegment, len(r.Segments))
	for i, s := range r.Segments {
		segs[i] = verboseSegment{ID: s.ID, Start: s.Start.Seconds(), End: s.End.Seconds(), Text: s.Text}
	}
	b, err := json.Marshal(struct {
		Text       string           `json:"text"`
		Language   string           `json:"language,omitempty"`
		Duration   float64          `json:"duration"`
		Confidence float64          `json:"confidence"`
		Segments   []verboseSegment `json:"segments"`
	}{r.Transcript, r.Language, r.Duration.Seconds(), r.Confidence, segs})
	return string(b), err
}

// renderCues writes SRT, or WebVTT when vtt is set. Without segments the
// whole transcript becomes a single cue.
func renderCues(r Result, vtt bool) string {
	segs := r.Segments
	if len(segs) == 0 && strings.TrimSpace(r.Transcript) != "" {
		segs = []Segment{{Start: 0, End: r.Duration, Text: r.Transcript}}
	}

	var b strings.Builder
	if vtt {
		b.WriteString("WEBVTT\n\n")
	}
	for i, s := range segs {
		if !vtt {
			fmt.Fprintf(&b, "%d\n", i+1)
		}
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			cueTimestamp(s.Start, vtt), cueTimestamp(s.End, vtt), strings.TrimSpace(s.Text))
	}
	return b.String()
}

// cueTimestamp renders d as HH:MM:SS,mmm (SRT) or HH:MM:SS.mmm (WebVTT).
func cueTimestamp(d time.Duration, vtt bool) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	sep := ","
	if vtt {
		sep = "."
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, sep, ms%1000)
}
