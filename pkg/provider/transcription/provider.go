// Package transcription defines the Provider interface for batch
// speech-to-text backends.
//
// A provider receives one complete voice note as canonical PCM and returns the
// recognised text with its duration, a confidence estimate in [0, 1], and,
// where the backend supports it, timed segments. Output shapes such as SRT or
// WebVTT are rendered locally from the segment data by [Render], so the
// response format requested by a client never changes what the backend is
// asked for.
//
// Implementations must be safe for concurrent use.
package transcription

import (
	"context"
	"math"
	"time"

	"github.com/MrWong99/hushgate/pkg/audio"
)

// DefaultConfidence is reported when the backend gives no usable
// per-segment likelihoods.
const DefaultConfidence = 0.85

// DefaultPrompt primes the recogniser for conversational dating-app speech.
const DefaultPrompt = "This is a conversation from a dating app. Include proper punctuation and capitalization."

// MaxPromptLength is the longest prompt accepted, in characters.
const MaxPromptLength = 224

// Request describes one transcription job.
type Request struct {
	// Audio is the voice note in canonical format.
	Audio audio.PCM

	// Language is an ISO 639-1 hint ("en", "de"). Empty means auto-detect.
	Language string

	// Prompt is optional context for the recogniser. Providers substitute
	// [DefaultPrompt] when it is empty.
	Prompt string

	// Temperature is the sampling temperature in [0, 1].
	Temperature float64
}

// Segment is a timed span of the transcript.
type Segment struct {
	ID    int           `json:"id"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`

	// AvgLogprob is the mean token log-probability of the segment, or 0 when
	// unknown.
	AvgLogprob float64 `json:"avg_logprob,omitempty"`
}

// Result is the outcome of a successful transcription. Results are values and
// are never mutated after being returned.
type Result struct {
	Transcript string        `json:"transcript"`
	Duration   time.Duration `json:"duration"`
	Confidence float64       `json:"confidence"`
	Language   string        `json:"language,omitempty"`
	Segments   []Segment     `json:"segments,omitempty"`
}

// DurationSeconds returns Duration as float seconds.
func (r Result) DurationSeconds() float64 { return r.Duration.Seconds() }

// Provider is the abstraction over any batch transcription backend.
type Provider interface {
	// Transcribe converts req.Audio to text. Remote failures are returned as
	// *provider.Error.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// ConfidenceFromSegments derives a confidence value from segment
// log-probabilities: the mean avg_logprob plus one, clamped to [0, 1]. It
// returns [DefaultConfidence] when no segment carries a log-probability.
func ConfidenceFromSegments(segs []Segment) float64 {
	var (
		sum float64
		n   int
	)
	for _, s := range segs {
		if s.AvgLogprob == 0 {
			continue
		}
		sum += s.AvgLogprob
		n++
	}
	if n == 0 {
		return DefaultConfidence
	}
	return math.Max(0, math.Min(1, sum/float64(n)+1))
}

// SecondsToDuration converts float seconds as reported by most backends.
func SecondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
