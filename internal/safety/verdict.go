package safety

import (
	"maps"
	"slices"

	"github.com/MrWong99/hushgate/pkg/provider/moderation"
)

// Method records which stage produced a verdict.
type Method string

const (
	// MethodPattern means a local rule matched and no provider was called.
	MethodPattern Method = "pattern"

	// MethodProvider means provider scores crossed at least one threshold.
	MethodProvider Method = "provider"

	// MethodClean means nothing was flagged.
	MethodClean Method = "clean"
)

// Reasons reported for verdicts that are not built from category lists.
const (
	ReasonPatternPrefix = "Content matched custom pattern rules"
	ReasonProviderFlag  = "Moderation provider detected harmful context/intent"
	ReasonSafe          = "Content appears safe after full analysis"
	ReasonNoSpeech      = "No speech detected"
)

// Verdict is the outcome of moderating one piece of text.
//
// If any CustomFlags entry is true, Flagged is true. Reason is never empty
// for a verdict returned without error.
type Verdict struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason"`

	// CustomFlags holds the local pattern result for every rule category.
	CustomFlags map[moderation.Category]bool `json:"custom_flags"`

	// Categories holds the flag decision per category: the pattern hits on
	// the fast path, score >= threshold per configured category otherwise.
	Categories map[moderation.Category]bool `json:"categories"`

	// CategoryScores holds 1.0/0.0 for pattern categories on the fast path,
	// or every score returned by the provider.
	CategoryScores map[moderation.Category]float64 `json:"category_scores"`

	Method         Method `json:"detection_method"`
	ProviderCalled bool   `json:"provider_called"`
}

// FlaggedCategories returns the categories marked true, sorted.
func (v Verdict) FlaggedCategories() []moderation.Category {
	var out []moderation.Category
	for c, hit := range v.Categories {
		if hit {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

// Clone returns a deep copy so cached verdicts cannot be mutated by callers.
func (v Verdict) Clone() Verdict {
	v.CustomFlags = maps.Clone(v.CustomFlags)
	v.Categories = maps.Clone(v.Categories)
	v.CategoryScores = maps.Clone(v.CategoryScores)
	return v
}

// NoSpeechVerdict is returned for audio whose transcript is empty.
func NoSpeechVerdict() Verdict {
	return Verdict{
		Reason:         ReasonNoSpeech,
		CustomFlags:    map[moderation.Category]bool{},
		Categories:     map[moderation.Category]bool{},
		CategoryScores: map[moderation.Category]float64{},
		Method:         MethodClean,
	}
}
