// Package moderation defines the Provider interface for text moderation score
// backends.
//
// A moderation provider maps a piece of text to per-category probability
// scores in [0, 1]. It makes no flag decision of its own that the gateway
// relies on: thresholds are applied by the caller so that the same provider
// can serve deployments with different risk tolerances.
//
// Implementations must be safe for concurrent use.
package moderation

import (
	"context"
	"strings"
)

// Category names a moderation class. Provider-specific spellings are mapped to
// the canonical snake_case form by [NormalizeCategory].
type Category string

// Score categories reported by external providers.
const (
	CategorySexual                Category = "sexual"
	CategorySexualMinors          Category = "sexual_minors"
	CategoryHarassment            Category = "harassment"
	CategoryHarassmentThreatening Category = "harassment_threatening"
	CategoryHate                  Category = "hate"
	CategoryHateThreatening       Category = "hate_threatening"
	CategoryViolence              Category = "violence"
	CategoryViolenceGraphic       Category = "violence_graphic"
	CategorySelfHarm              Category = "self_harm"
	CategorySelfHarmIntent        Category = "self_harm_intent"
	CategorySelfHarmInstructions  Category = "self_harm_instructions"
	CategoryIllicit               Category = "illicit"
	CategoryIllicitViolent        Category = "illicit_violent"
)

// Dating-specific categories detected by local pattern rules.
const (
	CategoryExplicitContent   Category = "explicit_content"
	CategorySuggestiveContext Category = "suggestive_context"
	CategoryBodyShaming       Category = "body_shaming"
	CategoryEmotionalAbuse    Category = "emotional_abuse"
	CategoryRacismHateSpeech  Category = "racism_hate_speech"
	CategoryTransactional     Category = "transactional_dating"
	CategorySexismTransphobia Category = "sexism_misogyny_transphobia"
)

// NormalizeCategory maps a provider category key to its canonical form:
// lower case with '/', '-' and spaces replaced by '_'. For example
// "sexual/minors" becomes "sexual_minors" and "self-harm/intent" becomes
// "self_harm_intent".
func NormalizeCategory(name string) Category {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer("/", "_", "-", "_", " ", "_").Replace(name)
	return Category(name)
}

// Scores maps categories to probabilities in [0, 1].
type Scores map[Category]float64

// Clone returns an independent copy of s.
func (s Scores) Clone() Scores {
	if s == nil {
		return nil
	}
	out := make(Scores, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Provider is the abstraction over any moderation score backend.
type Provider interface {
	// Classify scores text against every category the backend supports.
	//
	// Failures caused by the remote service (network errors, timeouts, non-2xx
	// responses, malformed bodies) are returned as *provider.Error. Classify
	// never returns partial scores together with a nil error.
	Classify(ctx context.Context, text string) (Scores, error)
}
