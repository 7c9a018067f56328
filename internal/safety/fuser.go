// Package safety implements the two-stage moderation decision: local pattern
// rules first, external category scores second.
//
// # Decision
//
//  1. The [pattern.Matcher] scans the text. Any hit flags the text
//     immediately and no provider is contacted.
//  2. Otherwise the [moderation.Provider] is called exactly once and every
//     configured category is compared against its threshold (score >=
//     threshold flags).
//  3. A provider failure yields a [*ModerationError]. No verdict is produced,
//     so a failure can never be mistaken for safe content.
//
// The rule set and the threshold table are fixed at construction and only
// read afterwards, so a [Fuser] is safe for concurrent use.
package safety

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hushgate/internal/observe"
	"github.com/MrWong99/hushgate/internal/safety/pattern"
	"github.com/MrWong99/hushgate/pkg/provider"
	"github.com/MrWong99/hushgate/pkg/provider/moderation"
)

// defaultProviderName labels metrics and errors when no name is configured.
const defaultProviderName = "moderation"

// Fuser combines pattern hits and provider scores into one [Verdict].
type Fuser struct {
	matcher      *pattern.Matcher
	provider     moderation.Provider
	providerName string
	thresholds   Thresholds
	metrics      *observe.Metrics
}

// Option is a functional option for configuring a Fuser during construction.
type Option func(*Fuser)

// WithMetrics records verdicts and provider latency on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Fuser) { f.metrics = m }
}

// WithProviderName sets the name used in metrics and in wrapped errors.
func WithProviderName(name string) Option {
	return func(f *Fuser) { f.providerName = name }
}

// NewFuser constructs a Fuser. matcher may be nil, in which case every text
// goes to the provider.
func NewFuser(matcher *pattern.Matcher, p moderation.Provider, th Thresholds, opts ...Option) (*Fuser, error) {
	if p == nil {
		return nil, fmt.Errorf("safety: moderation provider is required")
	}
	if err := th.Validate(); err != nil {
		return nil, err
	}
	f := &Fuser{
		matcher:      matcher,
		provider:     p,
		providerName: defaultProviderName,
		thresholds:   th,
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f, nil
}

// Thresholds returns the table the fuser decides with.
func (f *Fuser) Thresholds() Thresholds { return f.thresholds }

// Evaluate moderates text.
//
// Empty or whitespace-only text is rejected with [ErrEmptyText] before any
// work. A provider failure returns a [*ModerationError] wrapping a
// [*provider.Error].
func (f *Fuser) Evaluate(ctx context.Context, text string) (v Verdict, err error) {
	if strings.TrimSpace(text) == "" {
		return Verdict{}, ErrEmptyText
	}

	ctx, span := observe.StartSpan(ctx, "safety.Evaluate",
		trace.WithAttributes(attribute.Int("text.length", len(text))))
	defer func() {
		if err == nil {
			span.SetAttributes(
				attribute.String("verdict.method", string(v.Method)),
				attribute.Bool("verdict.flagged", v.Flagged),
			)
		}
		observe.EndSpan(span, err)
	}()

	hits := f.matcher.Scan(text)
	if matched := pattern.Matched(hits); len(matched) > 0 {
		for _, c := range matched {
			f.metrics.RecordPatternHit(ctx, string(c))
		}
		v = patternVerdict(hits, matched)
		f.metrics.RecordVerdict(ctx, string(v.Method), v.Flagged)
		observe.Logger(ctx).Debug("pattern rules flagged text", "categories", matched)
		return v, nil
	}

	scores, err := f.classify(ctx, text)
	if err != nil {
		observe.Logger(ctx).Warn("moderation provider failed", "provider", f.providerName, "err", err)
		return Verdict{}, &ModerationError{Err: err}
	}

	v = f.scoreVerdict(hits, scores)
	f.metrics.RecordVerdict(ctx, string(v.Method), v.Flagged)
	return v, nil
}

func (f *Fuser) classify(ctx context.Context, text string) (moderation.Scores, error) {
	ctx, span := observe.StartSpan(ctx, "moderation.Classify",
		trace.WithAttributes(attribute.String("provider", f.providerName)))
	start := time.Now()
	scores, err := f.provider.Classify(ctx, text)
	if err == nil {
		err = checkScores(scores)
	}
	f.metrics.ModerationDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)

	if err != nil {
		f.metrics.RecordProviderRequest(ctx, f.providerName, "moderation", "error")
		f.metrics.RecordProviderError(ctx, f.providerName, "moderation")
		return nil, provider.Wrap(f.providerName, "classify", err)
	}
	f.metrics.RecordProviderRequest(ctx, f.providerName, "moderation", "ok")
	return scores, nil
}

func checkScores(scores moderation.Scores) error {
	for c, s := range scores {
		if math.IsNaN(s) || s < 0 || s > 1 {
			return fmt.Errorf("%w: %s=%v", ErrMalformedScores, c, s)
		}
	}
	return nil
}

func patternVerdict(hits map[moderation.Category]bool, matched []moderation.Category) Verdict {
	v := Verdict{
		Flagged:        true,
		CustomFlags:    make(map[moderation.Category]bool, len(hits)),
		Categories:     make(map[moderation.Category]bool, len(hits)),
		CategoryScores: make(map[moderation.Category]float64, len(hits)),
		Method:         MethodPattern,
	}
	for c, hit := range hits {
		v.CustomFlags[c] = hit
		v.Categories[c] = hit
		if hit {
			v.CategoryScores[c] = 1
		} else {
			v.CategoryScores[c] = 0
		}
	}
	reasons := make([]string, len(matched))
	for i, c := range matched {
		reasons[i] = pattern.Describe(c)
	}
	v.Reason = ReasonPatternPrefix + ": " + strings.Join(reasons, "; ")
	return v
}

func (f *Fuser) scoreVerdict(hits map[moderation.Category]bool, scores moderation.Scores) Verdict {
	v := Verdict{
		CustomFlags:    make(map[moderation.Category]bool, len(hits)),
		Categories:     make(map[moderation.Category]bool),
		CategoryScores: make(map[moderation.Category]float64, len(scores)),
		ProviderCalled: true,
		Method:         MethodClean,
		Reason:         ReasonSafe,
	}
	for c := range hits {
		v.CustomFlags[c] = false
	}
	for c, s := range scores {
		v.CategoryScores[c] = s
	}
	for _, c := range f.thresholds.Categories() {
		v.Categories[c] = false
	}

	exceeded := f.thresholds.Exceeded(scores)
	if len(exceeded) == 0 {
		return v
	}
	parts := make([]string, len(exceeded))
	for i, c := range exceeded {
		v.Categories[c] = true
		parts[i] = fmt.Sprintf("%s (%.1f%%)", c, scores[c]*100)
	}
	v.Flagged = true
	v.Method = MethodProvider
	v.Reason = ReasonProviderFlag + ": " + strings.Join(parts, ", ")
	return v
}
