package safety_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/hushgate/internal/observe"
	"github.com/MrWong99/hushgate/internal/safety"
	"github.com/MrWong99/hushgate/internal/safety/pattern"
	"github.com/MrWong99/hushgate/pkg/provider"
	"github.com/MrWong99/hushgate/pkg/provider/moderation"
	"github.com/MrWong99/hushgate/pkg/provider/moderation/mock"
)

func newFuser(t *testing.T, p moderation.Provider, th safety.Thresholds) *safety.Fuser {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f, err := safety.NewFuser(pattern.Default(), p, th, safety.WithMetrics(met), safety.WithProviderName("mock"))
	if err != nil {
		t.Fatalf("NewFuser: %v", err)
	}
	return f
}

// lowScores returns scores well below every default threshold.
func lowScores() moderation.Scores {
	return moderation.Scores{
		moderation.CategorySexual:       0.001,
		moderation.CategorySexualMinors: 0.0001,
		moderation.CategoryHarassment:   0.002,
		moderation.CategoryHate:         0.0005,
		moderation.CategoryViolence:     0.003,
	}
}

func TestEvaluate_PatternHitSkipsProvider(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{ClassifyErr: errors.New("must not be called")}
	f := newFuser(t, p, safety.DefaultThresholds())

	v, err := f.Evaluate(context.Background(), "You are worthless and ugly")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Flagged {
		t.Fatal("expected flagged verdict")
	}
	if p.CallCount() != 0 {
		t.Errorf("provider called %d times, want 0", p.CallCount())
	}
	if v.Method != safety.MethodPattern || v.ProviderCalled {
		t.Errorf("method = %q providerCalled = %v", v.Method, v.ProviderCalled)
	}
	if !strings.HasPrefix(v.Reason, safety.ReasonPatternPrefix+": ") {
		t.Errorf("reason = %q, want %q followed by the rule descriptions", v.Reason, safety.ReasonPatternPrefix+": ")
	}
	for _, c := range []moderation.Category{moderation.CategoryBodyShaming, moderation.CategoryEmotionalAbuse} {
		if !v.CustomFlags[c] || !v.Categories[c] {
			t.Errorf("category %s not flagged: custom=%v categories=%v", c, v.CustomFlags[c], v.Categories[c])
		}
		if v.CategoryScores[c] != 1 {
			t.Errorf("score[%s] = %v, want 1", c, v.CategoryScores[c])
		}
	}
	if !strings.Contains(v.Reason, "Body shaming") || !strings.Contains(v.Reason, "; Emotional abuse") {
		t.Errorf("reason %q does not list both rule descriptions", v.Reason)
	}
	if v.CustomFlags[moderation.CategoryTransactional] || v.CategoryScores[moderation.CategoryTransactional] != 0 {
		t.Error("unmatched category reported as hit")
	}
}

func TestEvaluate_SafeText(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Scores: lowScores()}
	f := newFuser(t, p, safety.DefaultThresholds())

	v, err := f.Evaluate(context.Background(), "Hello, how are you?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", p.CallCount())
	}
	if v.Flagged {
		t.Error("expected safe verdict")
	}
	if v.Reason != "Content appears safe after full analysis" {
		t.Errorf("reason = %q", v.Reason)
	}
	if v.Method != safety.MethodClean || !v.ProviderCalled {
		t.Errorf("method = %q providerCalled = %v", v.Method, v.ProviderCalled)
	}
	for c, hit := range v.CustomFlags {
		if hit {
			t.Errorf("custom flag %s set on provider path", c)
		}
	}
	if v.CategoryScores[moderation.CategoryViolence] != 0.003 {
		t.Errorf("provider scores not carried through: %v", v.CategoryScores)
	}
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	t.Parallel()
	th := safety.DefaultThresholds()
	hate, _ := th.Get(moderation.CategoryHate)

	tests := []struct {
		name  string
		score float64
		want  bool
	}{
		{"below", math.Nextafter(hate, 0), false},
		{"equal", hate, true},
		{"above", hate + 0.1, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			scores := lowScores()
			scores[moderation.CategoryHate] = tc.score
			f := newFuser(t, &mock.Provider{Scores: scores}, th)

			v, err := f.Evaluate(context.Background(), "Nice to meet you")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Flagged != tc.want || v.Categories[moderation.CategoryHate] != tc.want {
				t.Errorf("score %v vs threshold %v: flagged=%v, want %v", tc.score, hate, v.Flagged, tc.want)
			}
		})
	}
}

func TestEvaluate_MinorsUseStrictestThreshold(t *testing.T) {
	t.Parallel()
	th, err := safety.NewThresholds(safety.LevelLenient, nil)
	if err != nil {
		t.Fatalf("NewThresholds: %v", err)
	}
	scores := lowScores()
	scores[moderation.CategorySexualMinors] = 0.02
	f := newFuser(t, &mock.Provider{Scores: scores}, th)

	v, err := f.Evaluate(context.Background(), "Nice to meet you")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Flagged || !v.Categories[moderation.CategorySexualMinors] {
		t.Fatalf("sexual_minors 0.02 not flagged: %+v", v)
	}
	if v.Method != safety.MethodProvider {
		t.Errorf("method = %q, want provider", v.Method)
	}
	if !strings.Contains(v.Reason, "sexual_minors (2.0%)") {
		t.Errorf("reason %q does not name sexual_minors", v.Reason)
	}
}

func TestEvaluate_ProviderFlagIgnored(t *testing.T) {
	t.Parallel()
	// A category outside the threshold table never flags, whatever its score.
	scores := lowScores()
	scores[moderation.CategorySelfHarm] = 0.99
	f := newFuser(t, &mock.Provider{Scores: scores}, safety.DefaultThresholds())

	v, err := f.Evaluate(context.Background(), "Nice to meet you")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Flagged {
		t.Errorf("unconfigured category flagged: %+v", v)
	}
	if v.CategoryScores[moderation.CategorySelfHarm] != 0.99 {
		t.Error("unconfigured score dropped from category_scores")
	}
}

func TestEvaluate_ProviderError(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset")
	p := &mock.Provider{ClassifyErr: cause}
	f := newFuser(t, p, safety.DefaultThresholds())

	v, err := f.Evaluate(context.Background(), "Hello, how are you?")
	var me *safety.ModerationError
	if !errors.As(err, &me) {
		t.Fatalf("expected *ModerationError, got %v", err)
	}
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("ModerationError does not wrap *provider.Error: %v", err)
	}
	if pe.Provider != "mock" || pe.Op != "classify" {
		t.Errorf("provider error = %+v", pe)
	}
	if !errors.Is(err, cause) {
		t.Error("cause lost from chain")
	}
	if v.Reason != "" || v.Flagged {
		t.Errorf("verdict returned alongside error: %+v", v)
	}
}

func TestEvaluate_MalformedScores(t *testing.T) {
	t.Parallel()
	for _, bad := range []float64{-0.1, 1.5, math.NaN()} {
		scores := lowScores()
		scores[moderation.CategoryHate] = bad
		f := newFuser(t, &mock.Provider{Scores: scores}, safety.DefaultThresholds())

		_, err := f.Evaluate(context.Background(), "Nice to meet you")
		if !safety.IsModerationError(err) || !errors.Is(err, safety.ErrMalformedScores) {
			t.Errorf("score %v: got %v, want malformed ModerationError", bad, err)
		}
	}
}

func TestEvaluate_EmptyText(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{}
	f := newFuser(t, p, safety.DefaultThresholds())

	for _, text := range []string{"", "   \n\t"} {
		if _, err := f.Evaluate(context.Background(), text); !errors.Is(err, safety.ErrEmptyText) {
			t.Errorf("Evaluate(%q) err = %v, want ErrEmptyText", text, err)
		}
	}
	if p.CallCount() != 0 {
		t.Errorf("provider called %d times for empty text", p.CallCount())
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Scores: lowScores()}
	f := newFuser(t, p, safety.DefaultThresholds())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text := "Hello, how are you?"
			if i%5 == 0 {
				text = "You are worthless and ugly"
			}
			if _, err := f.Evaluate(context.Background(), text); err != nil {
				t.Errorf("Evaluate: %v", err)
			}
		}()
	}
	wg.Wait()
	if p.CallCount() != 40 {
		t.Errorf("provider called %d times, want 40", p.CallCount())
	}
}

func TestNewFuser_Validation(t *testing.T) {
	if _, err := safety.NewFuser(nil, nil, safety.DefaultThresholds()); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := safety.NewFuser(nil, &mock.Provider{}, safety.Thresholds{}); err == nil {
		t.Error("expected error for empty thresholds")
	}
}

func TestEvaluate_NilMatcherAlwaysCallsProvider(t *testing.T) {
	p := &mock.Provider{Scores: lowScores()}
	f, err := safety.NewFuser(nil, p, safety.DefaultThresholds())
	if err != nil {
		t.Fatalf("NewFuser: %v", err)
	}
	if _, err := f.Evaluate(context.Background(), "You are worthless and ugly"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", p.CallCount())
	}
}

func TestVerdict_Clone(t *testing.T) {
	v := safety.Verdict{
		Flagged:        true,
		Categories:     map[moderation.Category]bool{moderation.CategoryHate: true},
		CategoryScores: map[moderation.Category]float64{moderation.CategoryHate: 0.5},
	}
	c := v.Clone()
	c.Categories[moderation.CategoryHate] = false
	c.CategoryScores[moderation.CategoryHate] = 0
	if !v.Categories[moderation.CategoryHate] || v.CategoryScores[moderation.CategoryHate] != 0.5 {
		t.Error("Clone shares maps with the original")
	}
	if got := v.FlaggedCategories(); len(got) != 1 || got[0] != moderation.CategoryHate {
		t.Errorf("FlaggedCategories = %v", got)
	}
}
