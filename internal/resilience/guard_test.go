package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/hushgate/pkg/provider"
	"github.com/MrWong99/hushgate/pkg/provider/moderation"
	moderationmock "github.com/MrWong99/hushgate/pkg/provider/moderation/mock"
	"github.com/MrWong99/hushgate/pkg/provider/transcription"
	transcriptionmock "github.com/MrWong99/hushgate/pkg/provider/transcription/mock"
)

func TestGuard_NoLimiter(t *testing.T) {
	g := NewGuard("test", GuardConfig{})
	for i := 0; i < 100; i++ {
		if err := g.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}

func TestGuard_RateLimitHonoursDeadline(t *testing.T) {
	g := NewGuard("test", GuardConfig{RequestsPerSecond: 0.1, Burst: 1})

	if err := g.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := g.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if called {
		t.Fatal("fn must not run without a token")
	}
	if g.Breaker().State() != StateClosed {
		t.Fatal("limiter rejections must not count against the breaker")
	}
}

func TestModerationGuard_Passthrough(t *testing.T) {
	p := &moderationmock.Provider{Scores: moderation.Scores{moderation.CategoryHate: 0.2}}
	mg := NewModerationGuard(p, "mock", GuardConfig{})

	scores, err := mg.Classify(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if scores[moderation.CategoryHate] != 0.2 {
		t.Fatalf("scores = %v", scores)
	}
	if p.CallCount() != 1 {
		t.Fatalf("CallCount = %d, want 1", p.CallCount())
	}
}

func TestModerationGuard_OpenBreakerIsProviderError(t *testing.T) {
	p := &moderationmock.Provider{ClassifyErr: errTest}
	mg := NewModerationGuard(p, "mock", GuardConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})

	for i := 0; i < 2; i++ {
		_, err := mg.Classify(context.Background(), "x")
		var pe *provider.Error
		if !errors.As(err, &pe) || pe.Provider != "mock" || pe.Op != "classify" {
			t.Fatalf("call %d: err = %v, want provider.Error for mock/classify", i, err)
		}
	}

	_, err := mg.Classify(context.Background(), "x")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if !provider.IsProviderError(err) {
		t.Fatalf("err = %v, want provider.Error", err)
	}
	if p.CallCount() != 2 {
		t.Fatalf("CallCount = %d, want 2 (open breaker must short-circuit)", p.CallCount())
	}
	if mg.Breaker().State() != StateOpen {
		t.Fatalf("breaker = %v, want open", mg.Breaker().State())
	}
}

func TestTranscriptionFallback_FailsOver(t *testing.T) {
	primary := &transcriptionmock.Provider{
		TranscribeErr: &provider.Error{Provider: "openai", Op: "transcribe", Err: errTest},
	}
	secondary := &transcriptionmock.Provider{
		Result: transcription.Result{Transcript: "hello there"},
	}
	f := NewTranscriptionFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("whisper", secondary)

	res, err := f.Transcribe(context.Background(), transcription.Request{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Transcript != "hello there" {
		t.Fatalf("Transcript = %q", res.Transcript)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Fatalf("calls primary=%d secondary=%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
	if got := secondary.TranscribeCalls[0].Req.Language; got != "en" {
		t.Fatalf("request language = %q, want en", got)
	}
	if len(f.Breakers()) != 2 {
		t.Fatalf("Breakers() = %d, want 2", len(f.Breakers()))
	}
}

func TestTranscriptionFallback_AllFail(t *testing.T) {
	primary := &transcriptionmock.Provider{TranscribeErr: errTest}
	secondary := &transcriptionmock.Provider{
		TranscribeErr: &provider.Error{Provider: "whisper", Op: "transcribe", StatusCode: 503, Err: errTest},
	}
	f := NewTranscriptionFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("whisper", secondary)

	_, err := f.Transcribe(context.Background(), transcription.Request{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want provider.Error", err)
	}
	if pe.Provider != "whisper" || pe.StatusCode != 503 {
		t.Fatalf("provider error = %+v, want the last backend's error", pe)
	}
}

func TestTranscriptionFallback_PlainErrorIsWrapped(t *testing.T) {
	f := NewTranscriptionFallback(&transcriptionmock.Provider{TranscribeErr: errTest}, "openai", FallbackConfig{})

	_, err := f.Transcribe(context.Background(), transcription.Request{})
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Provider != "openai" || pe.Op != "transcribe" {
		t.Fatalf("err = %v, want provider.Error for openai/transcribe", err)
	}
}
